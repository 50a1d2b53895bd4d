package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/starford/octoscope/internal/assetcache"
	"github.com/starford/octoscope/internal/assetstore"
	"github.com/starford/octoscope/internal/checksum"
	"github.com/starford/octoscope/internal/fetcher"
	"github.com/starford/octoscope/internal/imaging"
	"github.com/starford/octoscope/internal/manifest"
	"github.com/starford/octoscope/internal/profile"
	"github.com/starford/octoscope/internal/record"
	"github.com/starford/octoscope/internal/search"
)

// DefaultFolder is the asset folder used when a request names none.
const DefaultFolder = "userImages"

// AvatarFetcher loads sized avatars. *fetcher.Fetcher satisfies it.
type AvatarFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request, hooks fetcher.Hooks) (*assetcache.CachedAsset, error)
}

// SearchDriver feeds query text to the search state machine.
type SearchDriver interface {
	OnQueryChanged(text string)
	Submit(text string)
	Snapshot() search.Snapshot
}

// Profiles loads user details. *profile.Service satisfies it.
type Profiles interface {
	Load(ctx context.Context, user record.Record) (*profile.Profile, error)
	Repos(ctx context.Context, reposURL, text string) (record.Set, error)
}

// Inventory lists what is on disk. *manifest.DB satisfies it.
type Inventory interface {
	List() ([]manifest.Entry, error)
	Stats() (manifest.Stats, error)
}

// MemoryStats reports memory tier counters. *assetcache.Cache satisfies it.
type MemoryStats interface {
	Stats() assetcache.Stats
}

// Deps are the components served by the API.
type Deps struct {
	Fetcher   AvatarFetcher
	Search    SearchDriver
	Profiles  Profiles
	Inventory Inventory
	Memory    MemoryStats
}

// Handler holds API route handlers.
type Handler struct {
	deps     Deps
	inFlight atomic.Int64
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// Avatar handles GET /api/avatars.
//
//	@Summary		Fetch an avatar scaled to a height
//	@Tags			avatars
//	@Produce		png
//	@Param			url		query	string	true	"Image URL"
//	@Param			folder	query	string	false	"Asset folder"	default(userImages)
//	@Param			name	query	string	false	"Asset name, derived from the URL when empty"
//	@Param			height	query	int		false	"Target height in pixels"
//	@Success		200
//	@Success		304
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/avatars [get]
func (h *Handler) Avatar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := fetcher.Request{URL: q.Get("url"), Folder: q.Get("folder"), Name: q.Get("name")}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'url' is required"))
		return
	}
	if req.Folder == "" {
		req.Folder = DefaultFolder
	}
	if req.Name == "" {
		req.Name = assetstore.NameFor(req.URL)
	}
	if err := (assetstore.Key{Folder: req.Folder, Name: req.Name}).Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if v := q.Get("height"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("height must be a positive integer"))
			return
		}
		req.TargetHeight = n
	}

	asset, err := h.deps.Fetcher.Fetch(r.Context(), req, fetcher.Hooks{
		OnStart: func() { h.inFlight.Add(1) },
		OnEnd:   func() { h.inFlight.Add(-1) },
	})
	if err != nil {
		fail(w, "fetch avatar", err, slog.String("url", req.URL))
		return
	}
	data, err := imaging.EncodePNG(asset.Image)
	if err != nil {
		fail(w, "encode avatar", err, slog.String("url", req.URL))
		return
	}

	etag := checksum.ETag(data)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if checksum.Matches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Query handles POST /api/search/query.
//
//	@Summary		Update the search text
//	@Tags			search
//	@Accept			json
//	@Produce		json
//	@Param			body	body		QueryRequest	true	"Current query text"
//	@Success		202		{object}	SearchSnapshot
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search/query [post]
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	h.deps.Search.OnQueryChanged(req.Text)
	writeJSON(w, http.StatusAccepted, h.deps.Search.Snapshot())
}

// Submit handles POST /api/search/submit.
//
//	@Summary		Search remotely for the full text
//	@Tags			search
//	@Accept			json
//	@Produce		json
//	@Param			body	body		QueryRequest	true	"Final query text"
//	@Success		202		{object}	SearchSnapshot
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search/submit [post]
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("text is required"))
		return
	}
	h.deps.Search.Submit(req.Text)
	writeJSON(w, http.StatusAccepted, h.deps.Search.Snapshot())
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (QueryRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return req, false
	}
	return req, true
}

// Search handles GET /api/search.
//
//	@Summary		Current search results
//	@Tags			search
//	@Produce		json
//	@Success		200	{object}	SearchSnapshot
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Search.Snapshot())
}

// Repos handles GET /api/users/repos.
//
//	@Summary		List a user's repositories, filtered by name
//	@Tags			users
//	@Produce		json
//	@Param			repos_url	query		string	true	"Repository list URL from a user record"
//	@Param			q			query		string	false	"Name filter, applied from three characters"
//	@Success		200			{object}	ReposResponse
//	@Failure		400			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/users/repos [get]
func (h *Handler) Repos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reposURL := q.Get("repos_url")
	if reposURL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'repos_url' is required"))
		return
	}
	repos, err := h.deps.Profiles.Repos(r.Context(), reposURL, q.Get("q"))
	if err != nil {
		fail(w, "list repos", err, slog.String("repos_url", reposURL))
		return
	}
	writeJSON(w, http.StatusOK, ReposResponse{Repos: repos, Total: len(repos)})
}

// Profile handles GET /api/users/profile.
//
//	@Summary		Load a user's details and repositories
//	@Tags			users
//	@Produce		json
//	@Param			url			query		string	true	"User detail URL"
//	@Param			repos_url	query		string	true	"Repository list URL"
//	@Success		200			{object}	profile.Profile
//	@Failure		400			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/users/profile [get]
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userURL, reposURL := q.Get("url"), q.Get("repos_url")
	if userURL == "" || reposURL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameters 'url' and 'repos_url' are required"))
		return
	}
	raw, _ := json.Marshal(map[string]string{"url": userURL, "repos_url": reposURL})
	user, err := record.Parse(raw)
	if err != nil {
		fail(w, "load profile", err)
		return
	}
	p, err := h.deps.Profiles.Load(r.Context(), user)
	if err != nil {
		fail(w, "load profile", err, slog.String("url", userURL))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Assets handles GET /api/assets.
//
//	@Summary		Describe the avatar cache
//	@Tags			avatars
//	@Produce		json
//	@Success		200	{object}	AssetsResponse
//	@Security		BearerAuth
//	@Router			/assets [get]
func (h *Handler) Assets(w http.ResponseWriter, r *http.Request) {
	resp := AssetsResponse{Assets: []manifest.Entry{}, InFlight: h.inFlight.Load()}
	if h.deps.Memory != nil {
		resp.Memory = h.deps.Memory.Stats()
	}
	if h.deps.Inventory != nil {
		entries, err := h.deps.Inventory.List()
		if err != nil {
			fail(w, "list assets", err)
			return
		}
		if entries != nil {
			resp.Assets = entries
		}
		if resp.Disk, err = h.deps.Inventory.Stats(); err != nil {
			fail(w, "asset stats", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
