package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(deps Deps, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/avatars", h.Avatar)
	r.Get("/assets", h.Assets)

	r.Post("/search/query", h.Query)
	r.Post("/search/submit", h.Submit)
	r.Get("/search", h.Search)

	r.Get("/users/repos", h.Repos)
	r.Get("/users/profile", h.Profile)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
