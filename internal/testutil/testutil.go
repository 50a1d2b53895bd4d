// Package testutil provides shared test helpers: image fixtures, a quiet
// logger, a temporary manifest and a fake GitHub server.
package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/starford/octoscope/internal/assetstore"
	"github.com/starford/octoscope/internal/manifest"
)

// Logger returns a logger that only prints errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// PNG encodes a w×h opaque image.
func PNG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// TestDB creates a temporary manifest database that is closed on cleanup.
func TestDB(t *testing.T) *manifest.DB {
	t.Helper()
	db, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates an asset store in a temporary directory.
func TestStore(t *testing.T) *assetstore.Store {
	t.Helper()
	store, err := assetstore.New(filepath.Join(t.TempDir(), "assets"), Logger())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// GitHub is a fake API and avatar host. Users are served from
// /search/users, /users/{login} and /users/{login}/repos; avatars from
// /avatars/{login}.png.
type GitHub struct {
	*httptest.Server

	mu       sync.Mutex
	users    []string
	repos    map[string][]string
	searches []string
	gate     chan struct{}

	avatarHits atomic.Int64
	searchHits atomic.Int64
}

// NewGitHub starts a fake with the given logins.
func NewGitHub(t *testing.T, logins ...string) *GitHub {
	t.Helper()
	g := &GitHub{users: logins, repos: map[string][]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/search/users", g.search)
	mux.HandleFunc("/users/", g.user)
	mux.HandleFunc("/avatars/", g.avatar)
	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Server.Close)
	return g
}

// SetRepos sets the repository names returned for login.
func (g *GitHub) SetRepos(login string, names ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.repos[login] = names
}

// Block makes search requests wait until the returned func is called.
func (g *GitHub) Block() (release func()) {
	ch := make(chan struct{})
	g.mu.Lock()
	g.gate = ch
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Searches returns the q parameters received so far.
func (g *GitHub) Searches() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.searches...)
}

// AvatarHits counts avatar downloads.
func (g *GitHub) AvatarHits() int64 { return g.avatarHits.Load() }

// SearchHits counts search requests.
func (g *GitHub) SearchHits() int64 { return g.searchHits.Load() }

func (g *GitHub) userJSON(id int, login string) string {
	return fmt.Sprintf(`{"id":%d,"login":%q,"avatar_url":"%s/avatars/%s.png","url":"%s/users/%s","repos_url":"%s/users/%s/repos"}`,
		id, login, g.URL, login, g.URL, login, g.URL, login)
}

func (g *GitHub) search(w http.ResponseWriter, r *http.Request) {
	g.searchHits.Add(1)
	q := r.URL.Query().Get("q")
	g.mu.Lock()
	g.searches = append(g.searches, q)
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if q == "err" {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	var items []string
	for i, login := range g.users {
		if strings.Contains(strings.ToLower(login), strings.ToLower(q)) {
			items = append(items, g.userJSON(i+1, login))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"total_count":%d,"items":[%s]}`, len(items), strings.Join(items, ","))
}

func (g *GitHub) user(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/users/")
	login, tail, _ := strings.Cut(rest, "/")
	id := -1
	for i, u := range g.users {
		if u == login {
			id = i + 1
		}
	}
	if id < 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch tail {
	case "":
		fmt.Fprintf(w, `{"id":%d,"login":%q,"followers":%d,"following":2,"location":"Berlin","public_repos":%d}`,
			id, login, id*10, len(g.reposOf(login)))
	case "repos":
		names := g.reposOf(login)
		parts := make([]string, len(names))
		for i, n := range names {
			parts[i] = fmt.Sprintf(`{"id":%d,"name":%q,"watchers_count":%d,"forks_count":1}`, id*100+i, n, i)
		}
		fmt.Fprintf(w, "[%s]", strings.Join(parts, ","))
	default:
		http.NotFound(w, r)
	}
}

func (g *GitHub) reposOf(login string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.repos[login]
}

func (g *GitHub) avatar(w http.ResponseWriter, r *http.Request) {
	g.avatarHits.Add(1)
	if strings.HasSuffix(r.URL.Path, "/missing.png") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(pngBytes(100, 50))
}

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
