package internal

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/octoscope/internal/fetcher"
	"github.com/starford/octoscope/internal/testutil"
)

func TestHealthEndpoints(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	var readyErr error
	h := newHTTPHandler(api, func(context.Context) error { return readyErr })

	for _, tc := range []struct {
		path string
		want int
	}{
		{"/health/live", http.StatusOK},
		{"/health/ready", http.StatusOK},
		{"/api/anything", http.StatusTeapot},
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if w.Code != tc.want {
			t.Errorf("%s = %d, want %d", tc.path, w.Code, tc.want)
		}
	}

	readyErr = errors.New("db gone")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with failing check = %d, want 503", w.Code)
	}
}

func TestOpenCore(t *testing.T) {
	gh := testutil.NewGitHub(t, "octocat")
	dir := t.TempDir()

	cfg := NewDefaultConfig()
	cfg.Assets.Root = filepath.Join(dir, "assets")
	cfg.SQLite.Path = filepath.Join(dir, "manifest.db")
	cfg.GitHub.BaseURL = gh.URL
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	logger := testutil.Logger()
	c, err := openCore(cfg, logger)
	if err != nil {
		t.Fatalf("openCore: %v", err)
	}
	defer c.db.Close()

	if err := c.db.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
	users, err := c.github.SearchUsers(context.Background(), "oct")
	if err != nil || len(users) != 1 {
		t.Fatalf("search through core: %d, %v", len(users), err)
	}

	f := c.fetcher(cfg, logger)
	url, _ := users[0].String("avatar_url")
	a, err := f.Fetch(context.Background(), fetcher.Request{URL: url, Folder: "userImages", Name: "1"}, fetcher.Hooks{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if a.Height != cfg.Assets.DefaultHeight {
		t.Errorf("height = %d, want %d", a.Height, cfg.Assets.DefaultHeight)
	}
	if _, err := os.Stat(filepath.Join(cfg.Assets.Root, "userImages", "1.png")); err != nil {
		t.Errorf("asset not stored: %v", err)
	}
}

func TestOpenCore_ReconcilesMissingFiles(t *testing.T) {
	gh := testutil.NewGitHub(t)
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Assets.Root = filepath.Join(dir, "assets")
	cfg.SQLite.Path = filepath.Join(dir, "manifest.db")
	cfg.GitHub.BaseURL = gh.URL

	c, err := openCore(cfg, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	f := c.fetcher(cfg, testutil.Logger())
	if _, err := f.Fetch(context.Background(), fetcher.Request{URL: gh.URL + "/avatars/a.png", Folder: "userImages", Name: "7"}, fetcher.Hooks{}); err != nil {
		t.Fatal(err)
	}
	c.db.Close()

	if err := os.Remove(filepath.Join(cfg.Assets.Root, "userImages", "7.png")); err != nil {
		t.Fatal(err)
	}

	c, err = openCore(cfg, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	defer c.db.Close()
	st, err := c.db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Count != 0 {
		t.Errorf("manifest rows = %d after reconcile, want 0", st.Count)
	}
}

func TestRun_RequiresConfig(t *testing.T) {
	var buf bytes.Buffer
	err := Run(context.Background(), WithLogOutput(&buf))
	if err == nil || !strings.Contains(err.Error(), "config is required") {
		t.Errorf("err = %v", err)
	}
	if err := RunMCP(context.Background()); err == nil {
		t.Error("RunMCP without config should fail")
	}
}
