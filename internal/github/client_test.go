package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/starford/octoscope/internal/apperr"
	"github.com/starford/octoscope/internal/remote"
)

func testServer(t *testing.T) (*httptest.Server, *Client, *string) {
	t.Helper()
	var lastQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/search/users", func(w http.ResponseWriter, r *http.Request) {
		lastQuery = r.URL.Query().Get("q")
		if lastQuery == "bad" {
			_, _ = w.Write([]byte(`{"total_count":0}`))
			return
		}
		_, _ = w.Write([]byte(`{"total_count":1,"items":[{"id":1,"login":"abcd"}]}`))
	})
	mux.HandleFunc("/users/abcd", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":1,"login":"abcd","followers":3}`))
	})
	mux.HandleFunc("/users/abcd/repos", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":10,"name":"dotfiles"},{"id":11,"name":"octoscope"}]`))
	})
	mux.HandleFunc("/users/array", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	rc := remote.NewClient(remote.Config{Header: Headers("")})
	return srv, NewClient(srv.URL+"/", rc), &lastQuery
}

func TestSearchUsers(t *testing.T) {
	_, c, q := testServer(t)
	set, err := c.SearchUsers(context.Background(), "a b")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if *q != "a b" {
		t.Errorf("query = %q, want escaped round trip", *q)
	}
	if len(set) != 1 {
		t.Fatalf("len = %d, want 1", len(set))
	}
	if login, _ := set[0].String("login"); login != "abcd" {
		t.Errorf("login = %q", login)
	}
}

func TestSearchUsers_MissingItems(t *testing.T) {
	_, c, _ := testServer(t)
	_, err := c.SearchUsers(context.Background(), "bad")
	if !errors.Is(err, apperr.ErrDecode) {
		t.Fatalf("err = %v, want decode", err)
	}
}

func TestUserAndRepos(t *testing.T) {
	srv, c, _ := testServer(t)

	u, err := c.User(context.Background(), srv.URL+"/users/abcd")
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if n, _ := u.Text("followers"); n != "3" {
		t.Errorf("followers = %q", n)
	}

	repos, err := c.Repos(context.Background(), srv.URL+"/users/abcd/repos")
	if err != nil {
		t.Fatalf("Repos: %v", err)
	}
	if got := repos.Field("name"); len(got) != 2 || got[1] != "octoscope" {
		t.Errorf("repos = %v", got)
	}

	if _, err := c.User(context.Background(), srv.URL+"/users/array"); !errors.Is(err, apperr.ErrDecode) {
		t.Errorf("array user: err = %v, want decode", err)
	}
	if _, err := c.Repos(context.Background(), srv.URL+"/users/abcd"); !errors.Is(err, apperr.ErrDecode) {
		t.Errorf("object repos: err = %v, want decode", err)
	}
	if _, err := c.User(context.Background(), srv.URL+"/nope"); !errors.Is(err, apperr.ErrHTTPStatus) {
		t.Errorf("404 user: err = %v, want status", err)
	}
}

func TestHeaders(t *testing.T) {
	h := Headers("tok")
	if h.Get("Authorization") != "Bearer tok" {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
	if Headers("").Get("Authorization") != "" {
		t.Error("no token should send no Authorization header")
	}
}

func TestUserAndRepos_RefuseOtherHosts(t *testing.T) {
	var hits atomic.Int64
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(other.Close)

	_, c, _ := testServer(t)
	for _, u := range []string{
		other.URL + "/users/abcd/repos",
		"ftp://" + strings.TrimPrefix(other.URL, "http://") + "/x",
		"/users/abcd/repos",
		"://bad",
	} {
		if _, err := c.Repos(context.Background(), u); !errors.Is(err, apperr.ErrConfig) {
			t.Errorf("Repos(%q): err = %v, want config", u, err)
		}
		if _, err := c.User(context.Background(), u); !errors.Is(err, apperr.ErrConfig) {
			t.Errorf("User(%q): err = %v, want config", u, err)
		}
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("other host received %d requests", n)
	}
}
