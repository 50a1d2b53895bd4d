package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/octoscope/internal/apperr"
	"github.com/starford/octoscope/internal/github"
	"github.com/starford/octoscope/internal/record"
	"github.com/starford/octoscope/internal/remote"
	"github.com/starford/octoscope/internal/testutil"
)

func newService(t *testing.T) (*Service, *testutil.GitHub) {
	t.Helper()
	gh := testutil.NewGitHub(t, "octocat", "torvalds")
	gh.SetRepos("octocat", "hello-world", "Spoon-Knife", "octocat.github.io")
	client := github.NewClient(gh.URL, remote.NewClient(remote.Config{Header: github.Headers("")}))
	return NewService(client), gh
}

func searchRecord(t *testing.T, gh *testutil.GitHub, login string) record.Record {
	t.Helper()
	client := github.NewClient(gh.URL, remote.NewClient(remote.Config{}))
	set, err := client.SearchUsers(context.Background(), login)
	if err != nil || len(set) != 1 {
		t.Fatalf("search %s: %v (%d results)", login, err, len(set))
	}
	return set[0]
}

func TestLoad(t *testing.T) {
	svc, gh := newService(t)
	p, err := svc.Load(context.Background(), searchRecord(t, gh, "octocat"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if login, _ := p.User.String("login"); login != "octocat" {
		t.Errorf("login = %q", login)
	}
	if loc, _ := p.User.String("location"); loc != "Berlin" {
		t.Errorf("location = %q", loc)
	}
	if n, _ := p.User.Int("public_repos"); n != 3 {
		t.Errorf("public_repos = %d", n)
	}
	if len(p.Repos) != 3 {
		t.Fatalf("repos = %d", len(p.Repos))
	}
	if w, ok := p.Repos[1].Int("watchers_count"); !ok || w != 1 {
		t.Errorf("watchers_count = %d, %v", w, ok)
	}
}

func TestLoad_MissingURLs(t *testing.T) {
	svc, _ := newService(t)
	cases := []string{
		`{"id":1,"login":"x","repos_url":"http://r"}`,
		`{"id":1,"login":"x","url":"http://u"}`,
		`{"id":1,"login":"x","url":7,"repos_url":"http://r"}`,
	}
	for _, c := range cases {
		if _, err := svc.Load(context.Background(), record.MustParse(c)); !errors.Is(err, apperr.ErrDecode) {
			t.Errorf("%s: err = %v, want decode", c, err)
		}
	}
}

func TestLoad_UpstreamFailure(t *testing.T) {
	svc, gh := newService(t)
	u := record.MustParse(`{"id":5,"login":"ghost","url":"` + gh.URL + `/users/ghost","repos_url":"` + gh.URL + `/users/ghost/repos"}`)
	_, err := svc.Load(context.Background(), u)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != 404 {
		t.Fatalf("err = %v, want status 404", err)
	}
}

func TestRepos_Filter(t *testing.T) {
	svc, gh := newService(t)
	url := gh.URL + "/users/octocat/repos"

	all, err := svc.Repos(context.Background(), url, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("all: %d %v", len(all), err)
	}
	short, _ := svc.Repos(context.Background(), url, "sp")
	if len(short) != 3 {
		t.Errorf("two chars filtered to %d", len(short))
	}
	got, _ := svc.Repos(context.Background(), url, "spoon")
	if names := got.Field("name"); len(names) != 1 || names[0] != "Spoon-Knife" {
		t.Errorf("spoon = %v", names)
	}
	if _, err := svc.Repos(context.Background(), "", "x"); !errors.Is(err, apperr.ErrDecode) {
		t.Errorf("empty url err = %v", err)
	}
}
