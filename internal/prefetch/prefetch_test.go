package prefetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/starford/octoscope/internal/assetcache"
	"github.com/starford/octoscope/internal/assetstore"
	"github.com/starford/octoscope/internal/fetcher"
	"github.com/starford/octoscope/internal/mainloop"
	"github.com/starford/octoscope/internal/record"
	"github.com/starford/octoscope/internal/remote"
	"github.com/starford/octoscope/internal/search"
	"github.com/starford/octoscope/internal/testutil"
)

type env struct {
	p     *Prefetcher
	gh    *testutil.GitHub
	store *assetstore.Store
	loop  *mainloop.Loop

	mu    sync.Mutex
	ready []Row
}

func newEnv(t *testing.T, rows int) *env {
	t.Helper()
	e := &env{gh: testutil.NewGitHub(t), store: testutil.TestStore(t), loop: mainloop.New(testutil.Logger())}
	t.Cleanup(e.loop.Close)

	f := fetcher.New(assetcache.New(16), e.store, remote.NewClient(remote.Config{}),
		fetcher.WithLogger(testutil.Logger()),
		fetcher.WithLoop(e.loop),
	)
	e.p = New(context.Background(), f, rows,
		WithLogger(testutil.Logger()),
		WithHeight(50),
		WithReady(func(r Row) {
			e.mu.Lock()
			e.ready = append(e.ready, r)
			e.mu.Unlock()
		}),
	)
	return e
}

func (e *env) snapshot(t *testing.T, logins ...string) search.Snapshot {
	t.Helper()
	parts := make([]string, len(logins))
	for i, l := range logins {
		parts[i] = fmt.Sprintf(`{"id":%d,"login":%q,"avatar_url":"%s/avatars/%s.png"}`, i+1, l, e.gh.URL, l)
	}
	set, err := record.ParseSet(gjson.Parse("[" + strings.Join(parts, ",") + "]"))
	if err != nil {
		t.Fatal(err)
	}
	return search.Snapshot{State: search.Idle, Results: set}
}

func (e *env) readyLogins() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.ready))
	for i, r := range e.ready {
		out[i] = r.Login
	}
	sort.Strings(out)
	return out
}

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestPrefetchLeadingRows(t *testing.T) {
	e := newEnv(t, 2)
	e.p.OnSnapshot(e.snapshot(t, "octocat", "octavia", "torvalds"))

	waitFor(t, func() bool { return len(e.readyLogins()) == 2 })
	e.loop.Flush()

	if got := e.readyLogins(); got[0] != "octavia" || got[1] != "octocat" {
		t.Errorf("ready = %v", got)
	}
	if hits := e.gh.AvatarHits(); hits != 2 {
		t.Errorf("avatar downloads = %d, want 2", hits)
	}
	for _, name := range []string{"1", "2"} {
		if _, err := os.Stat(filepath.Join(e.store.Root(), "userImages", name+".png")); err != nil {
			t.Errorf("avatar %s not stored: %v", name, err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.ready {
		if r.Height != 50 {
			t.Errorf("row %d height = %d", r.Index, r.Height)
		}
	}
}

func TestSameSnapshotDoesNotRefetch(t *testing.T) {
	e := newEnv(t, 4)
	s := e.snapshot(t, "octocat")
	e.p.OnSnapshot(s)
	waitFor(t, func() bool { return len(e.readyLogins()) == 1 })

	e.p.OnSnapshot(s)
	time.Sleep(50 * time.Millisecond)
	e.loop.Flush()
	if got := e.readyLogins(); len(got) != 1 {
		t.Errorf("ready = %v, want a single delivery", got)
	}
}

func TestReleasedRowDropsResult(t *testing.T) {
	e := newEnv(t, 1)
	e.p.OnSnapshot(e.snapshot(t, "octocat"))
	e.p.OnSnapshot(search.Snapshot{Results: record.Set{}})

	time.Sleep(100 * time.Millisecond)
	e.loop.Flush()
	if got := e.readyLogins(); len(got) != 0 {
		t.Errorf("released row delivered %v", got)
	}
}

func TestFailedRowRetriedOnNextSnapshot(t *testing.T) {
	e := newEnv(t, 1)
	s := e.snapshot(t, "missing")

	e.p.OnSnapshot(s)
	waitFor(t, func() bool {
		e.loop.Flush()
		e.p.mu.Lock()
		defer e.p.mu.Unlock()
		return e.gh.AvatarHits() == 1 && e.p.urls[0] == ""
	})

	e.p.OnSnapshot(s)
	waitFor(t, func() bool { return e.gh.AvatarHits() == 2 })
	if got := e.readyLogins(); len(got) != 0 {
		t.Errorf("failed avatar reported ready: %v", got)
	}
}
