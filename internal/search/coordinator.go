// Package search turns keystrokes into user result lists: the first three
// characters issue a remote search, longer text filters that result locally.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/starford/octoscope/internal/mainloop"
	"github.com/starford/octoscope/internal/record"
)

// State is the coordinator's activity.
type State int

const (
	Idle State = iota
	Filtering
	Querying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Filtering:
		return "filtering"
	case Querying:
		return "querying"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is what the presentation layer displays.
type Snapshot struct {
	Query      string     `json:"query"`
	State      State      `json:"state"`
	Results    record.Set `json:"results"`
	Err        string     `json:"error,omitempty"`
	Generation uint64     `json:"generation"`
}

// Searcher runs the remote user search. *github.Client satisfies it.
type Searcher interface {
	SearchUsers(ctx context.Context, term string) (record.Set, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDebounce delays remote searches until input settles for d.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		c.debounce = d
	}
}

// WithListener registers fn to receive every snapshot on the main loop.
func WithListener(fn func(Snapshot)) Option {
	return func(c *Coordinator) {
		c.listeners = append(c.listeners, fn)
	}
}

type query struct {
	gen   uint64
	text  string
	timer *time.Timer
}

// Coordinator is safe for concurrent use. Snapshots reach listeners in the
// order they were produced.
type Coordinator struct {
	searcher  Searcher
	loop      *mainloop.Loop
	logger    *slog.Logger
	debounce  time.Duration
	listeners []func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	gen           uint64
	text          string
	pending       *query
	authoritative record.Set
	snap          Snapshot
}

// New returns an idle coordinator.
func New(searcher Searcher, loop *mainloop.Loop, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		searcher: searcher,
		loop:     loop,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		snap:     Snapshot{Results: record.Set{}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close abandons any pending search.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.dropPending()
	c.mu.Unlock()
	c.cancel()
}

// Snapshot returns the current display state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snap
	s.Results = c.snap.Results.Clone()
	return s
}

// OnQueryChanged handles a new query text.
func (c *Coordinator) OnQueryChanged(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.text = text

	switch n := utf8.RuneCountInString(text); {
	case n == 0:
		c.dropPending()
		c.set(Snapshot{Query: text, State: Idle, Results: c.authoritative.Clone()})

	case n < MinLength:
		// Too short to search; the displayed list stays as it is.
		c.dropPending()

	case n == MinLength:
		c.dropPending()
		c.set(Snapshot{Query: text, State: Querying, Results: c.snap.Results})
		c.schedule(text)

	default:
		if c.pending != nil && !extends(text, c.pending.text) {
			c.dropPending()
		}
		c.set(Snapshot{Query: text, State: Filtering, Results: c.snap.Results})
		state := Idle
		if c.pending != nil {
			state = Querying
		}
		c.set(Snapshot{Query: text, State: state, Results: Filter(c.authoritative, "login", text)})
	}
}

// Submit searches remotely for the full text right away, as when editing
// ends. The result replaces the authoritative set under the same stale-result
// rules as a three-character query. Empty text is ignored.
func (c *Coordinator) Submit(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.text = text
	c.dropPending()
	c.set(Snapshot{Query: text, State: Querying, Results: c.snap.Results})
	q := &query{gen: c.gen, text: text}
	c.pending = q
	c.issue(q)
}

// set stores s as the current snapshot and hands a copy to the listeners.
func (c *Coordinator) set(s Snapshot) {
	if s.Results == nil {
		s.Results = record.Set{}
	}
	s.Generation = c.gen
	c.snap = s
	if len(c.listeners) == 0 || c.loop == nil {
		return
	}
	out := s
	out.Results = s.Results.Clone()
	listeners := c.listeners
	c.loop.Dispatch(func() {
		for _, fn := range listeners {
			fn(out)
		}
	})
}

func (c *Coordinator) dropPending() {
	if c.pending == nil {
		return
	}
	if c.pending.timer != nil {
		c.pending.timer.Stop()
	}
	c.pending = nil
}

func (c *Coordinator) schedule(text string) {
	q := &query{gen: c.gen, text: text}
	c.pending = q
	if c.debounce <= 0 {
		c.issue(q)
		return
	}
	q.timer = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.pending != q {
			return
		}
		c.issue(q)
	})
}

func (c *Coordinator) issue(q *query) {
	c.logger.Debug("search: remote query", slog.String("q", q.text), slog.Uint64("generation", q.gen))
	go func() {
		res, err := c.searcher.SearchUsers(c.ctx, q.text)
		if c.loop == nil {
			c.complete(q, res, err)
			return
		}
		c.loop.Dispatch(func() { c.complete(q, res, err) })
	}()
}

// complete applies a remote result unless a later event superseded it. A
// result that arrives while the user kept typing the same prefix still
// becomes the authoritative set and is filtered by the current text.
func (c *Coordinator) complete(q *query, res record.Set, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != q {
		c.logger.Debug("search: discarded stale result", slog.String("q", q.text), slog.Uint64("generation", q.gen))
		return
	}
	c.pending = nil

	if err != nil {
		c.logger.Warn("search: remote query failed", slog.String("q", q.text), slog.String("error", err.Error()))
		c.set(Snapshot{Query: c.text, State: Idle, Results: c.snap.Results, Err: err.Error()})
		return
	}

	c.authoritative = res.Clone()
	results := res.Clone()
	if q.gen != c.gen {
		results = Filter(res, "login", c.text)
	}
	c.set(Snapshot{Query: c.text, State: Idle, Results: results})
}
