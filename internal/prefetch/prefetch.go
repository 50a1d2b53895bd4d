// Package prefetch loads avatars for the leading rows of the search result
// list so they are cached before anyone asks for them.
package prefetch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/octoscope/internal/assetcache"
	"github.com/starford/octoscope/internal/assetstore"
	"github.com/starford/octoscope/internal/fetcher"
	"github.com/starford/octoscope/internal/search"
)

// Fetcher starts background avatar loads. *fetcher.Fetcher satisfies it.
type Fetcher interface {
	FetchAsync(ctx context.Context, req fetcher.Request, hooks fetcher.Hooks, slot *fetcher.Slot, cb func(*assetcache.CachedAsset, error)) fetcher.Ticket
}

// Row reports an avatar that finished loading for a result row.
type Row struct {
	Index  int    `json:"index"`
	Login  string `json:"login"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Option configures a Prefetcher.
type Option func(*Prefetcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prefetcher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithFolder sets the asset folder avatars are stored in.
func WithFolder(folder string) Option {
	return func(p *Prefetcher) { p.folder = folder }
}

// WithHeight sets the target height. Zero uses the fetcher default.
func WithHeight(h int) Option {
	return func(p *Prefetcher) { p.height = h }
}

// WithReady registers a callback for loaded rows.
func WithReady(fn func(Row)) Option {
	return func(p *Prefetcher) { p.onReady = fn }
}

// Prefetcher keeps one display slot per row. A row whose user changes
// re-claims its slot, so a late avatar for the previous user is dropped.
type Prefetcher struct {
	ctx     context.Context
	f       Fetcher
	logger  *slog.Logger
	folder  string
	height  int
	onReady func(Row)

	mu    sync.Mutex
	slots []*fetcher.Slot
	urls  []string
}

// New returns a prefetcher for the first rows results.
func New(ctx context.Context, f Fetcher, rows int, opts ...Option) *Prefetcher {
	p := &Prefetcher{
		ctx:    ctx,
		f:      f,
		logger: slog.Default(),
		folder: "userImages",
		slots:  make([]*fetcher.Slot, rows),
		urls:   make([]string, rows),
	}
	for i := range p.slots {
		p.slots[i] = &fetcher.Slot{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnSnapshot schedules avatar loads for the snapshot's leading rows and
// releases rows that are no longer shown.
func (p *Prefetcher) OnSnapshot(s search.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, slot := range p.slots {
		if i >= len(s.Results) {
			if p.urls[i] != "" {
				slot.Release()
				p.urls[i] = ""
			}
			continue
		}

		user := s.Results[i]
		url, _ := user.String("avatar_url")
		if url == "" {
			if p.urls[i] != "" {
				slot.Release()
				p.urls[i] = ""
			}
			continue
		}
		if url == p.urls[i] {
			continue
		}
		p.urls[i] = url

		name, ok := user.ID()
		if !ok {
			name = assetstore.NameFor(url)
		}
		login, _ := user.String("login")
		row := Row{Index: i, Login: login, URL: url}

		p.f.FetchAsync(p.ctx, fetcher.Request{
			URL:          url,
			Folder:       p.folder,
			Name:         name,
			TargetHeight: p.height,
		}, fetcher.Hooks{}, slot, func(a *assetcache.CachedAsset, err error) {
			if err != nil {
				p.logger.Debug("prefetch: avatar failed", slog.String("url", url), slog.String("error", err.Error()))
				// Forget the row's url so a later snapshot retries it.
				p.mu.Lock()
				if p.urls[i] == url {
					p.urls[i] = ""
				}
				p.mu.Unlock()
				return
			}
			if p.onReady != nil {
				row.Width, row.Height = a.Width, a.Height
				p.onReady(row)
			}
		})
	}
}
