// Package fetcher resolves an avatar URL to a decoded, display-sized image,
// checking the memory cache, then the disk store, then the network.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/octoscope/internal/apperr"
	"github.com/starford/octoscope/internal/assetcache"
	"github.com/starford/octoscope/internal/assetstore"
	"github.com/starford/octoscope/internal/checksum"
	"github.com/starford/octoscope/internal/imaging"
	"github.com/starford/octoscope/internal/mainloop"
	"github.com/starford/octoscope/internal/manifest"
)

const (
	// DefaultHeight is used for requests without a positive TargetHeight.
	DefaultHeight = 200
	// DefaultMaxHeight caps TargetHeight.
	DefaultMaxHeight = 2048
)

// Request names the asset to load and where it lives on disk.
type Request struct {
	URL          string
	Folder       string
	Name         string
	TargetHeight int
}

// Hooks are invoked around a fetch. OnStart runs before the lookup begins
// and OnEnd after it completes, whatever the outcome.
type Hooks struct {
	OnStart func()
	OnEnd   func()
}

// Stored describes an asset that was downloaded and written to disk.
type Stored struct {
	URL    string `json:"url"`
	Folder string `json:"folder"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int64  `json:"size"`
}

// ImageGetter downloads image bytes. *remote.Client satisfies it.
type ImageGetter interface {
	GetImage(ctx context.Context, url string) ([]byte, string, error)
}

// Manifest persists url bindings. *manifest.DB satisfies it.
type Manifest interface {
	Lookup(url string) (manifest.Entry, bool, error)
	Bind(e manifest.Entry) error
	Touch(url string, at time.Time) error
	DeleteByPath(folder, name string) ([]string, error)
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	cache    *assetcache.Cache
	store    *assetstore.Store
	remote   ImageGetter
	manifest Manifest
	loop     *mainloop.Loop
	logger   *slog.Logger

	defaultHeight int
	maxHeight     int
	diskMaxBytes  int64
	mode          imaging.ContentMode
	onStored      func(Stored)

	group singleflight.Group

	mu       sync.Mutex
	bindings map[string]assetstore.Key

	pruneMu sync.Mutex
}

// New builds a fetcher over the given tiers.
func New(cache *assetcache.Cache, store *assetstore.Store, remote ImageGetter, opts ...Option) *Fetcher {
	f := &Fetcher{
		cache:         cache,
		store:         store,
		remote:        remote,
		logger:        slog.Default(),
		defaultHeight: DefaultHeight,
		maxHeight:     DefaultMaxHeight,
		mode:          imaging.ScaleAspectFit,
		bindings:      make(map[string]assetstore.Key),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type flightResult struct {
	source image.Image
	asset  *assetcache.CachedAsset
}

// Fetch returns the asset for req sized to req.TargetHeight.
//
// Concurrent calls for the same URL share one load. A caller whose ctx ends
// gets ctx.Err() while the shared load keeps running for the others.
func (f *Fetcher) Fetch(ctx context.Context, req Request, hooks Hooks) (*assetcache.CachedAsset, error) {
	if hooks.OnStart != nil {
		hooks.OnStart()
	}
	if hooks.OnEnd != nil {
		defer hooks.OnEnd()
	}
	return f.fetch(ctx, req)
}

func (f *Fetcher) fetch(ctx context.Context, req Request) (*assetcache.CachedAsset, error) {
	if req.URL == "" {
		return nil, apperr.Config("fetcher", errors.New("empty url"))
	}
	height := req.TargetHeight
	if height <= 0 {
		height = f.defaultHeight
	}
	if height > f.maxHeight {
		return nil, apperr.Config("fetcher", fmt.Errorf("height %d exceeds %d", height, f.maxHeight))
	}

	if a, ok := f.cache.Get(req.URL); ok {
		return f.fit(a, nil, height)
	}

	key, err := f.bind(req)
	if err != nil {
		return nil, err
	}

	ch := f.group.DoChan(req.URL, func() (any, error) {
		return f.load(context.WithoutCancel(ctx), req.URL, key, height)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		fr := res.Val.(*flightResult)
		return f.fit(fr.asset, fr.source, height)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fit resizes a to height, preferring the full-size source when available.
func (f *Fetcher) fit(a *assetcache.CachedAsset, source image.Image, height int) (*assetcache.CachedAsset, error) {
	if a.Height == height {
		return a, nil
	}
	if source == nil {
		source = a.Source
	}
	if source == nil {
		source = a.Image
	}
	img, err := imaging.ToHeight(source, height, f.mode)
	if err != nil {
		return nil, err
	}
	out := assetcache.NewCachedAsset(img)
	out.Source = source
	return out, nil
}

// bind returns the disk key for req.URL. The first (folder, name) seen for a
// URL wins, including bindings persisted by earlier runs.
func (f *Fetcher) bind(req Request) (assetstore.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := assetstore.Key{Folder: req.Folder, Name: req.Name}
	if k, ok := f.bindings[req.URL]; ok {
		if k != want {
			f.logger.Debug("fetcher: url already bound",
				slog.String("url", req.URL),
				slog.String("bound", k.String()),
				slog.String("requested", want.String()))
		}
		return k, nil
	}

	key := want
	if f.manifest != nil {
		e, ok, err := f.manifest.Lookup(req.URL)
		switch {
		case err != nil:
			f.logger.Warn("fetcher: manifest lookup failed", slog.String("url", req.URL), slog.String("error", err.Error()))
		case ok:
			key = assetstore.Key{Folder: e.Folder, Name: e.Name}
		}
	}
	if _, err := f.store.Path(key); err != nil {
		return assetstore.Key{}, fmt.Errorf("fetcher: %s: %w", req.URL, err)
	}
	f.bindings[req.URL] = key
	return key, nil
}

// Binding returns the disk key a URL is bound to.
func (f *Fetcher) Binding(url string) (assetstore.Key, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.bindings[url]
	return k, ok
}

func (f *Fetcher) load(ctx context.Context, url string, key assetstore.Key, height int) (*flightResult, error) {
	data, ok, err := f.store.Get(key)
	if err != nil {
		f.logger.Warn("fetcher: disk read failed", slog.String("key", key.String()), slog.String("error", err.Error()))
	}
	if ok {
		img, _, derr := imaging.Decode(data)
		if derr == nil {
			out, err := imaging.ToHeight(img, height, f.mode)
			if err != nil {
				return nil, err
			}
			asset := assetcache.NewCachedAsset(out)
			asset.Source = img
			f.cache.Put(url, asset)
			f.touch(url)
			return &flightResult{source: img, asset: asset}, nil
		}
		f.logger.Warn("fetcher: stored asset unreadable, refetching", slog.String("key", key.String()), slog.String("error", derr.Error()))
	}

	body, _, err := f.remote.GetImage(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	img, _, err := imaging.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %s: %w", url, err)
	}
	out, err := imaging.ToHeight(img, height, f.mode)
	if err != nil {
		return nil, err
	}
	encoded, err := imaging.EncodePNG(out)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %s: %w", url, err)
	}

	asset := assetcache.NewCachedAsset(out)
	asset.Source = img
	if err := f.store.Put(key, encoded); err != nil {
		f.logger.Warn("fetcher: disk write failed", slog.String("key", key.String()), slog.String("error", err.Error()))
	} else {
		f.stored(url, key, asset, encoded)
	}
	f.cache.Put(url, asset)
	return &flightResult{source: img, asset: asset}, nil
}

func (f *Fetcher) stored(url string, key assetstore.Key, a *assetcache.CachedAsset, encoded []byte) {
	if f.manifest != nil {
		err := f.manifest.Bind(manifest.Entry{
			URL:      url,
			Folder:   key.Folder,
			Name:     key.Name,
			Width:    a.Width,
			Height:   a.Height,
			Size:     int64(len(encoded)),
			Checksum: checksum.Sum(encoded),
		})
		if err != nil {
			f.logger.Warn("fetcher: manifest bind failed", slog.String("url", url), slog.String("error", err.Error()))
		}
	}
	f.prune()
	if f.onStored != nil {
		f.onStored(Stored{
			URL:    url,
			Folder: key.Folder,
			Name:   key.Name,
			Width:  a.Width,
			Height: a.Height,
			Size:   int64(len(encoded)),
		})
	}
}

func (f *Fetcher) touch(url string) {
	if f.manifest == nil {
		return
	}
	if err := f.manifest.Touch(url, time.Now()); err != nil {
		f.logger.Debug("fetcher: manifest touch failed", slog.String("url", url), slog.String("error", err.Error()))
	}
}

func (f *Fetcher) prune() {
	if f.diskMaxBytes <= 0 {
		return
	}
	f.pruneMu.Lock()
	defer f.pruneMu.Unlock()

	_, removed, err := f.store.Prune(f.diskMaxBytes)
	if err != nil {
		f.logger.Warn("fetcher: prune failed", slog.String("error", err.Error()))
	}
	if f.manifest == nil {
		return
	}
	for _, k := range removed {
		if _, err := f.manifest.DeleteByPath(k.Folder, k.Name); err != nil {
			f.logger.Warn("fetcher: manifest delete failed", slog.String("key", k.String()), slog.String("error", err.Error()))
		}
	}
}

// Forget drops urls from the memory tier. Their bindings are kept.
func (f *Fetcher) Forget(urls ...string) {
	for _, u := range urls {
		f.cache.Remove(u)
	}
}

// FetchAsync runs Fetch in the background and delivers cb, together with
// the hooks, on the main loop. When slot is non-nil the result is dropped if
// the slot was re-claimed or released in the meantime. Without a loop the
// callbacks run on the fetching goroutine.
func (f *Fetcher) FetchAsync(ctx context.Context, req Request, hooks Hooks, slot *Slot, cb func(*assetcache.CachedAsset, error)) Ticket {
	var t Ticket
	if slot != nil {
		t = slot.Claim()
	}

	deliver := func(fn func()) {
		if f.loop == nil {
			fn()
			return
		}
		f.loop.Dispatch(fn)
	}
	var onLoop Hooks
	if hooks.OnStart != nil {
		onLoop.OnStart = func() { deliver(hooks.OnStart) }
	}
	if hooks.OnEnd != nil {
		onLoop.OnEnd = func() { deliver(hooks.OnEnd) }
	}

	go func() {
		a, err := f.Fetch(ctx, req, onLoop)
		deliver(func() {
			if !t.Current() {
				f.logger.Debug("fetcher: dropped result for recycled slot", slog.String("url", req.URL))
				return
			}
			if cb != nil {
				cb(a, err)
			}
		})
	}()
	return t
}
