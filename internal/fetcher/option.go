package fetcher

import (
	"log/slog"

	"github.com/starford/octoscope/internal/imaging"
	"github.com/starford/octoscope/internal/mainloop"
)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithManifest persists url bindings and store metadata.
func WithManifest(m Manifest) Option {
	return func(f *Fetcher) {
		f.manifest = m
	}
}

// WithLoop sets the loop FetchAsync delivers on.
func WithLoop(l *mainloop.Loop) Option {
	return func(f *Fetcher) {
		f.loop = l
	}
}

// WithDefaultHeight sets the height used when a request has none.
func WithDefaultHeight(h int) Option {
	return func(f *Fetcher) {
		if h > 0 {
			f.defaultHeight = h
		}
	}
}

// WithMaxHeight caps the target height; larger requests fail with a config
// error.
func WithMaxHeight(h int) Option {
	return func(f *Fetcher) {
		if h > 0 {
			f.maxHeight = h
		}
	}
}

// WithDiskLimit bounds the disk tier; 0 leaves it unbounded.
func WithDiskLimit(maxBytes int64) Option {
	return func(f *Fetcher) {
		f.diskMaxBytes = maxBytes
	}
}

// WithContentMode selects the resize mode.
func WithContentMode(m imaging.ContentMode) Option {
	return func(f *Fetcher) {
		f.mode = m
	}
}

// WithStoredHook is called after every network fetch that reached the disk.
func WithStoredHook(fn func(Stored)) Option {
	return func(f *Fetcher) {
		f.onStored = fn
	}
}
