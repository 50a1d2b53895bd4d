// Package mainloop serializes presentation-facing callbacks onto a single
// goroutine.
package mainloop

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Loop runs dispatched funcs one at a time, in dispatch order.
//
// The queue is unbounded so Dispatch never blocks, including when called
// from a func already running on the loop.
type Loop struct {
	logger *slog.Logger

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New starts a loop.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.stopCh:
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.call(fn)
		}
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("mainloop: dispatched func panicked", slog.Any("panic", r))
		}
	}()
	fn()
}

// Dispatch enqueues fn. It reports false once the loop is closed.
func (l *Loop) Dispatch(fn func()) bool {
	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until every func dispatched before the call has run.
func (l *Loop) Flush() {
	done := make(chan struct{})
	if !l.Dispatch(func() { close(done) }) {
		<-l.stopped
		return
	}
	select {
	case <-done:
	case <-l.stopped:
	}
}

// Close runs what is already queued and stops the loop. It must not be
// called from a dispatched func.
func (l *Loop) Close() {
	l.mu.Lock()
	first := l.closed.CompareAndSwap(false, true)
	l.mu.Unlock()
	if first {
		close(l.stopCh)
	}
	<-l.stopped
}
