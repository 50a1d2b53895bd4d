package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishSearch(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishSearch(map[string]string{"query": "oct", "state": "querying"})

	s := recv(t, ch)
	if !strings.Contains(s, "event: search.updated") {
		t.Errorf("missing event type in %q", s)
	}
	if !strings.Contains(s, `"query":"oct"`) {
		t.Errorf("missing data in %q", s)
	}
}

func TestLateSubscriberGetsLastSearch(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	b.PublishSearch(map[string]string{"query": "old"})
	b.PublishSearch(map[string]string{"query": "new"})
	time.Sleep(50 * time.Millisecond)

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)
	s := recv(t, ch)
	if !strings.Contains(s, `"query":"new"`) {
		t.Errorf("replayed %q, want latest snapshot", s)
	}
}

func TestPublishAssetEvent_InventoryThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishAssetEvent("stored", map[string]string{"url": "a"})
	b.PublishAssetEvent("removed", map[string]string{"url": "b"})
	b.PublishAssetEvent("unknown", nil)

	time.Sleep(50 * time.Millisecond)
	inventory, stored, removed := 0, 0, 0
	for _, s := range drain(ch) {
		switch {
		case strings.Contains(s, "event: assets.updated"):
			inventory++
		case strings.Contains(s, "event: asset.stored"):
			stored++
		case strings.Contains(s, "event: asset.removed"):
			removed++
		default:
			t.Errorf("unexpected message %q", s)
		}
	}
	if stored != 1 || removed != 1 {
		t.Errorf("stored=%d removed=%d, want 1 each", stored, removed)
	}
	if inventory != 1 {
		t.Errorf("assets.updated = %d, want 1 (throttled)", inventory)
	}
}

// syncRecorder guards the recorder body between handler and test.
type syncRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishAssetEvent("stored", map[string]any{"url": "https://a/1.png", "height": 200})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.body()
	if !strings.Contains(body, "event: asset.stored") || !strings.Contains(body, `"height":200`) {
		t.Errorf("handler output missing event: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Buffer holds 64; further events must not block the loop.
	for i := 0; i < 70; i++ {
		b.PublishSearch(map[string]int{"i": i})
	}
	if b.ClientCount() != 1 {
		t.Error("broker loop blocked")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.PublishSearch(map[string]string{"query": "x"})
	b.PublishAssetEvent("stored", nil)
	if ch := b.Subscribe(); ch == nil {
		t.Fatal("Subscribe after close returned nil")
	}
}
