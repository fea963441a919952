package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	require.Equal(t, 0, b.ClientCount())

	ch := b.Subscribe("")
	require.Equal(t, 1, b.ClientCount())

	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.ClientCount())
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: EventIngested, Source: "clinicA", Data: map[string]string{"master": "m.csv"}})

	select {
	case msg := <-ch:
		s := string(msg)
		assert.Contains(t, s, "event: submission.ingested")
		assert.Contains(t, s, `"master":"m.csv"`)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishFiltersBySource(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	a := b.Subscribe("clinicA")
	defer b.Unsubscribe(a)
	all := b.Subscribe("")
	defer b.Unsubscribe(all)

	b.Publish(Event{Type: EventIngested, Source: "clinicB", Data: map[string]string{"n": "1"}})
	b.Publish(Event{Type: EventIngested, Source: "clinicA", Data: map[string]string{"n": "2"}})

	select {
	case msg := <-a:
		assert.Contains(t, string(msg), `"n":"2"`)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for filtered message")
	}

	got := 0
	deadline := time.After(time.Second)
	for got < 2 {
		select {
		case <-all:
			got++
		case <-deadline:
			t.Fatalf("unfiltered subscriber got %d events, want 2", got)
		}
	}

	select {
	case msg := <-a:
		t.Fatalf("unexpected extra message %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// syncRecorder guards the recorder body, which the handler goroutine writes
// while the test reads it.
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
	b := NewBroker(20 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?source=clinicA", nil)
	req = req.WithContext(ctx)
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	b.Publish(Event{Type: EventIngested, Source: "clinicB", Data: map[string]string{"n": "skip"}})
	b.Publish(Event{Type: EventIngested, Source: "clinicA", Data: map[string]string{"n": "keep"}})
	assert.Eventually(t, func() bool {
		body := w.body()
		return strings.Contains(body, `"n":"keep"`) && strings.Contains(body, ": ping")
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	body := w.body()
	assert.NotContains(t, body, `"n":"skip"`)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(time.Second)
	ch := b.Subscribe("")
	require.Equal(t, 1, b.ClientCount())

	b.Close()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "expected subscriber channel to be closed")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	assert.Equal(t, 0, b.ClientCount())

	// Safe no-op after close.
	b.Publish(Event{Type: EventIngested, Data: map[string]string{}})
	closed := b.Subscribe("")
	_, ok := <-closed
	assert.False(t, ok)
}
