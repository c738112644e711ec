package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordWriter struct {
	mu   sync.Mutex
	msgs []any
	fail bool
	got  chan struct{}
}

func newRecordWriter() *recordWriter { return &recordWriter{got: make(chan struct{}, 16)} }

func (w *recordWriter) Write(_ context.Context, msg any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broken pipe")
	}
	w.msgs = append(w.msgs, msg)
	w.got <- struct{}{}
	return nil
}

func (w *recordWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func TestRegistryLastWriterWins(t *testing.T) {
	r := NewRegistry()
	r.Register(Entry{UserID: "u1", Username: "alice", Rating: 1500, ConnectionID: "c1"})
	r.Register(Entry{UserID: "u1", ConnectionID: "c2"})

	e, ok := r.Get("u1")
	if !ok {
		t.Fatalf("expected u1 online")
	}
	if e.ConnectionID != "c2" || e.Username != "alice" || e.Rating != 1500 {
		t.Fatalf("unexpected entry: %+v", e)
	}

	if removed := r.Unregister("c1"); len(removed) != 0 {
		t.Fatalf("stale connection must not remove newer binding: %v", removed)
	}
	if !r.IsOnline("u1") {
		t.Fatalf("u1 should still be online")
	}
	if removed := r.Unregister("c2"); len(removed) != 1 || removed[0] != "u1" {
		t.Fatalf("unexpected removal: %v", removed)
	}
	if r.IsOnline("u1") || r.Count() != 0 {
		t.Fatalf("u1 should be offline")
	}
}

func TestRegistryIgnoresBlankIDs(t *testing.T) {
	r := NewRegistry()
	r.Register(Entry{UserID: "  ", ConnectionID: "c1"})
	r.Register(Entry{UserID: "u1"})
	if r.Count() != 0 {
		t.Fatalf("blank entries must be ignored")
	}
}

func TestHubSendAndDetach(t *testing.T) {
	h := NewHub(4, time.Second)
	w := newRecordWriter()
	id := h.Attach(w)

	if err := h.Send(id, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-w.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("message not delivered")
	}

	h.Detach(id)
	if err := h.Send(id, "late"); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
	if err := h.Send("", "x"); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable for empty id, got %v", err)
	}
	h.Close()
	if w.count() != 1 {
		t.Fatalf("expected 1 delivered message, got %d", w.count())
	}
}

func TestHubDropsBrokenWriter(t *testing.T) {
	h := NewHub(4, time.Second)
	w := newRecordWriter()
	w.fail = true
	id := h.Attach(w)
	_ = h.Send(id, "boom")

	deadline := time.Now().Add(2 * time.Second)
	for h.Connected(id) {
		if time.Now().After(deadline) {
			t.Fatalf("broken connection still attached")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := h.Send(id, "again"); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
	h.Close()
}
