package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

// ErrTransportUnavailable means the target connection is gone or cannot accept more frames.
const ErrTransportUnavailable = staticErr("transport unavailable")

// Writer delivers one outbound message on a connection.
type Writer interface {
	Write(ctx context.Context, msg any) error
}

type client struct {
	id   string
	w    Writer
	mu   sync.Mutex
	send chan any
	shut bool
}

// Hub owns a bounded send queue and a writer goroutine per attached connection.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*client
	queueSize    int
	writeTimeout time.Duration
	wg           sync.WaitGroup
}

func NewHub(queueSize int, writeTimeout time.Duration) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{clients: make(map[string]*client), queueSize: queueSize, writeTimeout: writeTimeout}
}

// Attach registers w and returns its new connection id.
func (h *Hub) Attach(w Writer) string {
	c := &client{id: uuid.NewString(), w: w, send: make(chan any, h.queueSize)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.wg.Add(1)
	go h.writeLoop(c)
	return c.id
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		err := c.w.Write(ctx, msg)
		cancel()
		if err != nil {
			obslog.L().Warn("ws_write_failed", zap.String("conn_id", c.id), zap.Error(err))
			h.Detach(c.id)
			// drain so Send never blocks on a dead writer
			for range c.send {
			}
			return
		}
	}
}

// Detach closes the queue of connection id. Queued frames are still flushed.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	if !c.shut {
		c.shut = true
		close(c.send)
	}
	c.mu.Unlock()
}

// Send queues msg for id without blocking.
func (h *Hub) Send(id string, msg any) error {
	if id == "" {
		return ErrTransportUnavailable
	}
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return ErrTransportUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shut {
		return ErrTransportUnavailable
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrTransportUnavailable
	}
}

func (h *Hub) Connected(id string) bool {
	h.mu.RLock()
	_, ok := h.clients[id]
	h.mu.RUnlock()
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close detaches every connection and waits for writers to flush.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Detach(id)
	}
	h.wg.Wait()
}
