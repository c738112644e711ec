// Package presence tracks which users are online and owns the outbound side of every connection.
package presence

import (
	"strings"
	"sync"
	"time"
)

type Entry struct {
	UserID       string
	Username     string
	Rating       int
	ConnectionID string
	Since        time.Time
}

// Registry maps userId to the live connection that last announced it. Last writer wins.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Entry
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]Entry), now: time.Now}
}

func (r *Registry) Register(e Entry) {
	e.UserID = strings.TrimSpace(e.UserID)
	if e.UserID == "" || e.ConnectionID == "" {
		return
	}
	if e.Since.IsZero() {
		e.Since = r.now()
	}
	r.mu.Lock()
	prev, ok := r.byUser[e.UserID]
	if ok && e.Username == "" {
		e.Username = prev.Username
	}
	if ok && e.Rating == 0 {
		e.Rating = prev.Rating
	}
	r.byUser[e.UserID] = e
	r.mu.Unlock()
}

// Unregister drops every user bound to connectionID and returns their ids.
func (r *Registry) Unregister(connectionID string) []string {
	if connectionID == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, e := range r.byUser {
		if e.ConnectionID == connectionID {
			delete(r.byUser, id)
			removed = append(removed, id)
		}
	}
	return removed
}

func (r *Registry) Get(userID string) (Entry, bool) {
	r.mu.RLock()
	e, ok := r.byUser[strings.TrimSpace(userID)]
	r.mu.RUnlock()
	return e, ok
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Get(userID)
	return ok
}

// ConnectionOf returns the live connection id for userID or "".
func (r *Registry) ConnectionOf(userID string) string {
	e, _ := r.Get(userID)
	return e.ConnectionID
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
