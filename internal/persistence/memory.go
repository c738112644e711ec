package persistence

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Memory is an in-process Gateway used when no database is configured, and by tests.
type Memory struct {
	mu      sync.RWMutex
	games   map[string]GameRecord
	results map[string]Result
	friends map[string]struct{}
	failure error
}

func NewMemory() *Memory {
	return &Memory{
		games:   make(map[string]GameRecord),
		results: make(map[string]Result),
		friends: make(map[string]struct{}),
	}
}

// Fail makes every later write return err; nil restores normal behaviour.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	m.failure = err
	m.mu.Unlock()
}

func (m *Memory) AddFriendship(a, b string) {
	m.mu.Lock()
	m.friends[friendKey(a, b)] = struct{}{}
	m.mu.Unlock()
}

func (m *Memory) CreateGame(_ context.Context, rec GameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}
	if _, ok := m.games[rec.ID]; !ok {
		m.games[rec.ID] = rec
	}
	return nil
}

func (m *Memory) RecordResult(_ context.Context, res Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}
	if _, ok := m.games[res.GameID]; !ok {
		return fmt.Errorf("update game %s: no such row", res.GameID)
	}
	m.results[res.GameID] = res
	return nil
}

func (m *Memory) AreFriends(_ context.Context, a, b string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.friends[friendKey(a, b)]
	return ok, nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Game(id string) (GameRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	return g, ok
}

func (m *Memory) Result(id string) (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	return r, ok
}

func (m *Memory) GameCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.games)
}

// friendKey orders the pair the way the friendships table does (user1 < user2).
func friendKey(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
