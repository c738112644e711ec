package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/park285/chess-arena/internal/persistence"
	"github.com/park285/chess-arena/internal/protocol"
)

type sink struct {
	mu   sync.Mutex
	msgs map[string][]any
}

func newSink() *sink { return &sink{msgs: make(map[string][]any)} }

func (s *sink) Send(connID string, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[connID] = append(s.msgs[connID], msg)
	return nil
}

func (s *sink) kinds(connID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.msgs[connID]))
	for _, m := range s.msgs[connID] {
		out = append(out, kindOf(m))
	}
	return out
}

func (s *sink) last(connID string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.msgs[connID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func kindOf(m any) string {
	switch v := m.(type) {
	case protocol.UpdateTimer:
		return v.Type
	case protocol.GameOver:
		return v.Type
	case protocol.GameCreated:
		return v.Type
	case protocol.GameState:
		return v.Type
	case protocol.Error:
		return v.Type
	case protocol.Notice:
		return v.Type
	case protocol.Redirect:
		return v.Type
	}
	return "?"
}

type fixture struct {
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	store *Store
	sink  *sink
	gw    *persistence.Memory
	m     *Machine
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewStore(rdb, time.Hour)
	sk := newSink()
	gw := persistence.NewMemory()
	m := NewMachine(store, sk, gw, opts)
	t.Cleanup(m.Close)
	return &fixture{mr: mr, rdb: rdb, store: store, sink: sk, gw: gw, m: m}
}

// pair seats u1 (white, conn c1) against u2 (black, conn c2).
func (f *fixture) pair(t *testing.T, id string) *Session {
	t.Helper()
	s := NewSession(SessionParams{
		ID:          id,
		White:       PlayerRef{UserID: "u1", Username: "alice", Rating: 1200, ConnectionID: "c1"},
		Black:       PlayerRef{UserID: "u2", Username: "bob", Rating: 1300, ConnectionID: "c2"},
		TimeControl: 600,
		StartAt:     time.Now(),
	})
	require.NoError(t, f.gw.CreateGame(context.Background(), persistence.GameRecord{ID: id, WhiteID: "u1", BlackID: "u2", TimeControl: 600}))
	f.store.Add(context.Background(), s)
	return s
}

func (f *fixture) move(t *testing.T, id, user, conn, uci string) error {
	t.Helper()
	return f.m.ApplyMove(context.Background(), MoveRequest{
		GameID: id, UserID: user, ConnectionID: conn, From: uci[:2], To: uci[2:4],
	})
}

// playAlternating plays moves for u1/u2 in turn starting with white.
func (f *fixture) playAlternating(t *testing.T, id string, moves ...string) {
	t.Helper()
	for i, mv := range moves {
		user, conn := "u1", "c1"
		if i%2 == 1 {
			user, conn = "u2", "c2"
		}
		require.NoError(t, f.move(t, id, user, conn, mv), "move %d %s", i, mv)
	}
}

func dur(sec float64) *time.Duration {
	d := protocol.Duration(sec)
	return &d
}
