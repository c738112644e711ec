package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/protocol"
	"github.com/park285/chess-arena/internal/rules"
)

const defaultSnapshotTTL = 24 * time.Hour

// Snapshot is the mirror value stored at game:<id>.
type Snapshot struct {
	ID            string      `json:"id"`
	WhitePlayer   SeatInfo    `json:"whitePlayer"`
	BlackPlayer   SeatInfo    `json:"blackPlayer"`
	Board         rules.Board `json:"board"`
	FEN           string      `json:"fen"`
	WhiteTimer    float64     `json:"whiteTimer"`
	BlackTimer    float64     `json:"blackTimer"`
	IsStarted     bool        `json:"isStarted"`
	Moves         []string    `json:"moves"`
	PGN           string      `json:"pgn"`
	Turn          rules.Color `json:"turn"`
	IsBot         bool        `json:"isBot"`
	BotColor      rules.Color `json:"botColor,omitempty"`
	BotDifficulty string      `json:"botDifficulty,omitempty"`
	TimeControl   int         `json:"timeControl"`
	StartTime     int64       `json:"startTime"`
	CreatedAt     time.Time   `json:"createdAt"`
	State         State       `json:"state"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

type SeatInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Rating   int    `json:"rating,omitempty"`
	Bot      bool   `json:"bot,omitempty"`
}

// Store is the in-memory session table with a best-effort Redis mirror.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]string

	rdb *redis.Client
	ttl time.Duration
}

// NewStore accepts a nil client, in which case nothing is mirrored.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &Store{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]string),
		rdb:      rdb,
		ttl:      ttl,
	}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required")
	}
	opts, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Add registers s and mirrors it. The caller must not hold s's lock.
func (st *Store) Add(ctx context.Context, s *Session) string {
	s.Lock()
	id := s.ID
	users := s.humans()
	snap := snapshotOf(s)
	s.Unlock()

	st.mu.Lock()
	st.sessions[id] = s
	for _, u := range users {
		st.byUser[u] = id
	}
	st.mu.Unlock()

	st.write(ctx, snap, users)
	return id
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	s, ok := st.sessions[strings.TrimSpace(id)]
	st.mu.RUnlock()
	return s, ok
}

// ByParticipant returns the live session seating userID.
func (st *Store) ByParticipant(userID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byUser[strings.TrimSpace(userID)]
	if !ok {
		return nil, false
	}
	s, ok := st.sessions[id]
	return s, ok
}

// Remove drops the session, deletes its mirror and takes it out of the participant index. Safe
// to call while holding the session lock.
func (st *Store) Remove(ctx context.Context, id string) {
	var users []string
	st.mu.Lock()
	if _, ok := st.sessions[id]; ok {
		delete(st.sessions, id)
		for u, gid := range st.byUser {
			if gid == id {
				users = append(users, u)
				delete(st.byUser, u)
			}
		}
	}
	st.mu.Unlock()

	if st.rdb == nil {
		return
	}
	pipe := st.rdb.TxPipeline()
	pipe.Del(ctx, gameKey(id))
	for _, u := range users {
		pipe.SRem(ctx, idxUserKey(u), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		obslog.L().Warn("game_mirror_delete_error", zap.String("game_id", id), zap.Error(err))
	}
}

func (st *Store) All() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Mirror writes the current snapshot of s. The caller holds s's lock. Failures are logged only.
func (st *Store) Mirror(ctx context.Context, s *Session) {
	st.write(ctx, snapshotOf(s), s.humans())
}

func (st *Store) write(ctx context.Context, snap Snapshot, users []string) {
	if st.rdb == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		obslog.L().Error("game_mirror_encode_error", zap.String("game_id", snap.ID), zap.Error(err))
		return
	}
	pipe := st.rdb.TxPipeline()
	pipe.Set(ctx, gameKey(snap.ID), raw, st.ttl)
	for _, u := range users {
		pipe.SAdd(ctx, idxUserKey(u), snap.ID)
		pipe.Expire(ctx, idxUserKey(u), st.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		obslog.L().Warn("game_mirror_write_error", zap.String("game_id", snap.ID), zap.Error(err))
	}
}

// LoadSnapshot reads the mirror; it returns (nil, nil) when the key is absent.
func (st *Store) LoadSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	if st.rdb == nil {
		return nil, nil
	}
	raw, err := st.rdb.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// SnapshotIDsForUser lists mirrored game ids indexed for userID.
func (st *Store) SnapshotIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if st.rdb == nil {
		return nil, nil
	}
	return st.rdb.SMembers(ctx, idxUserKey(userID)).Result()
}

// Restore rebuilds a session from its mirror when it is no longer in memory. Seats come back
// without connections; the caller rebinds its own seat.
func (st *Store) Restore(ctx context.Context, id string) (*Session, error) {
	if s, ok := st.Get(id); ok {
		return s, nil
	}
	snap, err := st.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.State == StateTerminated {
		return nil, ErrSessionNotFound
	}
	pos, err := rules.Replay(snap.Moves)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	s := &Session{
		ID:            snap.ID,
		White:         seatRef(snap.WhitePlayer),
		Black:         seatRef(snap.BlackPlayer),
		Position:      pos,
		Started:       snap.IsStarted,
		IsBot:         snap.IsBot,
		BotColor:      snap.BotColor,
		BotDifficulty: snap.BotDifficulty,
		TimeControl:   snap.TimeControl,
		StartAt:       time.UnixMilli(snap.StartTime),
		CreatedAt:     snap.CreatedAt,
		LastMoveAt:    snap.UpdatedAt,
		State:         snap.State,
	}
	s.setClock(White, protocol.Duration(snap.WhiteTimer))
	s.setClock(Black, protocol.Duration(snap.BlackTimer))
	if s.State == "" {
		s.State = StateWaitingToStart
		if s.Started {
			s.State = StateInProgress
		}
	}
	if s.State == StateTerminalPending {
		status := pos.Status()
		out := &Outcome{Reason: status.Reason()}
		if w, ok := pos.Winner(); ok {
			out.Winner = w
		}
		s.Pending = out
	}

	st.mu.Lock()
	if existing, ok := st.sessions[id]; ok {
		st.mu.Unlock()
		return existing, nil
	}
	st.sessions[id] = s
	for _, u := range s.humans() {
		st.byUser[u] = id
	}
	st.mu.Unlock()
	obslog.L().Info("game_restore", zap.String("game_id", id), zap.Int("ply", pos.Ply()))
	return s, nil
}

func seatRef(si SeatInfo) PlayerRef {
	return PlayerRef{UserID: si.UserID, Username: si.Username, Rating: si.Rating, Bot: si.Bot}
}

func seatInfo(p PlayerRef) SeatInfo {
	return SeatInfo{UserID: p.UserID, Username: p.Username, Rating: p.Rating, Bot: p.Bot}
}

func snapshotOf(s *Session) Snapshot {
	return Snapshot{
		ID:            s.ID,
		WhitePlayer:   seatInfo(s.White),
		BlackPlayer:   seatInfo(s.Black),
		Board:         s.Position.Board(),
		FEN:           s.Position.FEN(),
		WhiteTimer:    protocol.Seconds(s.WhiteClock),
		BlackTimer:    protocol.Seconds(s.BlackClock),
		IsStarted:     s.Started,
		Moves:         s.Position.MovesUCI(),
		PGN:           s.Position.Movetext(),
		Turn:          s.Position.Turn(),
		IsBot:         s.IsBot,
		BotColor:      s.BotColor,
		BotDifficulty: s.BotDifficulty,
		TimeControl:   s.TimeControl,
		StartTime:     s.StartAt.UnixMilli(),
		CreatedAt:     s.CreatedAt,
		State:         s.State,
		UpdatedAt:     time.Now(),
	}
}

func gameKey(id string) string        { return "game:" + strings.TrimSpace(id) }
func idxUserKey(userID string) string { return "game:index:user:" + strings.TrimSpace(userID) }
