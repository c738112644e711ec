// Package matchmaking pairs players: the quick-match slot, friend challenges and bot games.
package matchmaking

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/persistence"
	"github.com/park285/chess-arena/internal/presence"
	"github.com/park285/chess-arena/internal/protocol"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

var (
	ErrSelfChallenge     = staticErr("cannot challenge yourself")
	ErrNotFriends        = staticErr("players are not friends")
	ErrFriendOffline     = staticErr("friend is not online")
	ErrChallengeNotFound = staticErr("challenge not found")
	ErrAlreadyInGame     = staticErr("player already in a game")
	ErrAlreadyPending    = staticErr("challenge already pending")
	ErrUnknownDifficulty = staticErr("unknown bot difficulty")
)

// Result of a quick-match request.
type Result string

const (
	ResultWaiting       Result = "waiting"
	ResultCreated       Result = "created"
	ResultAlreadyInGame Result = "already_in_game"
)

// Player is a caller as seen by matchmaking.
type Player struct {
	UserID       string
	Username     string
	Rating       int
	ConnectionID string
}

func (p Player) ref() game.PlayerRef {
	return game.PlayerRef{UserID: p.UserID, Username: p.Username, Rating: p.Rating, ConnectionID: p.ConnectionID}
}

type Options struct {
	StartDelay         time.Duration
	DefaultTimeControl int
	PersistTimeout     time.Duration
	Now                func() time.Time
}

type Coordinator struct {
	machine  *game.Machine
	store    *game.Store
	sender   game.Sender
	registry *presence.Registry
	gw       persistence.Gateway
	msgs     *msgcat.Catalog
	opts     Options

	botMu sync.RWMutex
	bot   *game.BotDriver

	mu         sync.Mutex
	slot       *waiting
	challenges map[string]*Challenge
	seq        atomic.Uint64
}

type waiting struct {
	player Player
	since  time.Time
}

func New(m *game.Machine, sender game.Sender, registry *presence.Registry, gw persistence.Gateway, msgs *msgcat.Catalog, opts Options) *Coordinator {
	if opts.DefaultTimeControl <= 0 {
		opts.DefaultTimeControl = 600
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if msgs == nil {
		msgs = msgcat.MustDefault()
	}
	return &Coordinator{
		machine:    m,
		store:      m.Store(),
		sender:     sender,
		registry:   registry,
		gw:         gw,
		msgs:       msgs,
		opts:       opts,
		challenges: make(map[string]*Challenge),
	}
}

// AttachBot wires the driver used to open bot games where the bot plays White.
func (c *Coordinator) AttachBot(d *game.BotDriver) {
	c.botMu.Lock()
	c.bot = d
	c.botMu.Unlock()
}

// RequestMatch places p in the quick-match slot or pairs it with whoever is waiting there.
func (c *Coordinator) RequestMatch(ctx context.Context, p Player) (Result, error) {
	p.UserID = strings.TrimSpace(p.UserID)

	c.mu.Lock()
	if id, ok := c.machine.ActiveGameFor(p.UserID); ok {
		c.mu.Unlock()
		c.send(p.ConnectionID, protocol.Redirect{Type: protocol.KindRedirectToGame, GameID: id})
		obslog.L().Info("match_redirect", zap.String("user_id", p.UserID), zap.String("game_id", id))
		return ResultAlreadyInGame, nil
	}
	if c.slot != nil && c.slot.player.UserID != p.UserID && c.busy(c.slot.player.UserID) {
		obslog.L().Info("match_slot_stale", zap.String("user_id", c.slot.player.UserID))
		c.slot = nil
	}
	if c.slot == nil || c.slot.player.UserID == p.UserID {
		refresh := c.slot != nil
		since := c.opts.Now()
		if refresh {
			since = c.slot.since
		}
		c.slot = &waiting{player: p, since: since}
		c.mu.Unlock()
		c.send(p.ConnectionID, protocol.NewNotice(protocol.KindWaiting, c.msgs.Text("match.waiting", nil)))
		obslog.L().Info("match_waiting", zap.String("user_id", p.UserID), zap.Bool("refresh", refresh))
		return ResultWaiting, nil
	}
	first := c.slot.player
	c.slot = nil
	s := c.open(ctx, first, p, c.opts.DefaultTimeControl, c.opts.Now().Add(c.opts.StartDelay))
	c.mu.Unlock()

	c.announce(ctx, s)
	return ResultCreated, nil
}

// open creates and registers a human-vs-human session. The caller holds c.mu so the pairing and
// the participant index update together.
func (c *Coordinator) open(ctx context.Context, white, black Player, timeControl int, startAt time.Time) *game.Session {
	s := game.NewSession(game.SessionParams{
		ID:          uuid.NewString(),
		White:       white.ref(),
		Black:       black.ref(),
		TimeControl: timeControl,
		StartAt:     startAt,
		CreatedAt:   c.opts.Now(),
	})
	c.store.Add(ctx, s)
	return s
}

// announce persists the new row and sends each human seat its creation frame.
func (c *Coordinator) announce(ctx context.Context, s *game.Session) {
	s.Lock()
	rec := persistence.GameRecord{
		ID:            s.ID,
		WhiteID:       humanID(s.White),
		BlackID:       humanID(s.Black),
		WhiteName:     s.White.Username,
		BlackName:     s.Black.Username,
		TimeControl:   s.TimeControl,
		IsBot:         s.IsBot,
		BotDifficulty: s.BotDifficulty,
		CreatedAt:     s.CreatedAt,
	}
	type frame struct {
		conn string
		msg  protocol.GameCreated
	}
	var frames []frame
	for _, color := range []game.Color{game.White, game.Black} {
		seat := s.Seat(color)
		if seat.Bot || seat.ConnectionID == "" {
			continue
		}
		frames = append(frames, frame{conn: seat.ConnectionID, msg: game.CreatedMessage(s, color)})
	}
	s.Unlock()

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.PersistTimeout)
	if err := c.gw.CreateGame(pctx, rec); err != nil {
		obslog.L().Error("game_create_persist_error", zap.String("game_id", rec.ID), zap.Error(err))
	}
	cancel()

	for _, f := range frames {
		c.send(f.conn, f.msg)
	}
	obslog.L().Info("game_create",
		zap.String("game_id", rec.ID),
		zap.String("white", rec.WhiteID),
		zap.String("black", rec.BlackID),
		zap.Bool("bot", rec.IsBot),
	)
}

// HandleDisconnect clears the slot and any challenge bound to connID.
func (c *Coordinator) HandleDisconnect(connID string) {
	if connID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot != nil && c.slot.player.ConnectionID == connID {
		obslog.L().Info("match_slot_cleared", zap.String("user_id", c.slot.player.UserID))
		c.slot = nil
	}
	for id, ch := range c.challenges {
		if ch.ChallengerConn == connID || ch.TargetConn == connID {
			delete(c.challenges, id)
		}
	}
}

// clearSlotFor empties the slot if one of users holds it. The caller holds c.mu.
func (c *Coordinator) clearSlotFor(users ...string) {
	if c.slot == nil {
		return
	}
	for _, u := range users {
		if c.slot.player.UserID == u {
			c.slot = nil
			return
		}
	}
}

// Waiting reports the user currently holding the quick-match slot.
func (c *Coordinator) Waiting() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil {
		return "", false
	}
	return c.slot.player.UserID, true
}

func (c *Coordinator) PendingChallenges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.challenges)
}

func (c *Coordinator) send(connID string, msg any) {
	if connID == "" {
		return
	}
	if err := c.sender.Send(connID, msg); err != nil {
		obslog.L().Debug("match_send_skipped", zap.String("conn_id", connID), zap.Error(err))
	}
}

func (c *Coordinator) botDriver() *game.BotDriver {
	c.botMu.RLock()
	defer c.botMu.RUnlock()
	return c.bot
}

func humanID(p game.PlayerRef) string {
	if p.Bot {
		return ""
	}
	return p.UserID
}

// coinFlip returns true with probability one half.
func coinFlip() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return time.Now().UnixNano()%2 == 0
	}
	return n.Int64() == 0
}
