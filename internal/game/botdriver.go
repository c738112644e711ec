package game

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
)

const defaultSuggestTimeout = 10 * time.Second

// BotDriver plays the bot seat: after a difficulty-dependent delay it asks the supplier for a move
// and submits it through the machine like any other move.
type BotDriver struct {
	m        *Machine
	supplier MoveSupplier
	delay    func(difficulty string) time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewBotDriver attaches itself to m. delay may be nil for immediate moves.
func NewBotDriver(m *Machine, supplier MoveSupplier, delay func(string) time.Duration) *BotDriver {
	if delay == nil {
		delay = func(string) time.Duration { return 0 }
	}
	d := &BotDriver{
		m:        m,
		supplier: supplier,
		delay:    delay,
		timeout:  defaultSuggestTimeout,
		timers:   make(map[string]*time.Timer),
	}
	m.AttachBot(d)
	return d
}

// Schedule arms the bot's turn for gameID, replacing any earlier one.
func (d *BotDriver) Schedule(gameID, difficulty string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if t, ok := d.timers[gameID]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d.delay(difficulty), func() {
		d.mu.Lock()
		if d.timers[gameID] == t {
			delete(d.timers, gameID)
		}
		d.mu.Unlock()
		_ = d.Trigger(context.Background(), gameID)
	})
	d.timers[gameID] = t
}

func (d *BotDriver) Cancel(gameID string) {
	d.mu.Lock()
	if t, ok := d.timers[gameID]; ok {
		t.Stop()
		delete(d.timers, gameID)
	}
	d.mu.Unlock()
}

// Trigger plays one bot move now if it is still the bot's turn.
func (d *BotDriver) Trigger(ctx context.Context, gameID string) error {
	s, ok := d.m.store.Get(gameID)
	if !ok {
		return ErrSessionNotFound
	}
	s.Lock()
	if !s.IsBot || s.Finished() || s.Position.Turn() != s.BotColor {
		s.Unlock()
		return nil
	}
	fen := s.Position.FEN()
	moves := s.Position.MovesUCI()
	difficulty := s.BotDifficulty
	s.Unlock()

	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	move, err := d.supplier.SuggestMove(sctx, fen, moves, difficulty)
	cancel()
	if err != nil {
		obslog.L().Warn("bot_move_error", zap.String("game_id", gameID), zap.Error(err))
		return err
	}
	move = strings.ToLower(strings.TrimSpace(move))
	if len(move) < 4 {
		obslog.L().Warn("bot_move_none", zap.String("game_id", gameID), zap.String("fen", fen))
		return nil
	}
	req := MoveRequest{GameID: gameID, From: move[:2], To: move[2:4], Bot: true}
	if len(move) > 4 {
		req.Promotion = move[4:5]
	}
	if err := d.m.ApplyMove(ctx, req); err != nil {
		obslog.L().Warn("bot_move_rejected", zap.String("game_id", gameID), zap.String("uci", move), zap.Error(err))
		return err
	}
	return nil
}

func (d *BotDriver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

func (d *BotDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}
