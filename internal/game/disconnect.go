package game

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
)

type graceKey struct {
	gameID string
	color  Color
}

type graceTimer struct {
	timer *time.Timer
	epoch uint64
}

// HandleDisconnect unbinds connID from every seat it holds. An abnormal close starts the grace
// window; a normal close only unbinds.
func (m *Machine) HandleDisconnect(ctx context.Context, connID string, normal bool) {
	if connID == "" {
		return
	}
	for _, s := range m.store.All() {
		s.Lock()
		for _, c := range []Color{White, Black} {
			seat := s.Seat(c)
			if seat.Bot || seat.ConnectionID != connID {
				continue
			}
			seat.ConnectionID = ""
			if normal || s.State == StateTerminated {
				continue
			}
			m.markDisconnected(s, c)
		}
		s.Unlock()
	}
}

// markDisconnected flags the seat and arms a grace timer for the new epoch. The caller holds s's lock.
func (m *Machine) markDisconnected(s *Session, c Color) {
	seat := s.Seat(c)
	seat.Disconnected = true
	seat.DisconnectedAt = m.opts.Now()
	seat.epoch++
	m.armGrace(s.ID, c, seat.epoch)
	obslog.L().Info("game_disconnect",
		zap.String("game_id", s.ID),
		zap.String("user_id", seat.UserID),
		zap.Duration("grace", m.opts.DisconnectGrace),
	)
}

func (m *Machine) armGrace(gameID string, c Color, epoch uint64) {
	key := graceKey{gameID: gameID, color: c}
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if old, ok := m.timers[key]; ok {
		old.timer.Stop()
	}
	m.timers[key] = graceTimer{
		timer: time.AfterFunc(m.opts.DisconnectGrace, func() { m.expire(key, epoch) }),
		epoch: epoch,
	}
}

// expire forfeits the seat if it is still disconnected in the same epoch the timer was armed for.
func (m *Machine) expire(key graceKey, epoch uint64) {
	m.timersMu.Lock()
	if t, ok := m.timers[key]; ok && t.epoch == epoch {
		delete(m.timers, key)
	}
	m.timersMu.Unlock()

	s, ok := m.store.Get(key.gameID)
	if !ok {
		return
	}
	var settle func()
	defer func() {
		if settle != nil {
			settle()
		}
	}()
	s.Lock()
	defer s.Unlock()
	seat := s.Seat(key.color)
	if s.State == StateTerminated || !seat.Disconnected || seat.epoch != epoch {
		return
	}
	out := Outcome{Winner: key.color.Opponent(), Reason: ReasonDisconnection}
	if s.State == StateTerminalPending && s.Pending != nil {
		out = *s.Pending
	}
	obslog.L().Info("game_grace_expired", zap.String("game_id", s.ID), zap.String("user_id", seat.UserID))
	settle = m.finishLocked(context.Background(), s, out, "")
}

func (m *Machine) stopGraceSeat(gameID string, c Color) {
	key := graceKey{gameID: gameID, color: c}
	m.timersMu.Lock()
	if t, ok := m.timers[key]; ok {
		t.timer.Stop()
		delete(m.timers, key)
	}
	m.timersMu.Unlock()
}

func (m *Machine) stopGrace(gameID string) {
	m.stopGraceSeat(gameID, White)
	m.stopGraceSeat(gameID, Black)
}

// PendingGraceTimers reports armed grace timers.
func (m *Machine) PendingGraceTimers() int {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	return len(m.timers)
}
