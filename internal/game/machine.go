package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/persistence"
	"github.com/park285/chess-arena/internal/protocol"
	"github.com/park285/chess-arena/internal/rules"
)

// Clock policies.
const (
	ClockClient = "client"
	ClockServer = "server"
)

const (
	defaultGrace          = 30 * time.Second
	defaultPersistTimeout = 5 * time.Second
)

type Options struct {
	// ClockPolicy is ClockClient (adopt reported clocks) or ClockServer (measure elapsed time).
	ClockPolicy     string
	DisconnectGrace time.Duration
	PersistTimeout  time.Duration
	Now             func() time.Time
}

// Machine owns every state transition of a session: moves, endings, reconnects and disconnects.
type Machine struct {
	store  *Store
	sender Sender
	gw     persistence.Gateway
	opts   Options

	botMu sync.RWMutex
	bot   *BotDriver

	timersMu sync.Mutex
	timers   map[graceKey]graceTimer
}

func NewMachine(store *Store, sender Sender, gw persistence.Gateway, opts Options) *Machine {
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = defaultGrace
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ClockPolicy != ClockServer {
		opts.ClockPolicy = ClockClient
	}
	return &Machine{
		store:  store,
		sender: sender,
		gw:     gw,
		opts:   opts,
		timers: make(map[graceKey]graceTimer),
	}
}

func (m *Machine) Store() *Store { return m.store }

// AttachBot wires the driver that answers bot turns.
func (m *Machine) AttachBot(d *BotDriver) {
	m.botMu.Lock()
	m.bot = d
	m.botMu.Unlock()
}

func (m *Machine) botDriver() *BotDriver {
	m.botMu.RLock()
	defer m.botMu.RUnlock()
	return m.bot
}

type MoveRequest struct {
	GameID       string
	UserID       string
	ConnectionID string
	From         string
	To           string
	Promotion    string
	// Client-reported clocks; nil when absent.
	WhiteClock *time.Duration
	BlackClock *time.Duration
	// Bot marks a move played on behalf of the bot seat.
	Bot bool
}

// ApplyMove validates and applies one move, then mirrors and broadcasts the new state.
// Any returned error leaves the session unchanged.
func (m *Machine) ApplyMove(ctx context.Context, req MoveRequest) error {
	s, ok := m.store.Get(req.GameID)
	if !ok {
		return ErrSessionNotFound
	}
	var settle func()
	defer func() {
		if settle != nil {
			settle()
		}
	}()
	s.Lock()
	defer s.Unlock()

	if s.State == StateTerminated {
		return ErrSessionNotFound
	}
	color, err := actorColor(s, req.UserID, req.ConnectionID, req.Bot)
	if err != nil {
		return err
	}
	if s.State == StateTerminalPending {
		return ErrGameFinished
	}
	if s.Position.Turn() != color {
		return ErrNotYourTurn
	}

	now := m.opts.Now()
	clocks, flagged := m.nextClocks(s, color, req, now)
	if flagged {
		s.setClock(color, 0)
		obslog.L().Info("game_flag", zap.String("game_id", s.ID), zap.String("color", string(color)))
		settle = m.finishLocked(ctx, s, Outcome{Winner: color.Opponent(), Reason: ReasonTime}, "")
		return nil
	}

	res, err := s.Position.Apply(req.From, req.To, req.Promotion)
	if err != nil {
		return fmt.Errorf("%w: %s%s: %v", ErrIllegalMove, req.From, req.To, err)
	}
	clocks.commit(s)
	s.LastMoveAt = now
	if !s.Started {
		s.Started = true
		s.State = StateInProgress
		obslog.L().Info("game_start", zap.String("game_id", s.ID))
	}
	if res.Status.Terminal() {
		out := Outcome{Reason: res.Status.Reason()}
		if res.Status.Checkmate {
			out.Winner = res.Mover
		}
		s.State = StateTerminalPending
		s.Pending = &out
	}

	m.store.Mirror(ctx, s)
	m.broadcast(s, updateMessage(s, res, req.Bot))
	obslog.L().Debug("game_move",
		zap.String("game_id", s.ID),
		zap.String("uci", res.UCI),
		zap.String("san", res.SAN),
		zap.Int("ply", s.Position.Ply()),
		zap.Bool("bot", req.Bot),
	)

	if !s.IsBot {
		return nil
	}
	if s.State == StateTerminalPending {
		settle = m.finishLocked(ctx, s, *s.Pending, "")
		return nil
	}
	if s.Position.Turn() == s.BotColor {
		if d := m.botDriver(); d != nil {
			d.Schedule(s.ID, s.BotDifficulty)
		}
	}
	return nil
}

type EndRequest struct {
	GameID       string
	UserID       string
	ConnectionID string
	Reason       string
	PGN          string
}

// EndGame terminates the session with a participant-declared or previously detected outcome.
func (m *Machine) EndGame(ctx context.Context, req EndRequest) error {
	s, ok := m.store.Get(req.GameID)
	if !ok {
		return ErrSessionNotFound
	}
	var settle func()
	defer func() {
		if settle != nil {
			settle()
		}
	}()
	s.Lock()
	defer s.Unlock()

	if s.State == StateTerminated {
		return ErrSessionNotFound
	}
	color, err := actorColor(s, req.UserID, req.ConnectionID, false)
	if err != nil {
		return err
	}

	var out Outcome
	if s.State == StateTerminalPending && s.Pending != nil {
		out = *s.Pending
	} else {
		out, err = m.decideLocked(s, color, req.Reason)
		if err != nil {
			return err
		}
	}
	settle = m.finishLocked(ctx, s, out, req.PGN)
	return nil
}

func (m *Machine) decideLocked(s *Session, caller Color, reason string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case ReasonResign:
		return Outcome{Winner: caller.Opponent(), Reason: ReasonResign}, nil
	case ReasonTime:
		if m.opts.ClockPolicy == ClockServer && m.remaining(s, caller, m.opts.Now()) > 0 {
			return Outcome{}, ErrClaimRejected
		}
		s.setClock(caller, 0)
		return Outcome{Winner: caller.Opponent(), Reason: ReasonTime}, nil
	case ReasonCheckmate:
		w, ok := s.Position.Winner()
		if !ok {
			return Outcome{}, ErrClaimRejected
		}
		return Outcome{Winner: w, Reason: ReasonCheckmate}, nil
	case ReasonStalemate:
		if !s.Position.Status().Stalemate {
			return Outcome{}, ErrClaimRejected
		}
		return Outcome{Reason: ReasonStalemate}, nil
	case ReasonThreefold:
		if !s.Position.Status().Threefold {
			return Outcome{}, ErrClaimRejected
		}
		return Outcome{Reason: ReasonThreefold}, nil
	case ReasonDraw:
		return Outcome{Reason: ReasonDraw}, nil
	}
	return Outcome{}, ErrUnknownReason
}

// finishLocked moves s to Terminated and drops it from the store. The returned func records the
// result and notifies both seats; callers run it after releasing s's lock. Persistence failures
// are logged and the termination stands.
func (m *Machine) finishLocked(ctx context.Context, s *Session, out Outcome, clientPGN string) func() {
	if s.State == StateTerminated {
		return nil
	}
	s.State = StateTerminated
	s.Pending = &out
	m.stopGrace(s.ID)
	if d := m.botDriver(); d != nil {
		d.Cancel(s.ID)
	}

	winnerID := ""
	outcome := "draw"
	if out.Winner != "" {
		outcome = string(out.Winner)
		if seat := s.Seat(out.Winner); !seat.Bot {
			winnerID = seat.UserID
		}
	}
	pgn := strings.TrimSpace(clientPGN)
	if pgn == "" {
		pgn = s.Position.PGN(rules.PGNHeaders{
			Date:        s.CreatedAt,
			White:       s.White.Username,
			Black:       s.Black.Username,
			TimeControl: s.TimeControl,
			Termination: out.Reason,
			Result:      rules.ResultToken(out.Winner, false),
		})
	}
	result := persistence.Result{
		GameID:   s.ID,
		WinnerID: winnerID,
		Outcome:  outcome,
		Reason:   out.Reason,
		PGN:      pgn,
		EndedAt:  m.opts.Now(),
	}
	notice := protocol.GameOver{
		Type:        protocol.KindEndGameNotice,
		GameID:      s.ID,
		Reason:      out.Reason,
		Winner:      winnerID,
		WinnerColor: out.Winner,
		PGN:         pgn,
	}
	conns := s.liveConnections()
	ply := s.Position.Ply()
	m.store.Remove(ctx, s.ID)

	return func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.PersistTimeout)
		err := m.gw.RecordResult(pctx, result)
		cancel()
		if err != nil {
			obslog.L().Error("game_result_persist_error",
				zap.String("game_id", result.GameID),
				zap.Error(fmt.Errorf("%w: %w", ErrPersistence, err)),
			)
		}
		for _, conn := range conns {
			m.send(result.GameID, conn, notice)
		}
		obslog.L().Info("game_end",
			zap.String("game_id", result.GameID),
			zap.String("reason", out.Reason),
			zap.String("outcome", outcome),
			zap.Int("ply", ply),
		)
	}
}

type RehydrateRequest struct {
	GameID       string
	UserID       string
	ConnectionID string
}

// Rehydrate rebinds the caller's seat and returns the full game view. Repeating it with the same
// connection changes nothing.
func (m *Machine) Rehydrate(ctx context.Context, req RehydrateRequest) (protocol.GameState, error) {
	s, ok := m.store.Get(req.GameID)
	restored := false
	if !ok {
		var err error
		s, err = m.store.Restore(ctx, req.GameID)
		if err != nil {
			if !errors.Is(err, ErrSessionNotFound) {
				obslog.L().Warn("game_restore_error", zap.String("game_id", req.GameID), zap.Error(err))
			}
			return protocol.GameState{}, ErrSessionNotFound
		}
		restored = true
	}
	s.Lock()
	defer s.Unlock()

	if s.State == StateTerminated {
		return protocol.GameState{}, ErrSessionNotFound
	}
	color, ok := s.ColorOf(req.UserID)
	if !ok {
		return protocol.GameState{}, ErrUnauthorized
	}
	m.bindSeat(s, color, req.ConnectionID)

	if restored {
		other := s.Seat(color.Opponent())
		if !other.Bot && other.ConnectionID == "" && !other.Disconnected {
			m.markDisconnected(s, color.Opponent())
		}
		if s.IsBot && !s.Finished() && s.Position.Turn() == s.BotColor {
			if d := m.botDriver(); d != nil {
				d.Schedule(s.ID, s.BotDifficulty)
			}
		}
	}

	white, black := protocol.Seconds(s.WhiteClock), protocol.Seconds(s.BlackClock)
	pgn := s.Position.Movetext()
	snap, err := m.store.LoadSnapshot(ctx, s.ID)
	if err != nil {
		obslog.L().Warn("game_mirror_read_error", zap.String("game_id", s.ID), zap.Error(err))
	}
	if snap != nil && len(snap.Moves) == s.Position.Ply() {
		white, black = snap.WhiteTimer, snap.BlackTimer
		if strings.TrimSpace(snap.PGN) != "" {
			pgn = snap.PGN
		}
	}
	return stateMessage(s, color, white, black, pgn), nil
}

// ActiveGameFor returns the id of a live session seating userID.
func (m *Machine) ActiveGameFor(userID string) (string, bool) {
	s, ok := m.store.ByParticipant(userID)
	if !ok {
		return "", false
	}
	s.Lock()
	defer s.Unlock()
	if s.State == StateTerminated {
		return "", false
	}
	return s.ID, true
}

// actorColor resolves which seat the caller speaks for. A seat bound to one connection does not
// accept actions from another; seats move between connections only through Rehydrate.
func actorColor(s *Session, userID, connID string, bot bool) (Color, error) {
	if bot {
		if !s.IsBot {
			return "", ErrUnauthorized
		}
		return s.BotColor, nil
	}
	if c, ok := s.ColorOf(userID); ok {
		if bound := s.Seat(c).ConnectionID; connID != "" && bound != "" && bound != connID {
			return "", ErrUnauthorized
		}
		return c, nil
	}
	if strings.TrimSpace(userID) == "" {
		if c, ok := s.ColorOfConnection(connID); ok && !s.Seat(c).Bot {
			return c, nil
		}
	}
	return "", ErrUnauthorized
}

// bindSeat points the seat at connID and clears any disconnect mark. The caller holds s's lock.
func (m *Machine) bindSeat(s *Session, c Color, connID string) {
	seat := s.Seat(c)
	if seat.Bot || connID == "" {
		return
	}
	if seat.ConnectionID == connID && !seat.Disconnected {
		return
	}
	seat.ConnectionID = connID
	seat.epoch++
	if seat.Disconnected {
		seat.Disconnected = false
		seat.DisconnectedAt = time.Time{}
		m.stopGraceSeat(s.ID, c)
		obslog.L().Info("game_reconnect", zap.String("game_id", s.ID), zap.String("color", string(c)))
	}
}

func (m *Machine) broadcast(s *Session, msg any) {
	for _, conn := range s.liveConnections() {
		m.send(s.ID, conn, msg)
	}
}

func (m *Machine) send(gameID, conn string, msg any) {
	if err := m.sender.Send(conn, msg); err != nil {
		obslog.L().Debug("game_send_skipped",
			zap.String("game_id", gameID),
			zap.String("conn_id", conn),
			zap.Error(err),
		)
	}
}

// Close stops every pending timer.
func (m *Machine) Close() {
	m.timersMu.Lock()
	for k, t := range m.timers {
		t.timer.Stop()
		delete(m.timers, k)
	}
	m.timersMu.Unlock()
	if d := m.botDriver(); d != nil {
		d.Close()
	}
}
