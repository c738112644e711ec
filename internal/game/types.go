package game

import (
	"strings"
	"sync"
	"time"

	"github.com/park285/chess-arena/internal/protocol"
	"github.com/park285/chess-arena/internal/rules"
)

type Color = rules.Color

const (
	White = rules.White
	Black = rules.Black
)

// State is the session lifecycle. Transitions only move forward.
type State string

const (
	StateWaitingToStart  State = "waiting_to_start"
	StateInProgress      State = "in_progress"
	StateTerminalPending State = "terminal_pending"
	StateTerminated      State = "terminated"
)

// End reasons as they appear on the wire and in the games table.
const (
	ReasonResign        = "resign"
	ReasonTime          = "time"
	ReasonStalemate     = "stalemate"
	ReasonThreefold     = "threefold_repetition"
	ReasonCheckmate     = "checkmate"
	ReasonDraw          = "draw"
	ReasonDisconnection = "disconnection"
)

// BotUserPrefix tags synthetic bot seats, e.g. "bot:medium".
const BotUserPrefix = "bot:"

type PlayerRef struct {
	UserID         string
	Username       string
	Rating         int
	ConnectionID   string
	Bot            bool
	Disconnected   bool
	DisconnectedAt time.Time
	// epoch increments on every disconnect and reconnect; a grace timer only fires for its own epoch.
	epoch uint64
}

func (p PlayerRef) wire() protocol.Player {
	return protocol.Player{UserID: p.UserID, Username: p.Username, Rating: p.Rating, IsBot: p.Bot}
}

// Outcome is a detected or decided result. Winner is empty for draws.
type Outcome struct {
	Winner Color
	Reason string
}

// Session is the aggregate root for one game. All fields are guarded by mu.
type Session struct {
	ID            string
	White         PlayerRef
	Black         PlayerRef
	Position      *rules.Position
	WhiteClock    time.Duration
	BlackClock    time.Duration
	Started       bool
	IsBot         bool
	BotColor      Color
	BotDifficulty string
	TimeControl   int
	StartAt       time.Time
	CreatedAt     time.Time
	LastMoveAt    time.Time
	State         State
	Pending       *Outcome

	mu sync.Mutex
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// SessionParams describes a freshly paired game.
type SessionParams struct {
	ID            string
	White         PlayerRef
	Black         PlayerRef
	TimeControl   int
	StartAt       time.Time
	CreatedAt     time.Time
	IsBot         bool
	BotColor      Color
	BotDifficulty string
}

func NewSession(p SessionParams) *Session {
	clock := time.Duration(p.TimeControl) * time.Second
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	s := &Session{
		ID:            p.ID,
		White:         p.White,
		Black:         p.Black,
		Position:      rules.New(),
		WhiteClock:    clock,
		BlackClock:    clock,
		IsBot:         p.IsBot,
		BotDifficulty: p.BotDifficulty,
		TimeControl:   p.TimeControl,
		StartAt:       p.StartAt,
		CreatedAt:     created,
		State:         StateWaitingToStart,
	}
	if p.IsBot {
		s.BotColor = p.BotColor
		s.Seat(p.BotColor).Bot = true
	}
	return s
}

func (s *Session) Seat(c Color) *PlayerRef {
	if c == Black {
		return &s.Black
	}
	return &s.White
}

// ColorOf returns the human seat bound to userID.
func (s *Session) ColorOf(userID string) (Color, bool) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", false
	}
	if s.White.UserID == userID && !s.White.Bot {
		return White, true
	}
	if s.Black.UserID == userID && !s.Black.Bot {
		return Black, true
	}
	return "", false
}

// ColorOfConnection returns the seat currently bound to connID.
func (s *Session) ColorOfConnection(connID string) (Color, bool) {
	if connID == "" {
		return "", false
	}
	if s.White.ConnectionID == connID {
		return White, true
	}
	if s.Black.ConnectionID == connID {
		return Black, true
	}
	return "", false
}

func (s *Session) Clock(c Color) time.Duration {
	if c == Black {
		return s.BlackClock
	}
	return s.WhiteClock
}

func (s *Session) setClock(c Color, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if c == Black {
		s.BlackClock = d
	} else {
		s.WhiteClock = d
	}
}

func (s *Session) Finished() bool {
	return s.State == StateTerminated || s.State == StateTerminalPending
}

// humans returns the user ids of non-bot seats.
func (s *Session) humans() []string {
	out := make([]string, 0, 2)
	if !s.White.Bot && s.White.UserID != "" {
		out = append(out, s.White.UserID)
	}
	if !s.Black.Bot && s.Black.UserID != "" {
		out = append(out, s.Black.UserID)
	}
	return out
}

// liveConnections returns the connection ids bound to human seats.
func (s *Session) liveConnections() []string {
	out := make([]string, 0, 2)
	for _, seat := range []*PlayerRef{&s.White, &s.Black} {
		if !seat.Bot && seat.ConnectionID != "" {
			out = append(out, seat.ConnectionID)
		}
	}
	return out
}
