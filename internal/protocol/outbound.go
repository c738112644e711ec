package protocol

import (
	"math"
	"time"

	"github.com/park285/chess-arena/internal/rules"
)

// Outbound kinds.
const (
	KindGameCreated        = "game_created_10"
	KindBotGameCreated     = "bot_game_created"
	KindRedirectToGame     = "redirect_to_game"
	KindWaiting            = "waiting"
	KindUpdateTimer        = "update_timer"
	KindExistingGame       = "existing_game"
	KindFetchedGame        = "fetched_game"
	KindEndGameNotice      = "end_game"
	KindChallengeReceived  = "friend_challenge_received"
	KindChallengeSent      = "challenge_sent"
	KindChallengeRejected  = "challenge_rejected"
	KindChallengeError     = "challenge_error"
	KindMoveError          = "move_error"
	KindGameError          = "game_error"
	KindBotGameError       = "bot_game_error"
	KindUserConnectedReply = "user_connected_ack"
)

type Player struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Rating   int    `json:"rating,omitempty"`
	IsBot    bool   `json:"isBot,omitempty"`
}

// GameCreated is sent to each seat when a session is created.
type GameCreated struct {
	Type        string      `json:"type"`
	GameID      string      `json:"gameId"`
	Color       rules.Color `json:"color"`
	Board       rules.Board `json:"board"`
	StartTime   int64       `json:"startTime"`
	WhiteTime   float64     `json:"whiteTime"`
	BlackTime   float64     `json:"blackTime"`
	TimeControl int         `json:"timeControl"`
	Opponent    Player      `json:"opponent"`
	IsBot       bool        `json:"isBot,omitempty"`
	Difficulty  string      `json:"difficulty,omitempty"`
}

type Redirect struct {
	Type   string `json:"type"`
	GameID string `json:"gameId"`
}

type Notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type MoveInfo struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san"`
	UCI       string `json:"uci"`
}

type UpdateTimer struct {
	Type                  string      `json:"type"`
	GameID                string      `json:"gameId"`
	Move                  MoveInfo    `json:"move"`
	Board                 rules.Board `json:"board"`
	FEN                   string      `json:"fen"`
	PGN                   string      `json:"pgn"`
	WhiteTimer            float64     `json:"whiteTimer"`
	BlackTimer            float64     `json:"blackTimer"`
	Turn                  rules.Color `json:"turn"`
	InCheck               bool        `json:"inCheck"`
	IsCheckmate           bool        `json:"isCheckmate"`
	IsStalemate           bool        `json:"isStalemate"`
	IsThreefoldRepetition bool        `json:"isThreefoldRepetition"`
	IsDraw                bool        `json:"isDraw"`
	IsBot                 bool        `json:"isBot"`
}

// GameState answers get_game: Type is existing_game once play has started, fetched_game before.
type GameState struct {
	Type                  string      `json:"type"`
	GameID                string      `json:"gameId"`
	Color                 rules.Color `json:"color"`
	Board                 rules.Board `json:"board"`
	FEN                   string      `json:"fen"`
	PGN                   string      `json:"pgn"`
	Moves                 []string    `json:"moves"`
	WhiteTimer            float64     `json:"whiteTimer"`
	BlackTimer            float64     `json:"blackTimer"`
	Turn                  rules.Color `json:"turn"`
	IsStarted             bool        `json:"isStarted"`
	StartTime             int64       `json:"startTime"`
	TimeControl           int         `json:"timeControl"`
	White                 Player      `json:"whitePlayer"`
	Black                 Player      `json:"blackPlayer"`
	Opponent              Player      `json:"opponent"`
	IsBot                 bool        `json:"isBot"`
	Difficulty            string      `json:"difficulty,omitempty"`
	InCheck               bool        `json:"inCheck"`
	IsCheckmate           bool        `json:"isCheckmate"`
	IsStalemate           bool        `json:"isStalemate"`
	IsThreefoldRepetition bool        `json:"isThreefoldRepetition"`
	IsDraw                bool        `json:"isDraw"`
}

type GameOver struct {
	Type        string      `json:"type"`
	GameID      string      `json:"gameId"`
	Reason      string      `json:"reason"`
	Winner      string      `json:"winner,omitempty"`
	WinnerColor rules.Color `json:"winnerColor,omitempty"`
	PGN         string      `json:"pgn"`
}

type ChallengeReceived struct {
	Type               string `json:"type"`
	ChallengeID        string `json:"challengeId"`
	ChallengerID       string `json:"challengerId"`
	ChallengerUsername string `json:"challengerUsername"`
	TimeControl        int    `json:"timeControl"`
}

type Error struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	GameID  string `json:"gameId,omitempty"`
}

func NewError(kind, msg, details string) Error {
	return Error{Type: kind, Error: msg, Details: details}
}

func NewNotice(kind, msg string) Notice { return Notice{Type: kind, Message: msg} }

const maxClockSeconds = 7 * 24 * 3600

// Seconds renders a clock for the wire with millisecond precision.
func Seconds(d time.Duration) float64 {
	if d < 0 {
		d = 0
	}
	return math.Round(d.Seconds()*1000) / 1000
}

// Duration converts a wire clock in seconds, clamping negatives to zero.
func Duration(sec float64) time.Duration {
	if sec <= 0 || math.IsNaN(sec) {
		return 0
	}
	if sec > maxClockSeconds {
		sec = maxClockSeconds
	}
	return time.Duration(sec * float64(time.Second))
}
