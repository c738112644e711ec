// Package persistence stores game rows and reads friendships from the relational store.
package persistence

import (
	"context"
	"time"
)

// GameRecord is written once when two seats are paired. Empty ids (bot seats) are stored as NULL.
type GameRecord struct {
	ID            string
	WhiteID       string
	BlackID       string
	WhiteName     string
	BlackName     string
	TimeControl   int
	IsBot         bool
	BotDifficulty string
	CreatedAt     time.Time
}

// Result is the final outcome. WinnerID is empty for draws and for bot wins.
type Result struct {
	GameID   string
	WinnerID string
	// Outcome is "white", "black" or "draw".
	Outcome string
	Reason  string
	PGN     string
	EndedAt time.Time
}

// Gateway is the port the session layer writes through. Failures never roll back in-memory state.
type Gateway interface {
	CreateGame(ctx context.Context, rec GameRecord) error
	RecordResult(ctx context.Context, res Result) error
	AreFriends(ctx context.Context, a, b string) (bool, error)
	Close() error
}
