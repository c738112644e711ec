package game

import (
	"context"

	"github.com/park285/chess-arena/internal/presence"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

func errf(s string) error { return staticErr(s) }

// illegalErr is a more specific ErrIllegalMove.
type illegalErr string

func (e illegalErr) Error() string { return string(e) }
func (e illegalErr) Unwrap() error { return ErrIllegalMove }

var (
	ErrSessionNotFound = errf("session not found")
	ErrIllegalMove     = errf("illegal move")
	ErrUnauthorized    = errf("unauthorized action")
	ErrPersistence     = errf("persistence failure")

	ErrNotYourTurn   error = illegalErr("not your turn")
	ErrGameFinished  error = illegalErr("game already finished")
	ErrUnknownReason error = illegalErr("unknown end reason")
	ErrClaimRejected error = illegalErr("claim does not match the position")
)

// ErrTransportUnavailable is re-exported so callers match one sentinel.
var ErrTransportUnavailable error = presence.ErrTransportUnavailable

// Sender delivers one outbound message to a connection. presence.Hub implements it.
type Sender interface {
	Send(connID string, msg any) error
}

// MoveSupplier proposes a UCI move for a bot seat.
type MoveSupplier interface {
	SuggestMove(ctx context.Context, fen string, moves []string, difficulty string) (string, error)
}
