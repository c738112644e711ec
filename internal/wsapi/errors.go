package wsapi

import (
	"errors"

	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/protocol"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

const (
	errBinaryFrame = staticErr("binary frames are not supported")
	errInternal    = staticErr("internal error")
)

// Error frame families; each maps to one outbound *_error kind.
const (
	kindMove      = protocol.KindMoveError
	kindGame      = protocol.KindGameError
	kindChallenge = protocol.KindChallengeError
	kindBot       = protocol.KindBotGameError
)

type errorKey struct {
	err error
	key string
}

// Ordered most specific first: ErrNotYourTurn also matches ErrIllegalMove.
var errorKeys = map[string][]errorKey{
	kindMove: {
		{game.ErrSessionNotFound, "move.session_not_found"},
		{game.ErrNotYourTurn, "move.not_your_turn"},
		{game.ErrGameFinished, "move.finished"},
		{game.ErrUnauthorized, "move.not_participant"},
		{game.ErrIllegalMove, "move.illegal"},
	},
	kindGame: {
		{game.ErrSessionNotFound, "game.not_found"},
		{game.ErrUnauthorized, "move.not_participant"},
		{game.ErrGameFinished, "move.finished"},
		{game.ErrIllegalMove, "move.illegal"},
		{protocol.ErrMalformed, "game.bad_request"},
		{protocol.ErrUnknownKind, "game.bad_request"},
		{errBinaryFrame, "game.bad_request"},
	},
	kindChallenge: {
		{matchmaking.ErrSelfChallenge, "challenge.self"},
		{matchmaking.ErrNotFriends, "challenge.not_friends"},
		{matchmaking.ErrFriendOffline, "challenge.offline"},
		{matchmaking.ErrAlreadyPending, "challenge.pending"},
		{matchmaking.ErrChallengeNotFound, "challenge.not_found"},
		{matchmaking.ErrAlreadyInGame, "challenge.busy"},
		{game.ErrUnauthorized, "challenge.not_target"},
	},
	kindBot: {
		{matchmaking.ErrUnknownDifficulty, "bot.unknown_difficulty"},
		{matchmaking.ErrAlreadyInGame, "bot.already_in_game"},
	},
}

// errorFrame renders err as a frame of the given kind with a catalogue message. Unmapped errors
// keep their text in Details only.
func (s *Server) errorFrame(kind string, err error, gameID string) protocol.Error {
	key := "game.internal"
	for _, ek := range errorKeys[kind] {
		if errors.Is(err, ek.err) {
			key = ek.key
			break
		}
	}
	frame := protocol.NewError(kind, s.msgs.Text(key, nil), err.Error())
	frame.GameID = gameID
	return frame
}
