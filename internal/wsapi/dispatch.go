package wsapi

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/presence"
	"github.com/park285/chess-arena/internal/protocol"
)

// dispatch decodes one frame and runs its handler. Nothing a client sends can take the
// connection down: decode errors and handler panics become error frames.
func (s *Server) dispatch(ctx context.Context, connID string, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("ws_dispatch_panic",
				zap.String("conn_id", connID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			s.reply(connID, s.errorFrame(kindGame, errInternal, ""))
		}
	}()

	msg, err := protocol.Decode(raw)
	if err != nil {
		obslog.L().Debug("ws_decode_error", zap.String("conn_id", connID), zap.Error(err))
		s.reply(connID, s.errorFrame(kindGame, err, ""))
		return
	}

	switch m := msg.(type) {
	case protocol.UserConnected:
		s.onUserConnected(connID, m)
	case protocol.CreateMatch:
		s.onCreateMatch(ctx, connID, m)
	case protocol.FriendChallenge:
		s.onFriendChallenge(ctx, connID, m)
	case protocol.ChallengeResponse:
		s.onChallengeResponse(ctx, connID, m)
	case protocol.Move:
		s.onMove(ctx, connID, m)
	case protocol.GetGame:
		s.onGetGame(ctx, connID, m)
	case protocol.EndGame:
		s.onEndGame(ctx, connID, m)
	case protocol.CreateBotGame:
		s.onCreateBotGame(ctx, connID, m)
	default:
		s.reply(connID, s.errorFrame(kindGame, fmt.Errorf("%w: %s", protocol.ErrUnknownKind, msg.Kind()), ""))
	}
}

func (s *Server) announce(connID string, u protocol.User) {
	s.registry.Register(presence.Entry{
		UserID:       u.UserID.String(),
		Username:     u.Username,
		Rating:       u.RatingInt(),
		ConnectionID: connID,
	})
}

func (s *Server) onUserConnected(connID string, m protocol.UserConnected) {
	s.announce(connID, m.User)
	obslog.L().Info("user_connected", zap.String("user_id", m.User.UserID.String()), zap.String("conn_id", connID))
	s.reply(connID, protocol.NewNotice(protocol.KindUserConnectedReply, m.User.UserID.String()))
}

func (s *Server) onCreateMatch(ctx context.Context, connID string, m protocol.CreateMatch) {
	s.announce(connID, m.User)
	_, err := s.coord.RequestMatch(ctx, playerOf(m.User, connID))
	if err != nil {
		s.reply(connID, s.errorFrame(kindGame, err, ""))
	}
}

func (s *Server) onFriendChallenge(ctx context.Context, connID string, m protocol.FriendChallenge) {
	challenger := matchmaking.Player{
		UserID:       m.ChallengerID.String(),
		Username:     m.ChallengerUsername,
		ConnectionID: connID,
	}
	s.registry.Register(presence.Entry{UserID: challenger.UserID, Username: challenger.Username, ConnectionID: connID})
	_, err := s.coord.SendChallenge(ctx, matchmaking.ChallengeRequest{
		Challenger:  challenger,
		FriendID:    m.FriendID.String(),
		TimeControl: m.TimeControl,
	})
	if err != nil {
		s.reply(connID, s.errorFrame(kindChallenge, err, ""))
	}
}

func (s *Server) onChallengeResponse(ctx context.Context, connID string, m protocol.ChallengeResponse) {
	responder := matchmaking.Player{UserID: m.ChallengedID.String(), ConnectionID: connID}
	if e, ok := s.registry.Get(responder.UserID); ok {
		responder.Username = e.Username
		responder.Rating = e.Rating
	}
	_, err := s.coord.RespondToChallenge(ctx, matchmaking.ChallengeResponse{
		ChallengeID: m.ChallengeID,
		Responder:   responder,
		Accepted:    m.Accepted,
	})
	if err != nil {
		s.reply(connID, s.errorFrame(kindChallenge, err, ""))
	}
}

func (s *Server) onMove(ctx context.Context, connID string, m protocol.Move) {
	req := game.MoveRequest{
		GameID:       m.GameID,
		UserID:       m.UserID.String(),
		ConnectionID: connID,
		From:         m.From,
		To:           m.To,
		Promotion:    m.Promotion,
		WhiteClock:   clock(m.WhiteTimer),
		BlackClock:   clock(m.BlackTimer),
	}
	if err := s.machine.ApplyMove(ctx, req); err != nil {
		s.reply(connID, s.errorFrame(kindMove, err, m.GameID))
	}
}

func (s *Server) onGetGame(ctx context.Context, connID string, m protocol.GetGame) {
	s.announce(connID, m.User)
	st, err := s.machine.Rehydrate(ctx, game.RehydrateRequest{
		GameID:       m.User.GameID,
		UserID:       m.User.UserID.String(),
		ConnectionID: connID,
	})
	if err != nil {
		s.reply(connID, s.errorFrame(kindGame, err, m.User.GameID))
		return
	}
	s.reply(connID, st)
}

func (s *Server) onEndGame(ctx context.Context, connID string, m protocol.EndGame) {
	err := s.machine.EndGame(ctx, game.EndRequest{
		GameID:       m.GameID,
		UserID:       m.UserID.String(),
		ConnectionID: connID,
		Reason:       m.Reason,
		PGN:          m.PGN,
	})
	if err != nil {
		s.reply(connID, s.errorFrame(kindGame, err, m.GameID))
	}
}

func (s *Server) onCreateBotGame(ctx context.Context, connID string, m protocol.CreateBotGame) {
	s.announce(connID, m.User)
	_, err := s.coord.CreateBotGame(ctx, matchmaking.BotRequest{
		Player:      playerOf(m.User, connID),
		Difficulty:  m.Difficulty,
		Color:       m.PlayerColor,
		TimeControl: m.TimeControl,
	})
	if err != nil {
		s.reply(connID, s.errorFrame(kindBot, err, ""))
	}
}

func playerOf(u protocol.User, connID string) matchmaking.Player {
	return matchmaking.Player{
		UserID:       u.UserID.String(),
		Username:     u.Username,
		Rating:       u.RatingInt(),
		ConnectionID: connID,
	}
}

func clock(sec *float64) *time.Duration {
	if sec == nil {
		return nil
	}
	d := protocol.Duration(*sec)
	return &d
}
