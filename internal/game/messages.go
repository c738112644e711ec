package game

import (
	"github.com/park285/chess-arena/internal/protocol"
	"github.com/park285/chess-arena/internal/rules"
)

// CreatedMessage is the game_created_10 / bot_game_created frame for the seat of color c.
// The caller holds s's lock.
func CreatedMessage(s *Session, c Color) protocol.GameCreated {
	kind := protocol.KindGameCreated
	if s.IsBot {
		kind = protocol.KindBotGameCreated
	}
	return protocol.GameCreated{
		Type:        kind,
		GameID:      s.ID,
		Color:       c,
		Board:       s.Position.Board(),
		StartTime:   s.StartAt.UnixMilli(),
		WhiteTime:   protocol.Seconds(s.WhiteClock),
		BlackTime:   protocol.Seconds(s.BlackClock),
		TimeControl: s.TimeControl,
		Opponent:    s.Seat(c.Opponent()).wire(),
		IsBot:       s.IsBot,
		Difficulty:  s.BotDifficulty,
	}
}

func updateMessage(s *Session, res rules.MoveResult, byBot bool) protocol.UpdateTimer {
	return protocol.UpdateTimer{
		Type:   protocol.KindUpdateTimer,
		GameID: s.ID,
		Move: protocol.MoveInfo{
			From:      res.From,
			To:        res.To,
			Promotion: res.Promotion,
			SAN:       res.SAN,
			UCI:       res.UCI,
		},
		Board:                 s.Position.Board(),
		FEN:                   s.Position.FEN(),
		PGN:                   s.Position.Movetext(),
		WhiteTimer:            protocol.Seconds(s.WhiteClock),
		BlackTimer:            protocol.Seconds(s.BlackClock),
		Turn:                  res.Turn,
		InCheck:               res.Status.InCheck,
		IsCheckmate:           res.Status.Checkmate,
		IsStalemate:           res.Status.Stalemate,
		IsThreefoldRepetition: res.Status.Threefold,
		IsDraw:                res.Status.Draw,
		IsBot:                 byBot,
	}
}

// stateMessage answers get_game for the seat of color c with the given clock and movetext view.
func stateMessage(s *Session, c Color, white, black float64, pgn string) protocol.GameState {
	kind := protocol.KindFetchedGame
	if s.Started {
		kind = protocol.KindExistingGame
	}
	st := s.Position.Status()
	return protocol.GameState{
		Type:                  kind,
		GameID:                s.ID,
		Color:                 c,
		Board:                 s.Position.Board(),
		FEN:                   s.Position.FEN(),
		PGN:                   pgn,
		Moves:                 s.Position.MovesUCI(),
		WhiteTimer:            white,
		BlackTimer:            black,
		Turn:                  s.Position.Turn(),
		IsStarted:             s.Started,
		StartTime:             s.StartAt.UnixMilli(),
		TimeControl:           s.TimeControl,
		White:                 s.White.wire(),
		Black:                 s.Black.wire(),
		Opponent:              s.Seat(c.Opponent()).wire(),
		IsBot:                 s.IsBot,
		Difficulty:            s.BotDifficulty,
		InCheck:               st.InCheck,
		IsCheckmate:           st.Checkmate,
		IsStalemate:           st.Stalemate,
		IsThreefoldRepetition: st.Threefold,
		IsDraw:                st.Draw,
	}
}
