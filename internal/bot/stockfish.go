package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/bot/uci"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
)

// MoveSupplier matches game.MoveSupplier.
type MoveSupplier interface {
	SuggestMove(ctx context.Context, fen string, moves []string, difficulty string) (string, error)
}

// Stockfish asks a pooled UCI engine and falls back to another supplier when the engine fails.
type Stockfish struct {
	pool     *uci.Pool
	fallback MoveSupplier
}

func NewStockfish(pool *uci.Pool, fallback MoveSupplier) *Stockfish {
	return &Stockfish{pool: pool, fallback: fallback}
}

func (s *Stockfish) SuggestMove(ctx context.Context, fen string, moves []string, difficulty string) (string, error) {
	d, ok := Lookup(difficulty)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDifficulty, difficulty)
	}
	move, err := s.search(ctx, moves, d)
	if err == nil && move != "" && legalAfter(moves, move) {
		return move, nil
	}
	if s.fallback == nil {
		return move, err
	}
	obslog.L().Warn("bot_engine_fallback",
		zap.String("difficulty", d.Name),
		zap.String("engine_move", move),
		zap.Error(err),
	)
	return s.fallback.SuggestMove(ctx, fen, moves, difficulty)
}

func (s *Stockfish) search(ctx context.Context, moves []string, d Difficulty) (move string, err error) {
	if s.pool == nil {
		return "", uci.ErrPoolClosed
	}
	engine, err := s.pool.Acquire(ctx, d.engine)
	if err != nil {
		return "", err
	}
	defer func() { s.pool.Release(engine, err) }()
	return engine.BestMove(ctx, "", moves, d.limits)
}

func legalAfter(moves []string, move string) bool {
	pos, err := rules.Replay(moves)
	if err != nil {
		return false
	}
	for _, mv := range pos.LegalMoves() {
		if mv == move {
			return true
		}
	}
	return false
}

func (s *Stockfish) Close() error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Close()
}
