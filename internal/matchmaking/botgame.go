package matchmaking

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/bot"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
)

type BotRequest struct {
	Player     Player
	Difficulty string
	// Color is the human's seat: white, black or random.
	Color       string
	TimeControl int
}

// CreateBotGame seats p against the bot and starts the clock immediately.
func (c *Coordinator) CreateBotGame(ctx context.Context, req BotRequest) (string, error) {
	diff, ok := bot.Lookup(req.Difficulty)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDifficulty, req.Difficulty)
	}
	p := req.Player
	p.UserID = strings.TrimSpace(p.UserID)
	human, ok := rules.ParseColor(req.Color)
	if !ok {
		human = game.White
		if coinFlip() {
			human = game.Black
		}
	}
	tc := req.TimeControl
	if tc <= 0 {
		tc = c.opts.DefaultTimeControl
	}
	botRef := game.PlayerRef{
		UserID:   game.BotUserPrefix + diff.Name,
		Username: fmt.Sprintf("Bot (%s)", diff.Name),
		Rating:   diff.Rating,
		Bot:      true,
	}
	params := game.SessionParams{
		ID:            uuid.NewString(),
		TimeControl:   tc,
		StartAt:       c.opts.Now(),
		CreatedAt:     c.opts.Now(),
		IsBot:         true,
		BotColor:      human.Opponent(),
		BotDifficulty: diff.Name,
	}
	if human == game.White {
		params.White, params.Black = p.ref(), botRef
	} else {
		params.White, params.Black = botRef, p.ref()
	}

	c.mu.Lock()
	if c.busy(p.UserID) {
		c.mu.Unlock()
		return "", ErrAlreadyInGame
	}
	c.clearSlotFor(p.UserID)
	s := game.NewSession(params)
	c.store.Add(ctx, s)
	c.mu.Unlock()

	c.announce(ctx, s)
	obslog.L().Info("bot_game_create", zap.String("game_id", s.ID), zap.String("difficulty", diff.Name), zap.String("human", string(human)))

	if human == game.Black {
		if d := c.botDriver(); d != nil {
			go func() { _ = d.Trigger(context.WithoutCancel(ctx), s.ID) }()
		}
	}
	return s.ID, nil
}
