package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/chess-arena/internal/protocol"
	"github.com/park285/chess-arena/internal/rules"
)

// firstLegal replays the game and answers with its first legal move.
type firstLegal struct {
	calls atomic.Int32
	err   error
}

func (f *firstLegal) SuggestMove(_ context.Context, _ string, moves []string, _ string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	pos, err := rules.Replay(moves)
	if err != nil {
		return "", err
	}
	legal := pos.LegalMoves()
	if len(legal) == 0 {
		return "", nil
	}
	return legal[0], nil
}

func newBotSession(t *testing.T, f *fixture, botColor Color) *Session {
	t.Helper()
	human := PlayerRef{UserID: "u1", Username: "alice", ConnectionID: "c1"}
	bot := PlayerRef{UserID: BotUserPrefix + "easy", Username: "Bot (easy)"}
	p := SessionParams{
		ID:            "b1",
		TimeControl:   300,
		StartAt:       time.Now(),
		IsBot:         true,
		BotColor:      botColor,
		BotDifficulty: "easy",
	}
	if botColor == White {
		p.White, p.Black = bot, human
	} else {
		p.White, p.Black = human, bot
	}
	s := NewSession(p)
	f.store.Add(context.Background(), s)
	return s
}

func TestBotTriggerPlaysWhite(t *testing.T) {
	f := newFixture(t, Options{})
	sup := &firstLegal{}
	d := NewBotDriver(f.m, sup, nil)
	s := newBotSession(t, f, White)

	require.NoError(t, d.Trigger(context.Background(), "b1"))
	s.Lock()
	assert.Equal(t, 1, s.Position.Ply())
	assert.Equal(t, Black, s.Position.Turn())
	assert.Less(t, s.WhiteClock, 300*time.Second+time.Millisecond)
	s.Unlock()

	upd, ok := f.sink.last("c1").(protocol.UpdateTimer)
	require.True(t, ok)
	assert.True(t, upd.IsBot)

	// Not the bot's turn: nothing happens.
	require.NoError(t, d.Trigger(context.Background(), "b1"))
	assert.Equal(t, int32(1), sup.calls.Load())
}

func TestHumanMoveSchedulesBotReply(t *testing.T) {
	f := newFixture(t, Options{})
	NewBotDriver(f.m, &firstLegal{}, func(string) time.Duration { return 5 * time.Millisecond })
	s := newBotSession(t, f, Black)

	require.NoError(t, f.move(t, "b1", "u1", "c1", "e2e4"))
	require.Eventually(t, func() bool {
		s.Lock()
		defer s.Unlock()
		return s.Position.Ply() == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBotSupplierErrorLeavesTurn(t *testing.T) {
	f := newFixture(t, Options{})
	d := NewBotDriver(f.m, &firstLegal{err: errors.New("engine gone")}, nil)
	s := newBotSession(t, f, White)

	assert.Error(t, d.Trigger(context.Background(), "b1"))
	s.Lock()
	assert.Equal(t, 0, s.Position.Ply())
	s.Unlock()
}

func TestBotCannotMoveForHuman(t *testing.T) {
	f := newFixture(t, Options{})
	newBotSession(t, f, Black)
	err := f.m.ApplyMove(context.Background(), MoveRequest{GameID: "b1", UserID: BotUserPrefix + "easy", From: "e2", To: "e4"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBotGameEndsImmediatelyOnMate(t *testing.T) {
	f := newFixture(t, Options{})
	s := newBotSession(t, f, Black)
	moves := []string{"e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7"}
	for i, mv := range moves {
		req := MoveRequest{GameID: "b1", From: mv[:2], To: mv[2:4]}
		if i%2 == 0 {
			req.UserID = "u1"
		} else {
			req.Bot = true
		}
		require.NoError(t, f.m.ApplyMove(context.Background(), req))
	}
	over, ok := f.sink.last("c1").(protocol.GameOver)
	require.True(t, ok)
	assert.Equal(t, ReasonCheckmate, over.Reason)
	assert.Equal(t, "u1", over.Winner)
	s.Lock()
	assert.Equal(t, StateTerminated, s.State)
	s.Unlock()
}

func TestConcurrentBotTriggersMoveOnce(t *testing.T) {
	f := newFixture(t, Options{})
	d := NewBotDriver(f.m, &firstLegal{}, func(string) time.Duration { return time.Hour })
	s := newBotSession(t, f, White)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Trigger(context.Background(), "b1")
		}()
	}
	wg.Wait()

	s.Lock()
	defer s.Unlock()
	assert.Equal(t, 1, s.Position.Ply())
	assert.Equal(t, Black, s.Position.Turn())
}

func TestHumanMoveRacingBotMove(t *testing.T) {
	f := newFixture(t, Options{})
	d := NewBotDriver(f.m, &firstLegal{}, func(string) time.Duration { return time.Hour })
	s := newBotSession(t, f, White)

	var wg sync.WaitGroup
	var humanErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = d.Trigger(context.Background(), "b1")
	}()
	go func() {
		defer wg.Done()
		humanErr = f.move(t, "b1", "u1", "c1", "e7e6")
	}()
	wg.Wait()

	s.Lock()
	defer s.Unlock()
	if humanErr != nil {
		assert.ErrorIs(t, humanErr, ErrNotYourTurn)
		assert.Equal(t, 1, s.Position.Ply())
		return
	}
	assert.Equal(t, 2, s.Position.Ply())
	assert.Equal(t, "e7e6", s.Position.LastMove())
}
