package matchmaking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/chess-arena/internal/bot"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/persistence"
	"github.com/park285/chess-arena/internal/presence"
	"github.com/park285/chess-arena/internal/protocol"
)

type sink struct {
	mu   sync.Mutex
	msgs map[string][]any
}

func (s *sink) Send(connID string, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[connID] = append(s.msgs[connID], msg)
	return nil
}

func (s *sink) all(connID string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.msgs[connID]...)
}

func (s *sink) last(connID string) any {
	list := s.all(connID)
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

type env struct {
	sink     *sink
	gw       *persistence.Memory
	registry *presence.Registry
	machine  *game.Machine
	coord    *Coordinator
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sk := &sink{msgs: make(map[string][]any)}
	gw := persistence.NewMemory()
	reg := presence.NewRegistry()
	m := game.NewMachine(game.NewStore(nil, 0), sk, gw, game.Options{})
	t.Cleanup(m.Close)
	c := New(m, sk, reg, gw, nil, Options{
		StartDelay:         5 * time.Second,
		DefaultTimeControl: 600,
		Now:                func() time.Time { return now },
	})
	return &env{sink: sk, gw: gw, registry: reg, machine: m, coord: c, now: now}
}

func player(id string) Player {
	return Player{UserID: id, Username: "user" + id, Rating: 1200, ConnectionID: "conn-" + id}
}

func TestQuickMatchPairsEarliestAsWhite(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.coord.RequestMatch(ctx, player("a"))
	require.NoError(t, err)
	assert.Equal(t, ResultWaiting, res)
	notice := e.sink.last("conn-a").(protocol.Notice)
	assert.Equal(t, protocol.KindWaiting, notice.Type)

	res, err = e.coord.RequestMatch(ctx, player("b"))
	require.NoError(t, err)
	assert.Equal(t, ResultCreated, res)

	ca := e.sink.last("conn-a").(protocol.GameCreated)
	cb := e.sink.last("conn-b").(protocol.GameCreated)
	assert.Equal(t, protocol.KindGameCreated, ca.Type)
	assert.Equal(t, ca.GameID, cb.GameID)
	assert.Equal(t, game.White, ca.Color)
	assert.Equal(t, game.Black, cb.Color)
	assert.Equal(t, "userb", ca.Opponent.Username)
	assert.Equal(t, e.now.Add(5*time.Second).UnixMilli(), ca.StartTime)
	assert.Equal(t, 600.0, ca.WhiteTime)
	require.Len(t, ca.Board, 8)

	rec, ok := e.gw.Game(ca.GameID)
	require.True(t, ok)
	assert.Equal(t, "a", rec.WhiteID)
	assert.Equal(t, "b", rec.BlackID)

	_, waiting := e.coord.Waiting()
	assert.False(t, waiting)
}

func TestQuickMatchRedirectsSeatedPlayer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, _ = e.coord.RequestMatch(ctx, player("a"))
	_, _ = e.coord.RequestMatch(ctx, player("b"))
	gameID := e.sink.last("conn-a").(protocol.GameCreated).GameID

	res, err := e.coord.RequestMatch(ctx, player("a"))
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyInGame, res)
	redirect := e.sink.last("conn-a").(protocol.Redirect)
	assert.Equal(t, gameID, redirect.GameID)
	assert.Equal(t, 1, e.machine.Store().Count())
}

func TestQuickMatchNeverPairsUserWithSelf(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := player("a")
	_, _ = e.coord.RequestMatch(ctx, p)
	p.ConnectionID = "conn-a2"
	res, err := e.coord.RequestMatch(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, ResultWaiting, res)
	assert.Equal(t, 0, e.machine.Store().Count())

	// The refreshed connection is the one that gets the pairing.
	_, _ = e.coord.RequestMatch(ctx, player("b"))
	_, ok := e.sink.last("conn-a2").(protocol.GameCreated)
	assert.True(t, ok)
}

func TestConcurrentRequestsPairEveryoneOnce(t *testing.T) {
	e := newEnv(t)
	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.coord.RequestMatch(context.Background(), player(fmt.Sprint(i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n/2, e.machine.Store().Count())
	seen := map[string]bool{}
	for _, s := range e.machine.Store().All() {
		s.Lock()
		for _, u := range []string{s.White.UserID, s.Black.UserID} {
			assert.False(t, seen[u], "user %s seated twice", u)
			seen[u] = true
		}
		assert.NotEqual(t, s.White.UserID, s.Black.UserID)
		s.Unlock()
	}
	assert.Len(t, seen, n)
}

func TestDisconnectClearsSlot(t *testing.T) {
	e := newEnv(t)
	_, _ = e.coord.RequestMatch(context.Background(), player("a"))
	e.coord.HandleDisconnect("conn-a")
	_, waiting := e.coord.Waiting()
	assert.False(t, waiting)

	res, _ := e.coord.RequestMatch(context.Background(), player("b"))
	assert.Equal(t, ResultWaiting, res)
}

func TestChallengeFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.gw.AddFriendship("a", "b")
	e.registry.Register(presence.Entry{UserID: "b", Username: "bob", ConnectionID: "conn-b"})

	req := ChallengeRequest{Challenger: player("a"), FriendID: "b", TimeControl: 300}
	ch, err := e.coord.SendChallenge(ctx, req)
	require.NoError(t, err)

	got := e.sink.last("conn-b").(protocol.ChallengeReceived)
	assert.Equal(t, ch.ID, got.ChallengeID)
	assert.Equal(t, "usera", got.ChallengerUsername)
	assert.Equal(t, 300, got.TimeControl)
	sent := e.sink.last("conn-a").(protocol.Notice)
	assert.Equal(t, protocol.KindChallengeSent, sent.Type)
	assert.Contains(t, sent.Message, "bob")

	_, err = e.coord.SendChallenge(ctx, req)
	assert.ErrorIs(t, err, ErrAlreadyPending)

	_, err = e.coord.RespondToChallenge(ctx, ChallengeResponse{ChallengeID: ch.ID, Responder: player("c"), Accepted: true})
	assert.ErrorIs(t, err, game.ErrUnauthorized)

	gameID, err := e.coord.RespondToChallenge(ctx, ChallengeResponse{ChallengeID: ch.ID, Responder: player("b"), Accepted: true})
	require.NoError(t, err)
	require.NotEmpty(t, gameID)

	s, ok := e.machine.Store().Get(gameID)
	require.True(t, ok)
	s.Lock()
	seats := []string{s.White.UserID, s.Black.UserID}
	assert.Equal(t, 300, s.TimeControl)
	s.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, seats)
	assert.Equal(t, gameID, e.sink.last("conn-a").(protocol.GameCreated).GameID)
	assert.Equal(t, gameID, e.sink.last("conn-b").(protocol.GameCreated).GameID)

	_, err = e.coord.RespondToChallenge(ctx, ChallengeResponse{ChallengeID: ch.ID, Responder: player("b"), Accepted: true})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestAcceptedChallengeLeavesQuickMatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.gw.AddFriendship("a", "b")
	e.registry.Register(presence.Entry{UserID: "a", Username: "alice", ConnectionID: "conn-a"})

	res, err := e.coord.RequestMatch(ctx, player("a"))
	require.NoError(t, err)
	require.Equal(t, ResultWaiting, res)

	ch, err := e.coord.SendChallenge(ctx, ChallengeRequest{Challenger: player("b"), FriendID: "a"})
	require.NoError(t, err)
	_, err = e.coord.RespondToChallenge(ctx, ChallengeResponse{ChallengeID: ch.ID, Responder: player("a"), Accepted: true})
	require.NoError(t, err)

	_, waiting := e.coord.Waiting()
	assert.False(t, waiting)

	res, err = e.coord.RequestMatch(ctx, player("c"))
	require.NoError(t, err)
	assert.Equal(t, ResultWaiting, res)

	seatedA := 0
	for _, s := range e.machine.Store().All() {
		s.Lock()
		if s.White.UserID == "a" || s.Black.UserID == "a" {
			seatedA++
		}
		s.Unlock()
	}
	assert.Equal(t, 1, seatedA)
	assert.Equal(t, 1, e.machine.Store().Count())
}

func TestChallengerLeavesQuickMatchOnAccept(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.gw.AddFriendship("a", "b")
	e.registry.Register(presence.Entry{UserID: "b", Username: "bob", ConnectionID: "conn-b"})

	_, _ = e.coord.RequestMatch(ctx, player("a"))
	ch, err := e.coord.SendChallenge(ctx, ChallengeRequest{Challenger: player("a"), FriendID: "b"})
	require.NoError(t, err)
	_, err = e.coord.RespondToChallenge(ctx, ChallengeResponse{ChallengeID: ch.ID, Responder: player("b"), Accepted: true})
	require.NoError(t, err)

	res, err := e.coord.RequestMatch(ctx, player("c"))
	require.NoError(t, err)
	assert.Equal(t, ResultWaiting, res)
	assert.Equal(t, 1, e.machine.Store().Count())
}

func TestQuickMatchDropsSeatedSlotHolder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, _ = e.coord.RequestMatch(ctx, player("a"))

	// a gets seated elsewhere, e.g. a game restored from the mirror.
	e.machine.Store().Add(ctx, game.NewSession(game.SessionParams{
		ID:          "restored",
		White:       game.PlayerRef{UserID: "a"},
		Black:       game.PlayerRef{UserID: "z"},
		TimeControl: 600,
	}))

	res, err := e.coord.RequestMatch(ctx, player("c"))
	require.NoError(t, err)
	assert.Equal(t, ResultWaiting, res)
	waiter, _ := e.coord.Waiting()
	assert.Equal(t, "c", waiter)
	assert.Equal(t, 1, e.machine.Store().Count())
}

func TestChallengeRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.gw.AddFriendship("a", "b")
	e.registry.Register(presence.Entry{UserID: "b", Username: "bob", ConnectionID: "conn-b"})

	ch, err := e.coord.SendChallenge(ctx, ChallengeRequest{Challenger: player("a"), FriendID: "b"})
	require.NoError(t, err)
	_, err = e.coord.RespondToChallenge(ctx, ChallengeResponse{ChallengeID: ch.ID, Responder: player("b")})
	require.NoError(t, err)

	n := e.sink.last("conn-a").(protocol.Notice)
	assert.Equal(t, protocol.KindChallengeRejected, n.Type)
	assert.Equal(t, 0, e.coord.PendingChallenges())
	assert.Equal(t, 0, e.machine.Store().Count())
}

func TestChallengeValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.coord.SendChallenge(ctx, ChallengeRequest{Challenger: player("a"), FriendID: "a"})
	assert.ErrorIs(t, err, ErrSelfChallenge)

	_, err = e.coord.SendChallenge(ctx, ChallengeRequest{Challenger: player("a"), FriendID: "b"})
	assert.ErrorIs(t, err, ErrNotFriends)

	e.gw.AddFriendship("a", "b")
	_, err = e.coord.SendChallenge(ctx, ChallengeRequest{Challenger: player("a"), FriendID: "b"})
	assert.ErrorIs(t, err, ErrFriendOffline)

	e.registry.Register(presence.Entry{UserID: "b", ConnectionID: "conn-b"})
	ch, err := e.coord.SendChallenge(ctx, ChallengeRequest{Challenger: player("a"), FriendID: "b"})
	require.NoError(t, err)
	e.coord.HandleDisconnect("conn-a")
	_, err = e.coord.RespondToChallenge(ctx, ChallengeResponse{ChallengeID: ch.ID, Responder: player("b"), Accepted: true})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestCreateBotGame(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	driver := game.NewBotDriver(e.machine, bot.NewBuiltin(3), nil)
	e.coord.AttachBot(driver)

	_, err := e.coord.CreateBotGame(ctx, BotRequest{Player: player("a"), Difficulty: "godlike"})
	assert.ErrorIs(t, err, ErrUnknownDifficulty)

	id, err := e.coord.CreateBotGame(ctx, BotRequest{Player: player("a"), Difficulty: "easy", Color: "black", TimeControl: 180})
	require.NoError(t, err)

	created := e.sink.all("conn-a")[0].(protocol.GameCreated)
	assert.Equal(t, protocol.KindBotGameCreated, created.Type)
	assert.Equal(t, game.Black, created.Color)
	assert.True(t, created.IsBot)
	assert.True(t, created.Opponent.IsBot)
	assert.Equal(t, 800, created.Opponent.Rating)

	rec, ok := e.gw.Game(id)
	require.True(t, ok)
	assert.Empty(t, rec.WhiteID, "bot seat stored as NULL")
	assert.Equal(t, "a", rec.BlackID)

	s, _ := e.machine.Store().Get(id)
	require.Eventually(t, func() bool {
		s.Lock()
		defer s.Unlock()
		return s.Position.Ply() == 1
	}, 2*time.Second, 5*time.Millisecond, "bot opens as white")

	_, err = e.coord.CreateBotGame(ctx, BotRequest{Player: player("a"), Difficulty: "easy"})
	assert.ErrorIs(t, err, ErrAlreadyInGame)
}
