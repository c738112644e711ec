package matchmaking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/protocol"
)

type Challenge struct {
	ID             string
	ChallengerID   string
	ChallengerName string
	ChallengerConn string
	TargetID       string
	TargetConn     string
	TimeControl    int
	CreatedAt      time.Time
}

type ChallengeRequest struct {
	Challenger  Player
	FriendID    string
	TimeControl int
}

// SendChallenge offers a game to an online friend.
func (c *Coordinator) SendChallenge(ctx context.Context, req ChallengeRequest) (*Challenge, error) {
	from := strings.TrimSpace(req.Challenger.UserID)
	to := strings.TrimSpace(req.FriendID)
	if from == to {
		return nil, ErrSelfChallenge
	}
	ok, err := c.gw.AreFriends(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: friendship lookup: %w", game.ErrPersistence, err)
	}
	if !ok {
		return nil, ErrNotFriends
	}
	target, online := c.registry.Get(to)
	if !online {
		return nil, ErrFriendOffline
	}
	tc := req.TimeControl
	if tc <= 0 {
		tc = c.opts.DefaultTimeControl
	}

	c.mu.Lock()
	for _, ch := range c.challenges {
		if ch.ChallengerID == from && ch.TargetID == to {
			c.mu.Unlock()
			return nil, ErrAlreadyPending
		}
	}
	if c.busy(from, to) {
		c.mu.Unlock()
		return nil, ErrAlreadyInGame
	}
	ch := &Challenge{
		ID:             c.nextChallengeID(),
		ChallengerID:   from,
		ChallengerName: req.Challenger.Username,
		ChallengerConn: req.Challenger.ConnectionID,
		TargetID:       to,
		TargetConn:     target.ConnectionID,
		TimeControl:    tc,
		CreatedAt:      c.opts.Now(),
	}
	c.challenges[ch.ID] = ch
	c.mu.Unlock()

	c.send(ch.TargetConn, protocol.ChallengeReceived{
		Type:               protocol.KindChallengeReceived,
		ChallengeID:        ch.ID,
		ChallengerID:       from,
		ChallengerUsername: ch.ChallengerName,
		TimeControl:        tc,
	})
	name := target.Username
	if name == "" {
		name = to
	}
	c.send(ch.ChallengerConn, protocol.NewNotice(protocol.KindChallengeSent,
		c.msgs.Text("challenge.sent", map[string]string{"Friend": name})))
	obslog.L().Info("challenge_sent", zap.String("challenge_id", ch.ID), zap.String("from", from), zap.String("to", to))
	return ch, nil
}

type ChallengeResponse struct {
	ChallengeID string
	Responder   Player
	Accepted    bool
}

// RespondToChallenge accepts or rejects a pending challenge. Only the challenged player may answer.
func (c *Coordinator) RespondToChallenge(ctx context.Context, resp ChallengeResponse) (string, error) {
	responder := strings.TrimSpace(resp.Responder.UserID)

	c.mu.Lock()
	ch, ok := c.challenges[strings.TrimSpace(resp.ChallengeID)]
	if !ok {
		c.mu.Unlock()
		return "", ErrChallengeNotFound
	}
	if ch.TargetID != responder {
		c.mu.Unlock()
		return "", game.ErrUnauthorized
	}
	delete(c.challenges, ch.ID)

	if !resp.Accepted {
		c.mu.Unlock()
		name := resp.Responder.Username
		if name == "" {
			name = responder
		}
		c.send(c.liveConn(ch.ChallengerID, ch.ChallengerConn), protocol.NewNotice(protocol.KindChallengeRejected,
			c.msgs.Text("challenge.rejected", map[string]string{"Friend": name})))
		obslog.L().Info("challenge_rejected", zap.String("challenge_id", ch.ID))
		return "", nil
	}

	if c.busy(ch.ChallengerID, responder) {
		c.mu.Unlock()
		return "", ErrAlreadyInGame
	}
	challenger := Player{UserID: ch.ChallengerID, Username: ch.ChallengerName, ConnectionID: c.liveConn(ch.ChallengerID, ch.ChallengerConn)}
	if e, ok := c.registry.Get(ch.ChallengerID); ok {
		challenger.Rating = e.Rating
		if challenger.Username == "" {
			challenger.Username = e.Username
		}
	}
	target := resp.Responder
	target.UserID = responder
	white, black := challenger, target
	if coinFlip() {
		white, black = target, challenger
	}
	s := c.open(ctx, white, black, ch.TimeControl, c.opts.Now().Add(c.opts.StartDelay))
	c.clearSlotFor(ch.ChallengerID, responder)
	c.mu.Unlock()

	c.announce(ctx, s)
	obslog.L().Info("challenge_accepted", zap.String("challenge_id", ch.ID), zap.String("game_id", s.ID))
	return s.ID, nil
}

// busy reports whether either user sits in a live session. The caller holds c.mu.
func (c *Coordinator) busy(users ...string) bool {
	for _, u := range users {
		if _, ok := c.machine.ActiveGameFor(u); ok {
			return true
		}
	}
	return false
}

// liveConn prefers the user's current registry binding over the one captured earlier.
func (c *Coordinator) liveConn(userID, fallback string) string {
	if conn := c.registry.ConnectionOf(userID); conn != "" {
		return conn
	}
	return fallback
}

func (c *Coordinator) nextChallengeID() string {
	return fmt.Sprintf("ch-%d-%d", c.opts.Now().UnixNano(), c.seq.Add(1))
}
