// Package protocol defines the websocket JSON messages. Every frame carries a "type" discriminator.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

const (
	ErrMalformed   = staticErr("malformed message")
	ErrUnknownKind = staticErr("unknown message type")
)

// Inbound kinds.
const (
	KindUserConnected     = "user_connected"
	KindCreate10          = "create_10"
	KindCreateMatch       = "create_match"
	KindFriendChallenge   = "friend_challenge"
	KindChallengeResponse = "challenge_response"
	KindMove              = "move"
	KindGetGame           = "get_game"
	KindEndGame           = "end_game"
	KindCreateBotGame     = "create_bot_game"
)

// ID accepts either a JSON string or a JSON number; user ids come from a numeric primary key.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type User struct {
	UserID   ID      `json:"userId"`
	Username string  `json:"username"`
	Rating   float64 `json:"rating"`
	GameID   string  `json:"gameId,omitempty"`
}

func (u User) RatingInt() int { return int(u.Rating) }

// Inbound is a decoded and validated client message.
type Inbound interface {
	Kind() string
	validate() error
}

type UserConnected struct {
	User User `json:"user"`
}

type CreateMatch struct {
	Type string `json:"type"`
	User User   `json:"user"`
}

type FriendChallenge struct {
	ChallengerID       ID     `json:"challengerId"`
	FriendID           ID     `json:"friendId"`
	TimeControl        int    `json:"timeControl"`
	ChallengerUsername string `json:"challengerUsername"`
}

type ChallengeResponse struct {
	ChallengerID ID     `json:"challengerId"`
	ChallengedID ID     `json:"challengedId"`
	Accepted     bool   `json:"accepted"`
	ChallengeID  string `json:"challengeId"`
}

// Move carries the mover's view of both clocks in seconds. Clocks are optional.
type Move struct {
	GameID     string   `json:"gameId"`
	UserID     ID       `json:"userId"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Promotion  string   `json:"promotion"`
	WhiteTimer *float64 `json:"whiteTimer"`
	BlackTimer *float64 `json:"blackTimer"`
}

type GetGame struct {
	User User `json:"user"`
}

type EndGame struct {
	GameID string `json:"gameId"`
	UserID ID     `json:"userId"`
	Reason string `json:"reason"`
	PGN    string `json:"pgn"`
}

type CreateBotGame struct {
	User        User   `json:"user"`
	Difficulty  string `json:"difficulty"`
	PlayerColor string `json:"playerColor"`
	TimeControl int    `json:"timeControl"`
}

func (UserConnected) Kind() string     { return KindUserConnected }
func (m CreateMatch) Kind() string     { return m.Type }
func (FriendChallenge) Kind() string   { return KindFriendChallenge }
func (ChallengeResponse) Kind() string { return KindChallengeResponse }
func (Move) Kind() string              { return KindMove }
func (GetGame) Kind() string           { return KindGetGame }
func (EndGame) Kind() string           { return KindEndGame }
func (CreateBotGame) Kind() string     { return KindCreateBotGame }

func (m UserConnected) validate() error { return requireID("user.userId", m.User.UserID) }
func (m CreateMatch) validate() error   { return requireID("user.userId", m.User.UserID) }

func (m FriendChallenge) validate() error {
	if err := requireID("challengerId", m.ChallengerID); err != nil {
		return err
	}
	if m.TimeControl < 0 {
		return fmt.Errorf("%w: timeControl must not be negative", ErrMalformed)
	}
	return requireID("friendId", m.FriendID)
}

func (m ChallengeResponse) validate() error {
	if strings.TrimSpace(m.ChallengeID) == "" {
		return fmt.Errorf("%w: challengeId is required", ErrMalformed)
	}
	return requireID("challengedId", m.ChallengedID)
}

func (m Move) validate() error {
	if strings.TrimSpace(m.GameID) == "" {
		return fmt.Errorf("%w: gameId is required", ErrMalformed)
	}
	if strings.TrimSpace(m.From) == "" || strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: from and to are required", ErrMalformed)
	}
	return nil
}

func (m GetGame) validate() error {
	if strings.TrimSpace(m.User.GameID) == "" {
		return fmt.Errorf("%w: user.gameId is required", ErrMalformed)
	}
	return requireID("user.userId", m.User.UserID)
}

func (m EndGame) validate() error {
	if strings.TrimSpace(m.GameID) == "" {
		return fmt.Errorf("%w: gameId is required", ErrMalformed)
	}
	if strings.TrimSpace(m.Reason) == "" {
		return fmt.Errorf("%w: reason is required", ErrMalformed)
	}
	return nil
}

func (m CreateBotGame) validate() error {
	if m.TimeControl < 0 {
		return fmt.Errorf("%w: timeControl must not be negative", ErrMalformed)
	}
	return requireID("user.userId", m.User.UserID)
}

func requireID(field string, id ID) error {
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("%w: %s is required", ErrMalformed, field)
	}
	return nil
}

// Decode parses one frame into its typed variant and validates required fields.
func Decode(raw []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var msg Inbound
	var err error
	switch strings.TrimSpace(env.Type) {
	case KindUserConnected:
		msg, err = decodeAs[UserConnected](raw)
	case KindCreate10, KindCreateMatch:
		var m CreateMatch
		m, err = decodeAs[CreateMatch](raw)
		m.Type = strings.TrimSpace(env.Type)
		msg = m
	case KindFriendChallenge:
		msg, err = decodeAs[FriendChallenge](raw)
	case KindChallengeResponse:
		msg, err = decodeAs[ChallengeResponse](raw)
	case KindMove:
		msg, err = decodeAs[Move](raw)
	case KindGetGame:
		msg, err = decodeAs[GetGame](raw)
	case KindEndGame:
		msg, err = decodeAs[EndGame](raw)
	case KindCreateBotGame:
		msg, err = decodeAs[CreateBotGame](raw)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, strconv.Quote(env.Type))
	}
	if err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeAs[T any](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}
