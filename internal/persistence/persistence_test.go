package persistence

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.CreateGame(ctx, GameRecord{ID: "g1", WhiteID: "u1", BlackID: "u2", TimeControl: 600}); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if err := m.RecordResult(ctx, Result{GameID: "g1", WinnerID: "u2", Outcome: "black", Reason: "resign", PGN: "1. e4 0-1"}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	res, ok := m.Result("g1")
	if !ok || res.WinnerID != "u2" || res.Reason != "resign" {
		t.Fatalf("unexpected result: %+v ok=%v", res, ok)
	}
	if err := m.RecordResult(ctx, Result{GameID: "missing"}); err == nil {
		t.Fatalf("expected error for unknown game")
	}
}

func TestMemoryFriendshipsAreSymmetric(t *testing.T) {
	m := NewMemory()
	m.AddFriendship("7", "3")
	for _, pair := range [][2]string{{"3", "7"}, {"7", "3"}} {
		ok, err := m.AreFriends(context.Background(), pair[0], pair[1])
		if err != nil || !ok {
			t.Fatalf("AreFriends(%s,%s) = %v, %v", pair[0], pair[1], ok, err)
		}
	}
	if ok, _ := m.AreFriends(context.Background(), "3", "9"); ok {
		t.Fatalf("unexpected friendship")
	}
}

func TestMemoryFailureInjection(t *testing.T) {
	m := NewMemory()
	boom := errors.New("db down")
	m.Fail(boom)
	if err := m.CreateGame(context.Background(), GameRecord{ID: "g"}); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	m.Fail(nil)
	if err := m.CreateGame(context.Background(), GameRecord{ID: "g"}); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
}

func TestNullable(t *testing.T) {
	if v := nullable("  "); v.Valid {
		t.Fatalf("blank should be NULL")
	}
	if v := nullable(" 42 "); !v.Valid || v.String != "42" {
		t.Fatalf("unexpected %+v", v)
	}
}

// Runs against a real database only when TEST_DATABASE_URL is set.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	id := uuid.NewString()
	if err := p.CreateGame(ctx, GameRecord{ID: id, WhiteID: "u1", TimeControl: 600, IsBot: true, BotDifficulty: "easy"}); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if err := p.RecordResult(ctx, Result{GameID: id, Outcome: "draw", Reason: "stalemate"}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
}
