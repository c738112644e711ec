package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS games (
    id             TEXT PRIMARY KEY,
    white_id       TEXT NULL,
    black_id       TEXT NULL,
    white_name     TEXT NOT NULL DEFAULT '',
    black_name     TEXT NOT NULL DEFAULT '',
    time_control   INTEGER NOT NULL DEFAULT 600,
    is_bot         BOOLEAN NOT NULL DEFAULT FALSE,
    bot_difficulty TEXT NOT NULL DEFAULT '',
    pgn            TEXT NOT NULL DEFAULT '',
    result         TEXT NULL,
    result_reason  TEXT NULL,
    winner_id      TEXT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    ended_at       TIMESTAMPTZ NULL
);
CREATE TABLE IF NOT EXISTS friendships (
    user1_id   TEXT NOT NULL,
    user2_id   TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user1_id, user2_id)
);`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// EnsureSchema creates the games and friendships tables when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if p == nil || p.db == nil {
		return nil
	}
	_, err := p.db.ExecContext(ctx, schemaDDL)
	return err
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) CreateGame(ctx context.Context, rec GameRecord) error {
	if p == nil || p.db == nil {
		return nil
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	q := `INSERT INTO games (
        id, white_id, black_id, white_name, black_name,
        time_control, is_bot, bot_difficulty, pgn, created_at
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'',$9)
      ON CONFLICT (id) DO NOTHING`
	_, err := p.db.ExecContext(ctx, q,
		rec.ID,
		nullable(rec.WhiteID), nullable(rec.BlackID),
		strings.TrimSpace(rec.WhiteName), strings.TrimSpace(rec.BlackName),
		rec.TimeControl, rec.IsBot, rec.BotDifficulty, created,
	)
	if err != nil {
		return fmt.Errorf("insert game %s: %w", rec.ID, err)
	}
	return nil
}

func (p *Postgres) RecordResult(ctx context.Context, res Result) error {
	if p == nil || p.db == nil {
		return nil
	}
	ended := res.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	q := `UPDATE games SET
        winner_id=$2, pgn=$3, result=$4, result_reason=$5, ended_at=$6
      WHERE id=$1`
	out, err := p.db.ExecContext(ctx, q,
		res.GameID, nullable(res.WinnerID), res.PGN, strings.TrimSpace(res.Outcome), strings.TrimSpace(res.Reason), ended,
	)
	if err != nil {
		return fmt.Errorf("update game %s: %w", res.GameID, err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update game %s: no such row", res.GameID)
	}
	return nil
}

// AreFriends checks the friendships table in either orientation.
func (p *Postgres) AreFriends(ctx context.Context, a, b string) (bool, error) {
	if p == nil || p.db == nil {
		return false, nil
	}
	var ok bool
	q := `SELECT EXISTS (
        SELECT 1 FROM friendships
        WHERE (user1_id=$1 AND user2_id=$2) OR (user1_id=$2 AND user2_id=$1)
      )`
	if err := p.db.QueryRowContext(ctx, q, strings.TrimSpace(a), strings.TrimSpace(b)).Scan(&ok); err != nil {
		return false, fmt.Errorf("friendship lookup: %w", err)
	}
	return ok, nil
}

func nullable(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
