package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceRestoresPrevious(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := Replace(zap.New(core))
	L().Info("game_create", zap.String("game_id", "g1"))
	restore()
	L().Info("after_restore")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 captured entry, got %d", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["game_id"]; got != "g1" {
		t.Fatalf("unexpected field: %v", got)
	}
}

func TestInitWritesFile(t *testing.T) {
	restore := Replace(nil)
	defer restore()

	path := filepath.Join(t.TempDir(), "nested", "arena.log")
	if err := Init(Options{Level: "debug", Format: "json", ToFile: true, File: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	L().Debug("match_waiting", zap.String("user_id", "u1"))
	Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), "match_waiting") {
		t.Fatalf("log file missing entry: %q", raw)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if parseLevel("nonsense") != zap.InfoLevel {
		t.Fatalf("unexpected level")
	}
	if parseLevel(" WARN ") != zap.WarnLevel {
		t.Fatalf("expected warn")
	}
}
