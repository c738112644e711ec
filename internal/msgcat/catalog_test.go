package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedRender(t *testing.T) {
	c := MustDefault()
	got, err := c.Render("challenge.sent", map[string]any{"Friend": "bob"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Challenge sent to bob" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestMissingDataFallsBackToKey(t *testing.T) {
	c := MustDefault()
	if _, err := c.Render("challenge.sent", map[string]any{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if got := c.Text("challenge.sent", map[string]any{}); got != "challenge.sent" {
		t.Fatalf("fallback = %q", got)
	}
	if got := c.Text("nope.nope", nil); got != "nope.nope" {
		t.Fatalf("fallback = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	body := "move:\n  illegal: \"Nope\"\n"
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("move.illegal", nil); got != "Nope" {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Text("move.not_your_turn", nil); got != "It is not your turn" {
		t.Fatalf("default lost: %q", got)
	}
}
