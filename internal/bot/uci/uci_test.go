package uci

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine writes a tiny shell UCI engine that always answers bestmove with reply.
func fakeEngine(t *testing.T, reply string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	script := `#!/bin/sh
while read line; do
  case "$line" in
    uci) echo "id name fake"; echo "uciok" ;;
    isready) echo "readyok" ;;
    go*) echo "info depth 1 score cp 12 pv ` + reply + `"; echo "bestmove ` + reply + `" ;;
    quit) exit 0 ;;
  esac
done
`
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestPositionCommand(t *testing.T) {
	assert.Equal(t, "position startpos", positionCommand("", nil))
	assert.Equal(t, "position startpos moves e2e4 e7e5", positionCommand("startpos", []string{"e2e4", "e7e5"}))
	assert.Equal(t, "position fen 8/8/8/8/8/8/8/K6k w - - 0 1", positionCommand("8/8/8/8/8/8/8/K6k w - - 0 1", nil))
}

func TestLimits(t *testing.T) {
	cmd, err := Limits{Depth: 6, MoveTime: 250 * time.Millisecond}.goCommand()
	require.NoError(t, err)
	assert.Equal(t, "go depth 6 movetime 250", cmd)

	_, err = Limits{}.goCommand()
	assert.Error(t, err)

	assert.Equal(t, minSearchWait, Limits{Depth: 1}.wait())
	assert.Equal(t, 20*time.Second, Limits{Depth: 200}.wait())
}

func TestOptionsValidate(t *testing.T) {
	assert.Error(t, Options{SkillLevel: 21}.validate())
	assert.Error(t, Options{Elo: -1}.validate())
	assert.NoError(t, Options{SkillLevel: 20, HashMB: 16}.validate())
}

func TestEngineBestMove(t *testing.T) {
	path := fakeEngine(t, "e2e4")
	ctx := context.Background()
	e, err := Start(ctx, path, Options{SkillLevel: 3, HashMB: 16, Elo: 1350})
	require.NoError(t, err)
	defer e.Close()

	mv, err := e.BestMove(ctx, "", nil, Limits{Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, "e2e4", mv)
	require.NoError(t, e.Ready(ctx))
}

func TestPoolReusesEngines(t *testing.T) {
	path := fakeEngine(t, "d2d4")
	pool, err := NewPool(PoolConfig{BinaryPath: path, Capacity: 1})
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	opt := Options{SkillLevel: 5, HashMB: 16}
	first, err := pool.Acquire(ctx, opt)
	require.NoError(t, err)

	// At capacity: a second Acquire waits until the first engine is released.
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = pool.Acquire(waitCtx, opt)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(first, nil)
	second, err := pool.Acquire(ctx, opt)
	require.NoError(t, err)
	assert.Same(t, first, second)
	pool.Release(second, nil)
}

func TestPoolRejectsMissingBinary(t *testing.T) {
	_, err := NewPool(PoolConfig{BinaryPath: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
	_, err = NewPool(PoolConfig{})
	assert.Error(t, err)
}
