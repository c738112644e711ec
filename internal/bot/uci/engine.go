// Package uci drives external UCI engines (Stockfish) over stdin/stdout.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
)

const (
	readyTimeout  = 4 * time.Second
	minSearchWait = 6 * time.Second
)

var errEngineClosed = errors.New("engine output closed")

// Options are applied once when the engine starts; engines with equal Options are interchangeable.
type Options struct {
	Threads    int
	HashMB     int
	SkillLevel int
	// Elo enables UCI_LimitStrength when > 0.
	Elo int
}

func (o Options) validate() error {
	if o.SkillLevel < 0 || o.SkillLevel > 20 {
		return fmt.Errorf("skill level %d out of range 0-20", o.SkillLevel)
	}
	if o.HashMB < 0 {
		return fmt.Errorf("hash size must be >= 0: %d", o.HashMB)
	}
	if o.Elo < 0 {
		return fmt.Errorf("elo must be >= 0: %d", o.Elo)
	}
	return nil
}

func (o Options) key() string {
	return fmt.Sprintf("thr=%d|hash=%d|skill=%d|elo=%d", o.Threads, o.HashMB, o.SkillLevel, o.Elo)
}

type Limits struct {
	Depth    int
	MoveTime time.Duration
	Nodes    int
}

func (l Limits) goCommand() (string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTime > 0 {
		args = append(args, "movetime", strconv.FormatInt(l.MoveTime.Milliseconds(), 10))
	}
	if l.Nodes > 0 {
		args = append(args, "nodes", strconv.Itoa(l.Nodes))
	}
	if len(args) == 1 {
		return "", fmt.Errorf("no search limits specified")
	}
	return strings.Join(args, " "), nil
}

// wait bounds how long a search may take before the engine is considered hung.
func (l Limits) wait() time.Duration {
	if l.MoveTime > 0 {
		return 3 * (l.MoveTime + 2*time.Second)
	}
	if l.Depth > 0 {
		d := time.Duration(l.Depth) * 300 * time.Millisecond
		return min(max(d, minSearchWait), 20*time.Second)
	}
	return minSearchWait
}

// Engine is one running engine process. Searches are serialized.
type Engine struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}

	writeMu  sync.Mutex
	searchMu sync.Mutex
	closeMu  sync.Mutex
	closed   bool
}

// Start launches binaryPath and performs the uci/isready handshake. The process outlives ctx;
// call Close to stop it.
func Start(ctx context.Context, binaryPath string, opt Options) (*Engine, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	e := &Engine{cmd: cmd, stdin: stdin, lines: make(chan string, 64), done: make(chan struct{})}
	go e.pump(stdout)

	if err := e.handshake(ctx, opt); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) pump(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	defer close(e.lines)
	for sc.Scan() {
		select {
		case e.lines <- strings.TrimSpace(sc.Text()):
		case <-e.done:
			return
		}
	}
}

func (e *Engine) handshake(ctx context.Context, opt Options) error {
	hctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	if err := e.send("uci"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := e.await(hctx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	threads := max(opt.Threads, 1)
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d", threads),
		fmt.Sprintf("setoption name Skill Level value %d", opt.SkillLevel),
	}
	if opt.HashMB > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name Hash value %d", opt.HashMB))
	}
	if opt.Elo > 0 {
		cmds = append(cmds,
			"setoption name UCI_LimitStrength value true",
			fmt.Sprintf("setoption name UCI_Elo value %d", opt.Elo),
		)
	}
	for _, c := range cmds {
		if err := e.send(c); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	if err := e.send("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := e.await(hctx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// Ready checks the engine still answers.
func (e *Engine) Ready(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := e.send("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	return e.await(rctx, "readyok")
}

// BestMove searches the position reached from fen (or the start position) after moves.
func (e *Engine) BestMove(ctx context.Context, fen string, moves []string, limits Limits) (string, error) {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()

	goCmd, err := limits.goCommand()
	if err != nil {
		return "", err
	}
	if err := e.send(positionCommand(fen, moves)); err != nil {
		return "", fmt.Errorf("send position: %w", err)
	}
	if err := e.send(goCmd); err != nil {
		return "", fmt.Errorf("send go: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, limits.wait())
	defer cancel()
	for {
		line, err := e.next(sctx)
		if err != nil {
			obslog.L().Warn("uci_search_error", zap.String("go", goCmd), zap.Int("ply", len(moves)), zap.Error(err))
			return "", fmt.Errorf("read search output: %w", err)
		}
		if !strings.HasPrefix(line, "bestmove") {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 2 || f[1] == "(none)" || f[1] == "0000" {
			return "", nil
		}
		return f[1], nil
	}
}

func (e *Engine) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.done)
	_ = e.send("quit")
	_ = e.stdin.Close()
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	_ = e.cmd.Wait()
	return nil
}

func (e *Engine) send(line string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_, err := io.WriteString(e.stdin, line+"\n")
	return err
}

func (e *Engine) await(ctx context.Context, token string) error {
	for {
		line, err := e.next(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (e *Engine) next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-e.lines:
		if !ok {
			return "", errEngineClosed
		}
		return line, nil
	}
}

func positionCommand(fen string, moves []string) string {
	var sb strings.Builder
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	return sb.String()
}
