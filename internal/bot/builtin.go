package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/park285/chess-arena/internal/rules"
)

var ErrUnknownDifficulty = errors.New("unknown difficulty")

const mateScore = 100000

// Builtin picks moves from the rules engine's legal move list without an external engine.
type Builtin struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewBuiltin seeds the move randomness; seed 0 uses the clock.
func NewBuiltin(seed uint64) *Builtin {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Builtin{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

type candidate struct {
	move  string
	score int
}

// SuggestMove replays moves from the start position; fen is not consulted. It returns "" only
// when the side to move has no legal move.
func (b *Builtin) SuggestMove(ctx context.Context, _ string, moves []string, difficulty string) (string, error) {
	d, ok := Lookup(difficulty)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDifficulty, difficulty)
	}
	pos, err := rules.Replay(moves)
	if err != nil {
		return "", err
	}
	legal := pos.LegalMoves()
	if len(legal) == 0 {
		return "", nil
	}
	if d.plies == 0 {
		return b.casual(pos, legal), nil
	}

	cands := make([]candidate, 0, len(legal))
	for _, mv := range legal {
		if ctx.Err() != nil && len(cands) > 0 {
			break
		}
		cands = append(cands, candidate{move: mv, score: evaluate(pos, mv, d.plies) + b.noise(d.evalNoise)})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	return b.pick(cands, d.weights), nil
}

// casual prefers a capture or check most of the time and otherwise plays anything.
func (b *Builtin) casual(pos *rules.Position, legal []string) string {
	var sharp []string
	for _, mv := range legal {
		next := pos.Clone()
		res, err := next.ApplyUCI(mv)
		if err != nil {
			continue
		}
		if res.Status.Checkmate {
			return mv
		}
		if res.Captured || res.Status.InCheck {
			sharp = append(sharp, mv)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(sharp) > 0 && b.rng.Float64() < 0.6 {
		return sharp[b.rng.IntN(len(sharp))]
	}
	return legal[b.rng.IntN(len(legal))]
}

// evaluate scores mv for the side to move: material after the move, or after the opponent's
// best reply when plies is 2.
func evaluate(pos *rules.Position, mv string, plies int) int {
	side := pos.Turn()
	next := pos.Clone()
	res, err := next.ApplyUCI(mv)
	if err != nil {
		return -mateScore
	}
	if score, done := terminalScore(res.Status, true); done {
		return score
	}
	if plies < 2 {
		return next.Material(side)
	}
	worst := mateScore
	for _, reply := range next.LegalMoves() {
		after := next.Clone()
		r, err := after.ApplyUCI(reply)
		if err != nil {
			continue
		}
		score, done := terminalScore(r.Status, false)
		if !done {
			score = after.Material(side)
		}
		worst = min(worst, score)
	}
	return worst
}

// terminalScore values a finished position from the bot's side; ours reports whether the bot made
// the last move.
func terminalScore(st rules.Status, ours bool) (int, bool) {
	switch {
	case st.Checkmate && ours:
		return mateScore, true
	case st.Checkmate:
		return -mateScore, true
	case st.Terminal():
		return 0, true
	}
	return 0, false
}

func (b *Builtin) noise(n int) int {
	if n <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.IntN(2*n+1) - n
}

// pick chooses among the top candidates with the given weights.
func (b *Builtin) pick(cands []candidate, weights []float64) string {
	limit := min(len(weights), len(cands))
	if limit <= 1 {
		return cands[0].move
	}
	total := 0.0
	for _, w := range weights[:limit] {
		total += w
	}
	b.mu.Lock()
	threshold := b.rng.Float64() * total
	b.mu.Unlock()
	for i, w := range weights[:limit] {
		threshold -= w
		if threshold <= 0 {
			return cands[i].move
		}
	}
	return cands[0].move
}
