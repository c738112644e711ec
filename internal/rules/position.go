// Package rules wraps the chess library behind the small surface the session layer needs.
package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Valid() bool { return c == White || c == Black }

// ParseColor accepts "white", "w", "black", "b" in any case.
func ParseColor(s string) (Color, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, true
	case "black", "b":
		return Black, true
	}
	return "", false
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

var (
	ErrIllegalMove = staticErr("illegal move")
	ErrBadNotation = staticErr("malformed move notation")
)

// Status summarises terminal and check flags of the current position.
type Status struct {
	InCheck   bool
	Checkmate bool
	Stalemate bool
	Threefold bool
	// Draw covers automatic draws other than stalemate: insufficient material,
	// fivefold repetition and the seventy-five move rule.
	Draw bool
}

// Terminal reports whether the game cannot continue (threefold counts as terminal).
func (s Status) Terminal() bool {
	return s.Checkmate || s.Stalemate || s.Threefold || s.Draw
}

// Reason names the terminal condition, or "" while play continues.
func (s Status) Reason() string {
	switch {
	case s.Checkmate:
		return "checkmate"
	case s.Stalemate:
		return "stalemate"
	case s.Threefold:
		return "threefold_repetition"
	case s.Draw:
		return "draw"
	}
	return ""
}

type MoveResult struct {
	UCI       string
	SAN       string
	From      string
	To        string
	Promotion string
	Captured  bool
	Mover     Color
	Turn      Color
	Status    Status
}

// Position is a single game's board and move history. It is not safe for concurrent use;
// callers hold the owning session's lock.
type Position struct {
	game *nchess.Game
	uci  []string
	san  []string
	// repetition keys (placement, side, castling, capturable en passant) for every position reached
	keys []string
}

func New() *Position {
	g := nchess.NewGame()
	return &Position{game: g, keys: []string{repetitionKey(g)}}
}

// Replay rebuilds a position from a UCI move list.
func Replay(moves []string) (*Position, error) {
	p := New()
	for i, mv := range moves {
		if _, err := p.ApplyUCI(mv); err != nil {
			return nil, fmt.Errorf("replay ply %d (%s): %w", i+1, mv, err)
		}
	}
	return p, nil
}

// Apply plays from→to with an optional promotion piece (q, r, b, n).
func (p *Position) Apply(from, to, promotion string) (MoveResult, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	if !validSquare(from) || !validSquare(to) {
		return MoveResult{}, ErrBadNotation
	}
	promo := strings.ToLower(strings.TrimSpace(promotion))
	switch promo {
	case "", "q", "r", "b", "n":
	default:
		return MoveResult{}, ErrBadNotation
	}
	uci := from + to
	if p.isPromotion(from, to) {
		if promo == "" {
			promo = "q"
		}
		uci += promo
	}
	return p.ApplyUCI(uci)
}

// ApplyUCI plays a move in UCI long algebraic form (e2e4, e7e8q).
func (p *Position) ApplyUCI(uci string) (MoveResult, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 || len(uci) > 5 {
		return MoveResult{}, ErrBadNotation
	}
	pos := p.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return MoveResult{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	if !p.isLegal(uci) {
		return MoveResult{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	mover := colorOf(pos.Turn())
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	captured := mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant)
	if err := p.game.Move(mv, nil); err != nil {
		return MoveResult{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}

	p.uci = append(p.uci, uci)
	p.san = append(p.san, san)
	p.keys = append(p.keys, repetitionKey(p.game))

	res := MoveResult{
		UCI:      uci,
		SAN:      san,
		From:     uci[:2],
		To:       uci[2:4],
		Captured: captured,
		Mover:    mover,
		Turn:     p.Turn(),
		Status:   p.Status(),
	}
	if len(uci) == 5 {
		res.Promotion = uci[4:]
	}
	if !res.Status.InCheck && mv.HasTag(nchess.Check) {
		res.Status.InCheck = true
	}
	return res, nil
}

func (p *Position) isLegal(uci string) bool {
	for _, mv := range p.game.ValidMoves() {
		if mv.String() == uci {
			return true
		}
	}
	return false
}

func (p *Position) isPromotion(from, to string) bool {
	for _, mv := range p.game.ValidMoves() {
		s := mv.String()
		if len(s) == 5 && s[:2] == from && s[2:4] == to {
			return true
		}
	}
	return false
}

// LegalMoves lists every legal move in UCI form.
func (p *Position) LegalMoves() []string {
	valid := p.game.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, mv := range valid {
		out = append(out, mv.String())
	}
	return out
}

func (p *Position) Status() Status {
	var st Status
	switch p.game.Method() {
	case nchess.Checkmate:
		st.Checkmate = true
		st.InCheck = true
	case nchess.Stalemate:
		st.Stalemate = true
	}
	if p.game.Outcome() == nchess.Draw && !st.Stalemate {
		st.Draw = true
	}
	if p.repetitions() >= 3 {
		st.Threefold = true
		st.Draw = false
	}
	if !st.InCheck {
		if moves := p.game.Moves(); len(moves) > 0 {
			st.InCheck = moves[len(moves)-1].HasTag(nchess.Check)
		}
	}
	return st
}

func (p *Position) repetitions() int {
	if len(p.keys) == 0 {
		return 0
	}
	cur := p.keys[len(p.keys)-1]
	n := 0
	for _, k := range p.keys {
		if k == cur {
			n++
		}
	}
	return n
}

// Winner returns the side that delivered mate, if the position is checkmate.
func (p *Position) Winner() (Color, bool) {
	if p.game.Method() != nchess.Checkmate {
		return "", false
	}
	return p.Turn().Opponent(), true
}

func (p *Position) Turn() Color { return colorOf(p.game.Position().Turn()) }

func (p *Position) FEN() string { return p.game.FEN() }

func (p *Position) Ply() int { return len(p.uci) }

func (p *Position) MovesUCI() []string { return append([]string(nil), p.uci...) }

func (p *Position) MovesSAN() []string { return append([]string(nil), p.san...) }

// LastMove returns the last UCI move, or "" at the start position.
func (p *Position) LastMove() string {
	if len(p.uci) == 0 {
		return ""
	}
	return p.uci[len(p.uci)-1]
}

func (p *Position) Clone() *Position {
	return &Position{
		game: p.game.Clone(),
		uci:  append([]string(nil), p.uci...),
		san:  append([]string(nil), p.san...),
		keys: append([]string(nil), p.keys...),
	}
}

func colorOf(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// repetitionKey identifies a position for repetition counting. The en passant square only
// counts when an en passant capture is actually legal.
func repetitionKey(g *nchess.Game) string {
	fen := g.FEN()
	f := strings.Fields(fen)
	if len(f) < 4 {
		return fen
	}
	ep := "-"
	for _, mv := range g.ValidMoves() {
		if mv.HasTag(nchess.EnPassant) {
			ep = f[3]
			break
		}
	}
	return strings.Join([]string{f[0], f[1], f[2], ep}, " ")
}
