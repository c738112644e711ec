package rules

import (
	nchess "github.com/corentings/chess/v2"
)

// Square is one occupied cell in the client board layout.
type Square struct {
	Square string `json:"square"`
	Type   string `json:"type"`
	Color  string `json:"color"`
}

// Board is eight rows from rank 8 down to rank 1, files a..h, nil for empty cells.
type Board [][]*Square

var (
	boardRanks = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	boardFiles = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

func (p *Position) Board() Board {
	squares := p.game.Position().Board().SquareMap()
	out := make(Board, 0, 8)
	for _, rank := range boardRanks {
		row := make([]*Square, 0, 8)
		for _, file := range boardFiles {
			sq := nchess.NewSquare(file, rank)
			piece, ok := squares[sq]
			if !ok || piece == nchess.NoPiece {
				row = append(row, nil)
				continue
			}
			row = append(row, &Square{
				Square: sq.String(),
				Type:   pieceLetter(piece.Type()),
				Color:  colorLetter(piece.Color()),
			})
		}
		out = append(out, row)
	}
	return out
}

// Count returns how many pieces of the given letter and color letter are on the board.
func (b Board) Count(pieceType, color string) int {
	n := 0
	for _, row := range b {
		for _, sq := range row {
			if sq != nil && sq.Type == pieceType && sq.Color == color {
				n++
			}
		}
	}
	return n
}

func pieceLetter(t nchess.PieceType) string {
	switch t {
	case nchess.King:
		return "k"
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	case nchess.Pawn:
		return "p"
	}
	return ""
}

func colorLetter(c nchess.Color) string {
	if c == nchess.White {
		return "w"
	}
	return "b"
}

// Material values used by the builtin move supplier.
func pieceValue(letter string) int {
	switch letter {
	case "q":
		return 900
	case "r":
		return 500
	case "b":
		return 330
	case "n":
		return 320
	case "p":
		return 100
	}
	return 0
}

// Material returns the material balance from the given side's point of view.
func (p *Position) Material(side Color) int {
	score := 0
	for _, row := range p.Board() {
		for _, sq := range row {
			if sq == nil {
				continue
			}
			v := pieceValue(sq.Type)
			if (sq.Color == "w") == (side == White) {
				score += v
			} else {
				score -= v
			}
		}
	}
	return score
}
