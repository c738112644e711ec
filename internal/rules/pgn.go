package rules

import (
	"fmt"
	"strings"
	"time"
)

type PGNHeaders struct {
	Event       string
	Site        string
	Date        time.Time
	White       string
	Black       string
	TimeControl int
	Termination string
	// Result is the PGN result token; "*" when empty.
	Result string
}

// ResultToken maps a winner color ("" for draw, ongoing=true for unfinished) to the PGN token.
func ResultToken(winner Color, ongoing bool) string {
	if ongoing {
		return "*"
	}
	switch winner {
	case White:
		return "1-0"
	case Black:
		return "0-1"
	}
	return "1/2-1/2"
}

// PGN renders headers and numbered SAN movetext.
func (p *Position) PGN(h PGNHeaders) string {
	result := strings.TrimSpace(h.Result)
	if result == "" {
		result = "*"
	}
	date := h.Date
	if date.IsZero() {
		date = time.Now()
	}
	event := h.Event
	if strings.TrimSpace(event) == "" {
		event = "Casual Game"
	}
	site := h.Site
	if strings.TrimSpace(site) == "" {
		site = "chess-arena"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Event \"%s\"]\n", sanitizePGN(event))
	fmt.Fprintf(&b, "[Site \"%s\"]\n", sanitizePGN(site))
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(h.White))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(h.Black))
	if h.TimeControl > 0 {
		fmt.Fprintf(&b, "[TimeControl \"%d\"]\n", h.TimeControl)
	}
	if strings.TrimSpace(h.Termination) != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(h.Termination))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)
	b.WriteString(p.Movetext())
	if b.Len() > 0 && p.Ply() > 0 {
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

// Movetext returns "1. e4 e5 2. Nf3" style numbered SAN without a result token.
func (p *Position) Movetext() string {
	var b strings.Builder
	for i := 0; i < len(p.san); i += 2 {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%d. %s", i/2+1, p.san[i])
		if i+1 < len(p.san) {
			b.WriteString(" ")
			b.WriteString(p.san[i+1])
		}
	}
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
