// Package bot supplies moves for the bot seat of a session.
package bot

import (
	"strings"
	"time"

	"github.com/park285/chess-arena/internal/bot/uci"
)

// Difficulty describes one bot strength.
type Difficulty struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Rating      int           `json:"rating"`
	Delay       time.Duration `json:"-"`
	DelayMS     int64         `json:"delayMs"`

	// builtin supplier
	plies     int
	evalNoise int
	weights   []float64

	// engine supplier
	engine uci.Options
	limits uci.Limits
}

var difficulties = []Difficulty{
	{
		Name:        "easy",
		Description: "Plays mostly random moves but grabs captures and checks when it sees them.",
		Rating:      800,
		Delay:       500 * time.Millisecond,
		plies:       0,
		engine:      uci.Options{Threads: 1, HashMB: 16, SkillLevel: 0},
		limits:      uci.Limits{Depth: 1, MoveTime: 50 * time.Millisecond},
	},
	{
		Name:        "medium",
		Description: "Takes material greedily with a fair amount of noise.",
		Rating:      1200,
		Delay:       1000 * time.Millisecond,
		plies:       1,
		evalNoise:   120,
		weights:     []float64{0.5, 0.3, 0.2},
		engine:      uci.Options{Threads: 1, HashMB: 16, SkillLevel: 5},
		limits:      uci.Limits{Depth: 4, MoveTime: 150 * time.Millisecond},
	},
	{
		Name:        "hard",
		Description: "Greedy material play with little noise.",
		Rating:      1600,
		Delay:       1500 * time.Millisecond,
		plies:       1,
		evalNoise:   40,
		weights:     []float64{0.8, 0.2},
		engine:      uci.Options{Threads: 1, HashMB: 32, SkillLevel: 12},
		limits:      uci.Limits{Depth: 8, MoveTime: 400 * time.Millisecond},
	},
	{
		Name:        "expert",
		Description: "Looks at the opponent's best reply before moving.",
		Rating:      2000,
		Delay:       2000 * time.Millisecond,
		plies:       2,
		weights:     []float64{1},
		engine:      uci.Options{Threads: 2, HashMB: 64, SkillLevel: 20},
		limits:      uci.Limits{Depth: 14, MoveTime: 900 * time.Millisecond},
	},
}

func init() {
	for i := range difficulties {
		difficulties[i].DelayMS = difficulties[i].Delay.Milliseconds()
	}
}

// Difficulties lists every difficulty from weakest to strongest.
func Difficulties() []Difficulty {
	return append([]Difficulty(nil), difficulties...)
}

func Lookup(name string) (Difficulty, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range difficulties {
		if d.Name == name {
			return d, true
		}
	}
	return Difficulty{}, false
}

// Delay returns the think time for name scaled by scale. Unknown names use medium.
func Delay(scale float64) func(string) time.Duration {
	if scale < 0 {
		scale = 0
	}
	return func(name string) time.Duration {
		d, ok := Lookup(name)
		if !ok {
			d, _ = Lookup("medium")
		}
		return time.Duration(float64(d.Delay) * scale)
	}
}
