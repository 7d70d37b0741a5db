// Package mechanics resolves dice rolls, ability checks and attacks.
package mechanics

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"taleweave.ai/internal/protocol"
)

const (
	maxDiceCount = 100
	maxDiceSides = 1000
)

var notationRE = regexp.MustCompile(`^(\d*)d(\d+)([+-]\d+)?$`)

// Spec is parsed dice notation such as "2d6+1".
type Spec struct {
	Count    int `json:"count"`
	Sides    int `json:"sides"`
	Modifier int `json:"modifier"`
}

func (s Spec) String() string {
	switch {
	case s.Modifier > 0:
		return fmt.Sprintf("%dd%d+%d", s.Count, s.Sides, s.Modifier)
	case s.Modifier < 0:
		return fmt.Sprintf("%dd%d%d", s.Count, s.Sides, s.Modifier)
	}
	return fmt.Sprintf("%dd%d", s.Count, s.Sides)
}

func ParseNotation(notation string) (Spec, error) {
	n := strings.ToLower(strings.ReplaceAll(notation, " ", ""))
	m := notationRE.FindStringSubmatch(n)
	if m == nil {
		return Spec{}, protocol.Validation("bad dice notation %q", notation)
	}
	s := Spec{Count: 1}
	if m[1] != "" {
		s.Count, _ = strconv.Atoi(m[1])
	}
	s.Sides, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		s.Modifier, _ = strconv.Atoi(m[3])
	}
	if s.Count <= 0 || s.Count > maxDiceCount || s.Sides <= 0 || s.Sides > maxDiceSides {
		return Spec{}, protocol.Validation("dice out of range %q", notation)
	}
	return s, nil
}

type Roll struct {
	Notation string `json:"notation"`
	Results  []int  `json:"results"`
	Modifier int    `json:"modifier"`
	Total    int    `json:"total"`
}

// Roller draws from a single seeded source. A per-call seed gives a
// reproducible roll without disturbing the shared source.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRoller(seed int64) *Roller {
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

func (r *Roller) source(seed *int64) (*rand.Rand, func()) {
	if seed != nil {
		return rand.New(rand.NewSource(*seed)), func() {}
	}
	r.mu.Lock()
	return r.rng, r.mu.Unlock
}

func (r *Roller) Roll(spec Spec, seed *int64) Roll {
	rng, done := r.source(seed)
	defer done()
	return rollWith(rng, spec)
}

func rollWith(rng *rand.Rand, spec Spec) Roll {
	out := Roll{Notation: spec.String(), Results: make([]int, spec.Count), Modifier: spec.Modifier}
	for i := range out.Results {
		v := rng.Intn(spec.Sides) + 1
		out.Results[i] = v
		out.Total += v
	}
	out.Total += spec.Modifier
	return out
}

// RollNotation parses and rolls in one step.
func (r *Roller) RollNotation(notation string, seed *int64) (Roll, error) {
	spec, err := ParseNotation(notation)
	if err != nil {
		return Roll{}, err
	}
	return r.Roll(spec, seed), nil
}
