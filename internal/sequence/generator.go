package sequence

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"stepsense/internal/model"
)

var (
	ErrNoValidNextStep   = errors.New("no valid next step")
	ErrLengthUnavailable = errors.New("sequence length unavailable")
	ErrInvalidRange      = errors.New("range id outside banded adjacency")
)

// Generator produces random walks over the position graph where each step
// is physically adjacent to the previous one.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{rng: rand.New(src)}
}

// Generate returns a walk of exactly length steps starting at first.
func (g *Generator) Generate(first model.Step, positions []model.Position, length int) ([]model.Step, error) {
	if length < 1 {
		return nil, fmt.Errorf("%w: length %d", ErrLengthUnavailable, length)
	}
	if _, err := NextRanges(first.RangeID); err != nil {
		return nil, err
	}
	seq := make([]model.Step, 0, length)
	seq = append(seq, first)

	g.mu.Lock()
	defer g.mu.Unlock()
	for len(seq) < length {
		prev := seq[len(seq)-1]
		candidates, err := Candidates(prev, positions)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("%w after %s (step %d of %d)", ErrNoValidNextStep, prev, len(seq), length)
		}
		seq = append(seq, candidates[g.rng.IntN(len(candidates))])
	}
	return seq, nil
}

// Candidates lists the steps that may legally follow prev.
func Candidates(prev model.Step, positions []model.Position) ([]model.Step, error) {
	ranges, err := NextRanges(prev.RangeID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Step, 0, len(positions))
	for _, p := range positions {
		s := p.Step()
		if s == prev {
			continue
		}
		if abs(s.SensorID-prev.SensorID) > 1 {
			continue
		}
		if !containsInt(ranges, s.RangeID) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Adjacent reports whether next may follow prev in a generated walk.
func Adjacent(prev, next model.Step) bool {
	if prev == next || abs(next.SensorID-prev.SensorID) > 1 {
		return false
	}
	ranges, err := NextRanges(prev.RangeID)
	if err != nil {
		return false
	}
	return containsInt(ranges, next.RangeID)
}

func NextRanges(rangeID int) ([]int, error) {
	switch rangeID {
	case 1:
		return []int{1, 2}, nil
	case 2:
		return []int{1, 2, 3}, nil
	case 3:
		return []int{2, 3}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidRange, rangeID)
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
