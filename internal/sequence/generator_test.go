package sequence

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"

	"stepsense/internal/model"
)

func grid(sensors int) []model.Position {
	var out []model.Position
	id := 1
	for s := 1; s <= sensors; s++ {
		for r := 1; r <= 3; r++ {
			out = append(out, model.Position{PositionID: id, SensorID: s, RangeID: r})
			id++
		}
	}
	return out
}

func TestGenerateRespectsAdjacency(t *testing.T) {
	g := NewGenerator(rand.NewPCG(1, 2))
	positions := grid(4)
	for i := 0; i < 200; i++ {
		first := positions[i%len(positions)].Step()
		seq, err := g.Generate(first, positions, 8)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(seq) != 8 {
			t.Fatalf("expected 8 steps, got %d", len(seq))
		}
		if seq[0] != first {
			t.Fatalf("walk must start at %s, got %s", first, seq[0])
		}
		for j := 1; j < len(seq); j++ {
			if !Adjacent(seq[j-1], seq[j]) {
				t.Fatalf("non-adjacent pair %s -> %s in %v", seq[j-1], seq[j], seq)
			}
		}
	}
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	positions := grid(3)
	first := model.Step{SensorID: 2, RangeID: 2}
	a, err := NewGenerator(rand.NewPCG(7, 7)).Generate(first, positions, 6)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := NewGenerator(rand.NewPCG(7, 7)).Generate(first, positions, 6)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different walks (-a +b):\n%s", diff)
	}
}

func TestGenerateLengthOne(t *testing.T) {
	first := model.Step{SensorID: 1, RangeID: 1}
	seq, err := NewGenerator(nil).Generate(first, nil, 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if diff := cmp.Diff([]model.Step{first}, seq); diff != "" {
		t.Fatalf("unexpected walk:\n%s", diff)
	}
}

func TestGenerateNoCandidates(t *testing.T) {
	positions := []model.Position{
		{PositionID: 1, SensorID: 1, RangeID: 1},
		{PositionID: 2, SensorID: 4, RangeID: 1},
	}
	_, err := NewGenerator(nil).Generate(model.Step{SensorID: 1, RangeID: 1}, positions, 3)
	if !errors.Is(err, ErrNoValidNextStep) {
		t.Fatalf("expected ErrNoValidNextStep, got %v", err)
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	g := NewGenerator(nil)
	if _, err := g.Generate(model.Step{SensorID: 1, RangeID: 1}, grid(2), 0); !errors.Is(err, ErrLengthUnavailable) {
		t.Fatalf("expected ErrLengthUnavailable, got %v", err)
	}
	if _, err := g.Generate(model.Step{SensorID: 1, RangeID: 4}, grid(2), 3); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestCandidatesBandedAdjacency(t *testing.T) {
	positions := grid(3)
	got, err := Candidates(model.Step{SensorID: 1, RangeID: 3}, positions)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	want := []model.Step{
		{SensorID: 1, RangeID: 2},
		{SensorID: 2, RangeID: 2},
		{SensorID: 2, RangeID: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("candidates mismatch (-want +got):\n%s", diff)
	}
}
