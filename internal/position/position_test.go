package position

import (
	"testing"

	"stepsense/internal/model"
)

func testBands() []model.RangeBand {
	return []model.RangeBand{
		{RangeID: 2, Lower: 10, Upper: 20},
		{RangeID: 1, Lower: 0, Upper: 10},
		{RangeID: 3, Lower: 20, Upper: 30},
	}
}

func TestRangeForInsideBands(t *testing.T) {
	m := NewMapper(testBands())
	cases := map[float64]int{0: 1, 9.99: 1, 10: 2, 15: 2, 19.5: 2, 20: 3, 29.9: 3}
	for d, want := range cases {
		got, ok := m.RangeFor(d)
		if !ok || got != want {
			t.Fatalf("distance %.2f: got %d ok=%v want %d", d, got, ok, want)
		}
	}
}

func TestRangeForOutsideBands(t *testing.T) {
	m := NewMapper(testBands())
	for _, d := range []float64{-1, 30, 120} {
		if got, ok := m.RangeFor(d); ok {
			t.Fatalf("distance %.2f: expected miss, got %d", d, got)
		}
	}
}

func TestStepLookup(t *testing.T) {
	m := NewMapper(testBands())
	m.SetPositions([]model.Position{
		{PositionID: 7, SensorID: 2, RangeID: 3},
		{PositionID: 8, SensorID: 1, RangeID: 1},
	})
	step, ok := m.Step(7)
	if !ok || step != (model.Step{SensorID: 2, RangeID: 3}) {
		t.Fatalf("unexpected step %v ok=%v", step, ok)
	}
	if _, ok := m.Step(99); ok {
		t.Fatalf("expected unknown position id to miss")
	}
	p, ok := m.Lookup(model.Step{SensorID: 1, RangeID: 1})
	if !ok || p.PositionID != 8 {
		t.Fatalf("reverse lookup: %v ok=%v", p, ok)
	}
}

func TestValidateBands(t *testing.T) {
	if err := ValidateBands(testBands()); err != nil {
		t.Fatalf("valid bands rejected: %v", err)
	}
	bad := map[string][]model.RangeBand{
		"empty":    nil,
		"overlap":  {{RangeID: 1, Lower: 0, Upper: 12}, {RangeID: 2, Lower: 10, Upper: 20}},
		"gap":      {{RangeID: 1, Lower: 0, Upper: 10}, {RangeID: 2, Lower: 11, Upper: 20}},
		"id":       {{RangeID: 4, Lower: 0, Upper: 10}},
		"dup":      {{RangeID: 1, Lower: 0, Upper: 10}, {RangeID: 1, Lower: 10, Upper: 20}},
		"inverted": {{RangeID: 1, Lower: 10, Upper: 0}},
	}
	for name, bands := range bad {
		if err := ValidateBands(bands); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidatePositions(t *testing.T) {
	ok := []model.Position{{PositionID: 1, SensorID: 1, RangeID: 1}, {PositionID: 2, SensorID: 1, RangeID: 2}}
	if err := ValidatePositions(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dupStep := append(ok, model.Position{PositionID: 3, SensorID: 1, RangeID: 2})
	if err := ValidatePositions(dupStep); err == nil {
		t.Fatalf("expected duplicate step error")
	}
	badRange := []model.Position{{PositionID: 1, SensorID: 1, RangeID: 5}}
	if err := ValidatePositions(badRange); err == nil {
		t.Fatalf("expected range error")
	}
}
