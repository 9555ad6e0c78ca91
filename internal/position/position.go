package position

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"stepsense/internal/model"
)

// Range ids the sequence generator knows how to walk.
const (
	MinRangeID = 1
	MaxRangeID = 3
)

// Mapper converts raw distances to range ids and position ids to steps.
// The position table can be swapped at runtime when the session is refreshed.
type Mapper struct {
	mu        sync.RWMutex
	bands     []model.RangeBand
	byID      map[int]model.Position
	byStep    map[model.Step]model.Position
	positions []model.Position
}

func NewMapper(bands []model.RangeBand) *Mapper {
	m := &Mapper{}
	m.SetBands(bands)
	m.SetPositions(nil)
	return m
}

// SetBands replaces the configured range bands. Bands are expected to have
// passed ValidateBands.
func (m *Mapper) SetBands(bands []model.RangeBand) {
	sorted := append([]model.RangeBand(nil), bands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lower < sorted[j].Lower })
	m.mu.Lock()
	m.bands = sorted
	m.mu.Unlock()
}

func (m *Mapper) SetPositions(positions []model.Position) {
	byID := make(map[int]model.Position, len(positions))
	byStep := make(map[model.Step]model.Position, len(positions))
	for _, p := range positions {
		byID[p.PositionID] = p
		byStep[p.Step()] = p
	}
	m.mu.Lock()
	m.byID = byID
	m.byStep = byStep
	m.positions = append([]model.Position(nil), positions...)
	m.mu.Unlock()
}

// RangeFor returns the id of the first band with lower <= distance < upper.
func (m *Mapper) RangeFor(distance float64) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bands {
		if b.Lower <= distance && distance < b.Upper {
			return b.RangeID, true
		}
	}
	return 0, false
}

func (m *Mapper) Step(positionID int) (model.Step, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[positionID]
	if !ok {
		return model.Step{}, false
	}
	return p.Step(), true
}

func (m *Mapper) Lookup(step model.Step) (model.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byStep[step]
	return p, ok
}

// Positions returns a copy of the loaded position table.
func (m *Mapper) Positions() []model.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Position(nil), m.positions...)
}

func (m *Mapper) Bands() []model.RangeBand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.RangeBand(nil), m.bands...)
}

// ValidateBands checks that bands are ascending, contiguous, non-overlapping,
// non-empty and carry range ids the generator can walk.
func ValidateBands(bands []model.RangeBand) error {
	if len(bands) == 0 {
		return errors.New("no range bands configured")
	}
	sorted := append([]model.RangeBand(nil), bands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lower < sorted[j].Lower })
	seen := make(map[int]struct{}, len(sorted))
	for i, b := range sorted {
		if b.RangeID < MinRangeID || b.RangeID > MaxRangeID {
			return fmt.Errorf("range band %d: id must be in [%d,%d]", b.RangeID, MinRangeID, MaxRangeID)
		}
		if _, dup := seen[b.RangeID]; dup {
			return fmt.Errorf("range band %d: duplicate id", b.RangeID)
		}
		seen[b.RangeID] = struct{}{}
		if b.Upper <= b.Lower {
			return fmt.Errorf("range band %d: upper %.2f must exceed lower %.2f", b.RangeID, b.Upper, b.Lower)
		}
		if i > 0 {
			prev := sorted[i-1]
			if b.Lower < prev.Upper {
				return fmt.Errorf("range bands %d and %d overlap", prev.RangeID, b.RangeID)
			}
			if b.Lower > prev.Upper {
				return fmt.Errorf("gap between range bands %d and %d", prev.RangeID, b.RangeID)
			}
		}
	}
	return nil
}

// ValidatePositions rejects tables with duplicate ids, duplicate steps or
// range ids outside the supported set.
func ValidatePositions(positions []model.Position) error {
	ids := make(map[int]struct{}, len(positions))
	steps := make(map[model.Step]struct{}, len(positions))
	for _, p := range positions {
		if p.RangeID < MinRangeID || p.RangeID > MaxRangeID {
			return fmt.Errorf("position %d: range id %d out of [%d,%d]", p.PositionID, p.RangeID, MinRangeID, MaxRangeID)
		}
		if _, dup := ids[p.PositionID]; dup {
			return fmt.Errorf("position %d: duplicate id", p.PositionID)
		}
		if _, dup := steps[p.Step()]; dup {
			return fmt.Errorf("position %d: duplicate step %s", p.PositionID, p.Step())
		}
		ids[p.PositionID] = struct{}{}
		steps[p.Step()] = struct{}{}
	}
	return nil
}
