package session

import (
	"sync"

	"stepsense/internal/model"
)

type OutcomeKind int

const (
	Repeated OutcomeKind = iota
	Advanced
	RoundComplete
	RoundFailed
	RoundAborted
)

func (k OutcomeKind) String() string {
	switch k {
	case Repeated:
		return "repeated"
	case Advanced:
		return "advanced"
	case RoundComplete:
		return "round_complete"
	case RoundFailed:
		return "round_failed"
	case RoundAborted:
		return "round_aborted"
	}
	return "unknown"
}

// Outcome reports what a single observed step did to the session. Index is
// the position reached (Advanced), the sequence length (RoundComplete) or the
// index at which the round ended (RoundFailed, RoundAborted).
type Outcome struct {
	Kind   OutcomeKind
	Index  int
	Length int
	Err    error
}

// ExpectFunc decides whether step is correct at index and reports the length
// of the sequence it was matched against. A non-nil error aborts the round.
type ExpectFunc func(index int, step model.Step) (matched bool, length int, err error)

// State is a copy of the session for reporting.
type State struct {
	LastStep *model.Step  `json:"last_step,omitempty"`
	Index    int          `json:"index"`
	Game     []model.Step `json:"game,omitempty"`
}

// Tracker owns the one mutable session record shared by every sensor. The
// last observed step outlives round resets so a held position never counts
// twice.
type Tracker struct {
	mu       sync.Mutex
	lastStep *model.Step
	index    int
	game     []model.Step
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) IsRepeat(step model.Step) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastStep != nil && *t.lastStep == step
}

func (t *Tracker) Observe(step model.Step, expect ExpectFunc) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastStep != nil && *t.lastStep == step {
		return Outcome{Kind: Repeated, Index: t.index}
	}
	s := step
	t.lastStep = &s

	index := t.index
	matched, length, err := expect(index, step)
	if err != nil {
		t.resetLocked()
		return Outcome{Kind: RoundAborted, Index: index, Length: length, Err: err}
	}
	if !matched {
		t.resetLocked()
		return Outcome{Kind: RoundFailed, Index: index, Length: length}
	}
	t.index++
	if t.index >= length {
		t.resetLocked()
		return Outcome{Kind: RoundComplete, Index: length, Length: length}
	}
	return Outcome{Kind: Advanced, Index: t.index, Length: length}
}

// Mark records step as the last observed step without touching the round.
func (t *Tracker) Mark(step model.Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := step
	t.lastStep = &s
}

func (t *Tracker) Game() []model.Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.Step(nil), t.game...)
}

// StartGame installs a freshly generated sequence and rewinds the index.
func (t *Tracker) StartGame(seq []model.Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.game = append([]model.Step(nil), seq...)
	t.index = 0
}

func (t *Tracker) Index() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// Forget clears everything including the last step. Used on mode changes so
// the first reading in the new mode is never treated as a repeat.
func (t *Tracker) Forget() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	t.lastStep = nil
}

func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := State{Index: t.index, Game: append([]model.Step(nil), t.game...)}
	if t.lastStep != nil {
		s := *t.lastStep
		st.LastStep = &s
	}
	return st
}

func (t *Tracker) resetLocked() {
	t.index = 0
	t.game = nil
}
