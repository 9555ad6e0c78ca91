package session

import (
	"errors"
	"testing"

	"stepsense/internal/model"
)

func expectSeq(seq []model.Step) ExpectFunc {
	return func(index int, step model.Step) (bool, int, error) {
		return seq[index] == step, len(seq), nil
	}
}

func TestObserveAdvancesAndCompletes(t *testing.T) {
	seq := []model.Step{{SensorID: 1, RangeID: 1}, {SensorID: 2, RangeID: 2}, {SensorID: 3, RangeID: 1}}
	tr := NewTracker()
	for i, step := range seq[:2] {
		out := tr.Observe(step, expectSeq(seq))
		if out.Kind != Advanced || out.Index != i+1 {
			t.Fatalf("step %d: unexpected outcome %+v", i, out)
		}
	}
	out := tr.Observe(seq[2], expectSeq(seq))
	if out.Kind != RoundComplete || out.Index != 3 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if tr.Index() != 0 {
		t.Fatalf("index should reset after completion, got %d", tr.Index())
	}
}

func TestObserveRepeatIsNoop(t *testing.T) {
	seq := []model.Step{{SensorID: 1, RangeID: 1}, {SensorID: 2, RangeID: 2}}
	tr := NewTracker()
	calls := 0
	expect := func(index int, step model.Step) (bool, int, error) {
		calls++
		return seq[index] == step, len(seq), nil
	}
	tr.Observe(seq[0], expect)
	out := tr.Observe(seq[0], expect)
	if out.Kind != Repeated || out.Index != 1 {
		t.Fatalf("expected repeat at index 1, got %+v", out)
	}
	if calls != 1 {
		t.Fatalf("expect should not run for a repeat, ran %d times", calls)
	}
}

func TestObserveFailureResets(t *testing.T) {
	seq := []model.Step{{SensorID: 1, RangeID: 1}, {SensorID: 2, RangeID: 2}}
	tr := NewTracker()
	tr.StartGame(seq)
	tr.Observe(seq[0], expectSeq(seq))
	out := tr.Observe(model.Step{SensorID: 3, RangeID: 3}, expectSeq(seq))
	if out.Kind != RoundFailed || out.Index != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if tr.Index() != 0 || len(tr.Game()) != 0 {
		t.Fatalf("failure must clear the round: %+v", tr.Snapshot())
	}
}

func TestObserveAbortOnError(t *testing.T) {
	tr := NewTracker()
	boom := errors.New("boom")
	out := tr.Observe(model.Step{SensorID: 1, RangeID: 1}, func(int, model.Step) (bool, int, error) {
		return false, 3, boom
	})
	if out.Kind != RoundAborted || !errors.Is(out.Err, boom) {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestForgetClearsLastStep(t *testing.T) {
	seq := []model.Step{{SensorID: 1, RangeID: 1}, {SensorID: 1, RangeID: 2}}
	tr := NewTracker()
	tr.Observe(seq[0], expectSeq(seq))
	if !tr.IsRepeat(seq[0]) {
		t.Fatalf("expected repeat before forget")
	}
	tr.Forget()
	if tr.IsRepeat(seq[0]) {
		t.Fatalf("forget should clear the last step")
	}
	if st := tr.Snapshot(); st.LastStep != nil || st.Index != 0 {
		t.Fatalf("unexpected snapshot %+v", st)
	}
}

func TestMarkKeepsRound(t *testing.T) {
	seq := []model.Step{{SensorID: 1, RangeID: 1}, {SensorID: 1, RangeID: 2}, {SensorID: 2, RangeID: 1}}
	tr := NewTracker()
	tr.StartGame(seq)
	tr.Observe(seq[0], expectSeq(seq))
	other := model.Step{SensorID: 3, RangeID: 3}
	tr.Mark(other)
	if !tr.IsRepeat(other) {
		t.Fatalf("marked step should count as a repeat")
	}
	if got := tr.Index(); got != 1 {
		t.Fatalf("mark moved the index to %d", got)
	}
	if got := len(tr.Game()); got != len(seq) {
		t.Fatalf("mark changed the game length to %d", got)
	}
}
