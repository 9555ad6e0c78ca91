package ingest

import (
	"context"
	"strings"
	"testing"

	"stepsense/internal/model"
)

func TestReadLines(t *testing.T) {
	out := make(chan model.Reading, 4)
	input := "1,5.0\nnoise\n\n3,27.5,1\n"
	if err := ReadLines(context.Background(), strings.NewReader(input), NewParser(), "serial", out, nil); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(out))
	}
	<-out
	r := <-out
	if r.SensorID != 3 || r.Distance != 27.5 || !r.Muted || r.Source != "serial" {
		t.Fatalf("unexpected reading %+v", r)
	}
}
