package ingest

import (
	"context"
	"testing"
	"time"

	"stepsense/internal/config"
	"stepsense/internal/model"
)

type fakeControl struct {
	muted []bool
	modes []model.Mode
	beats []string
}

func (f *fakeControl) SetMuted(muted bool) { f.muted = append(f.muted, muted) }
func (f *fakeControl) SetMode(mode model.Mode) { f.modes = append(f.modes, mode) }
func (f *fakeControl) Heartbeat(id string, _ time.Time) { f.beats = append(f.beats, id) }

func newTestSource(out chan model.Reading, ctl *fakeControl) *MQTTSource {
	cfg := config.DefaultConfig().Ingest.MQTT
	return NewMQTTSource(cfg, NewParser(), out, ctl, nil)
}

func TestMQTTSensorReading(t *testing.T) {
	out := make(chan model.Reading, 1)
	src := newTestSource(out, &fakeControl{})
	src.Handle(context.Background(), "ultrasonic/distance_sensor2", []byte("14.2"))
	select {
	case r := <-out:
		if r.SensorID != 2 || r.Distance != 14.2 || r.Source != "mqtt" {
			t.Fatalf("unexpected reading %+v", r)
		}
	default:
		t.Fatalf("no reading emitted")
	}
}

func TestMQTTControlTopics(t *testing.T) {
	out := make(chan model.Reading, 1)
	ctl := &fakeControl{}
	src := newTestSource(out, ctl)
	ctx := context.Background()
	src.Handle(ctx, "audio/mute", []byte("mute"))
	src.Handle(ctx, "audio/mute", []byte("unmute"))
	src.Handle(ctx, "control/mode", []byte("3"))
	src.Handle(ctx, "control/mode", []byte("disco"))
	src.Handle(ctx, "alive/ledstrip2", []byte("1"))
	if len(ctl.muted) != 2 || !ctl.muted[0] || ctl.muted[1] {
		t.Fatalf("mute: %v", ctl.muted)
	}
	if len(ctl.modes) != 1 || ctl.modes[0] != model.ModeGame {
		t.Fatalf("modes: %v", ctl.modes)
	}
	if len(ctl.beats) != 1 || ctl.beats[0] != "ledstrip2" {
		t.Fatalf("heartbeats: %v", ctl.beats)
	}
	if len(out) != 0 {
		t.Fatalf("control topics must not emit readings")
	}
}

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"alive/#", "alive/distance_sensor1", true},
		{"alive/#", "alive", true},
		{"alive/+", "alive/ledstrip1", true},
		{"alive/+", "alive/a/b", false},
		{"audio/mute", "audio/mute", true},
		{"audio/mute", "audio/volume", false},
	}
	for _, tc := range cases {
		if got := TopicMatches(tc.filter, tc.topic); got != tc.want {
			t.Fatalf("TopicMatches(%q, %q) = %v", tc.filter, tc.topic, got)
		}
	}
}
