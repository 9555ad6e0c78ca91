package light

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func TestMessage(t *testing.T) {
	got := Message(Span{From: 0, To: 30}, Green, 3*time.Second)
	if got != "0-30&0,255,0&3000" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Message(Full(30), Off, 0); got != "0-29&0,0,0&0" {
		t.Fatalf("unexpected off message %q", got)
	}
}

func TestBand(t *testing.T) {
	want := map[int]Span{1: {0, 9}, 2: {10, 19}, 3: {20, 29}}
	for id, span := range want {
		if got := Band(id, 3, 30); got != span {
			t.Fatalf("band %d: got %s want %s", id, got, span)
		}
	}
	if got := Band(4, 3, 30); got != Full(30) {
		t.Fatalf("out of range band should light the whole strip, got %s", got)
	}
}

func TestParseSpan(t *testing.T) {
	s, err := ParseSpan(" 0-30 ")
	if err != nil || s != (Span{From: 0, To: 30}) {
		t.Fatalf("parse: %v %v", s, err)
	}
	for _, bad := range []string{"", "10", "a-3", "5-1", "-1-4"} {
		if _, err := ParseSpan(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

// pendingToken never completes, like a QoS 1 publish while the broker is away.
type pendingToken struct{ done chan struct{} }

func (t pendingToken) Wait() bool {
	<-t.done
	return true
}

func (t pendingToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t pendingToken) Done() <-chan struct{} { return t.done }
func (t pendingToken) Error() error { return nil }

type stalledClient struct {
	mqtt.Client
	topics []string
}

func (c *stalledClient) Publish(topic string, _ byte, _ bool, _ interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	return pendingToken{done: make(chan struct{})}
}

func TestMQTTOutputPublishTimeout(t *testing.T) {
	client := &stalledClient{}
	out := NewMQTTOutput(client, "control/ledstrip", 1, 50*time.Millisecond)
	start := time.Now()
	err := out.Trigger(context.Background(), 2, Full(30), Green, time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("publish wait not bounded: %s", elapsed)
	}
	if len(client.topics) != 1 || client.topics[0] != "control/ledstrip2" {
		t.Fatalf("unexpected topics %v", client.topics)
	}
}
