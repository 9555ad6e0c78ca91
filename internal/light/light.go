package light

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Color struct {
	R, G, B uint8
}

var (
	Off   = Color{}
	Green = Color{G: 255}
	Red   = Color{R: 255}
)

func (c Color) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// Span is an inclusive pixel range on a strip.
type Span struct {
	From int
	To   int
}

func (s Span) String() string {
	return fmt.Sprintf("%d-%d", s.From, s.To)
}

func Full(pixels int) Span {
	if pixels <= 0 {
		return Span{}
	}
	return Span{From: 0, To: pixels - 1}
}

// Band splits a strip of pixels into bands equal segments and returns the
// span lit for rangeID (1-based).
func Band(rangeID, bands, pixels int) Span {
	if bands <= 0 || rangeID < 1 || rangeID > bands {
		return Full(pixels)
	}
	seg := pixels / bands
	if seg <= 0 {
		return Full(pixels)
	}
	return Span{From: (rangeID - 1) * seg, To: rangeID*seg - 1}
}

func ParseSpan(s string) (Span, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Span{}, fmt.Errorf("pixel span %q: want lo-hi", s)
	}
	from, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return Span{}, fmt.Errorf("pixel span %q: %w", s, err)
	}
	to, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return Span{}, fmt.Errorf("pixel span %q: %w", s, err)
	}
	if from < 0 || to < from {
		return Span{}, fmt.Errorf("pixel span %q out of order", s)
	}
	return Span{From: from, To: to}, nil
}

// Message renders the strip controller command "lo-hi&r,g,b&ms".
func Message(span Span, color Color, d time.Duration) string {
	return fmt.Sprintf("%s&%s&%d", span, color, d.Milliseconds())
}

type Output interface {
	Trigger(ctx context.Context, sensorID int, span Span, color Color, d time.Duration) error
}

type Nop struct{}

func (Nop) Trigger(context.Context, int, Span, Color, time.Duration) error { return nil }

// MQTTOutput publishes strip commands straight to the strip controllers on
// "<prefix><sensorID>". A publish that is not acknowledged within timeout
// is abandoned.
type MQTTOutput struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
}

func NewMQTTOutput(client mqtt.Client, prefix string, qos byte, timeout time.Duration) *MQTTOutput {
	return &MQTTOutput{client: client, prefix: prefix, qos: qos, timeout: timeout}
}

func (o *MQTTOutput) Topic(sensorID int) string {
	return o.prefix + strconv.Itoa(sensorID)
}

func (o *MQTTOutput) Trigger(ctx context.Context, sensorID int, span Span, color Color, d time.Duration) error {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	topic := o.Topic(sensorID)
	token := o.client.Publish(topic, o.qos, false, Message(span, color, d))
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

func (o *MQTTOutput) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}
