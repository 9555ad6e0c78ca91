package engine

import (
	"context"
	"time"

	"stepsense/internal/light"
	"stepsense/internal/model"
)

func (e *Engine) trigger(ctx context.Context, sensorID int, span light.Span, color light.Color, d time.Duration) {
	if err := e.lights.Trigger(ctx, sensorID, span, color, d); err != nil && e.logger != nil {
		e.logger.Warn("light trigger failed", "sensor_id", sensorID, "span", span.String(), "color", color.String(), "err", err)
	}
}

func (e *Engine) play(noteID int, muted bool) {
	if muted || e.audio == nil {
		return
	}
	e.audio.PlayNote(noteID)
}

// pulse lights span, holds it and switches it off again.
func (e *Engine) pulse(ctx context.Context, sensorID int, span light.Span, color light.Color, d, hold time.Duration) {
	e.trigger(ctx, sensorID, span, color, d)
	e.sleep(hold)
	e.trigger(ctx, sensorID, span, light.Off, 0)
}

func (e *Engine) securitySpan() light.Span {
	cfg := e.config()
	span, err := light.ParseSpan(cfg.Security.LEDRange)
	if err != nil {
		return light.Full(cfg.Lights.Pixels)
	}
	return span
}

// flashAll lights every strip in the installation.
func (e *Engine) flashAll(ctx context.Context, color light.Color) {
	cfg := e.config()
	span := light.Full(cfg.Lights.Pixels)
	for _, id := range e.strips() {
		e.trigger(ctx, id, span, color, cfg.Game.FlashTime)
	}
}

// strips returns the configured strip ids, falling back to every sensor
// that appears in the position table.
func (e *Engine) strips() []int {
	if s := e.config().Game.Strips; len(s) > 0 {
		return s
	}
	seen := make(map[int]struct{})
	var out []int
	for _, p := range e.mapper.Positions() {
		if _, ok := seen[p.SensorID]; ok {
			continue
		}
		seen[p.SensorID] = struct{}{}
		out = append(out, p.SensorID)
	}
	return out
}

// playback shows a freshly generated game sequence one step at a time.
func (e *Engine) playback(ctx context.Context, seq []model.Step, muted bool) {
	cfg := e.config()
	bands := len(e.mapper.Bands())
	for i, step := range seq {
		if i > 0 {
			e.sleep(cfg.Game.PlaybackInterval)
		}
		if nd, err := e.noteDetails(ctx, step); err == nil {
			e.play(nd.NoteID, muted)
		} else if e.logger != nil {
			e.logger.Warn("playback note missing", "step", step.String(), "err", err)
		}
		e.trigger(ctx, step.SensorID, light.Band(step.RangeID, bands, cfg.Lights.Pixels), light.Green, cfg.Game.StepLEDTime)
	}
	e.sleep(cfg.Game.PlaybackInterval)
}
