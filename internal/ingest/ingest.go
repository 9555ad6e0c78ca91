package ingest

import (
	"context"
	"log/slog"
	"time"

	"stepsense/internal/model"
	"stepsense/internal/normalize"
)

// Control is the part of the controller that transports may drive besides
// readings: the mute switch, the mode selector and device heartbeats.
type Control interface {
	SetMuted(muted bool)
	SetMode(mode model.Mode)
	Heartbeat(device string, ts time.Time)
}

func SendNonBlocking(ctx context.Context, out chan<- model.Reading, r model.Reading, logger *slog.Logger) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading", "sensor_id", r.SensorID, "source", r.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// emit normalizes fields and queues the reading. Malformed input is logged
// and dropped.
func emit(ctx context.Context, fields *normalize.EventFields, source string, out chan<- model.Reading, logger *slog.Logger) bool {
	r, err := normalize.Normalize(*fields)
	if err != nil {
		if logger != nil {
			logger.Warn("normalize error", "source", source, "raw", fields.Raw, "err", err)
		}
		return false
	}
	r.Source = source
	return SendNonBlocking(ctx, out, r, logger)
}
