package engine

import (
	"context"
)

type musicalHandler struct{ e *Engine }

func (h musicalHandler) handle(_ context.Context, r reading) Result {
	e := h.e
	if r.muted {
		return Result{Action: ActionMuted}
	}
	if !e.cooldown.Allow(r.SensorID, r.noteID, e.now(), e.config().Musical.Cooldown) {
		return Result{Action: ActionDebounced}
	}
	e.play(r.noteID, false)
	return Result{Action: ActionPlayed}
}

type synthHandler struct{ e *Engine }

func (h synthHandler) handle(_ context.Context, r reading) Result {
	e := h.e
	if e.audio == nil {
		return Result{Action: ActionSynth}
	}
	if r.muted {
		e.audio.StopAll()
		return Result{Action: ActionStopped}
	}
	e.audio.PlaySynth(r.SensorID, r.Distance)
	return Result{Action: ActionSynth}
}

// ensurePositions loads the position table on first use.
func (e *Engine) ensurePositions(ctx context.Context) {
	if len(e.mapper.Positions()) > 0 {
		return
	}
	ctx, cancel := e.requestContext(ctx)
	defer cancel()
	if err := e.refreshPositions(ctx); err != nil && e.logger != nil {
		e.logger.Warn("position refresh failed", "err", err)
	}
}

func (e *Engine) ensureSequences(ctx context.Context) {
	if len(e.securitySequences()) > 0 {
		return
	}
	ctx, cancel := e.requestContext(ctx)
	defer cancel()
	if err := e.refreshSequences(ctx); err != nil && e.logger != nil {
		e.logger.Warn("security sequence refresh failed", "err", err)
	}
}
