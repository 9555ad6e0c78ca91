package engine

import (
	"context"
	"errors"
	"fmt"

	"stepsense/internal/light"
	"stepsense/internal/model"
	"stepsense/internal/position"
	"stepsense/internal/session"
)

type securityHandler struct{ e *Engine }

func (h securityHandler) handle(ctx context.Context, r reading) Result {
	e := h.e
	if e.tracker.IsRepeat(r.step) {
		return Result{Action: ActionRepeated, Index: e.tracker.Index()}
	}
	e.ensurePositions(ctx)
	e.ensureSequences(ctx)
	seqs := e.securitySequences()

	out := e.tracker.Observe(r.step, func(index int, step model.Step) (bool, int, error) {
		return MatchSecurity(e.mapper, seqs, index, step)
	})

	cfg := e.config()
	span := e.securitySpan()
	round := model.Round{Mode: model.ModeSecurity, SensorID: r.SensorID, Steps: out.Index, Length: out.Length}
	switch out.Kind {
	case session.Repeated:
		return Result{Action: ActionRepeated, Index: out.Index}
	case session.Advanced:
		e.pulse(ctx, r.SensorID, span, light.Green, cfg.Security.LEDTime, cfg.Security.PulseHold)
		return Result{Action: ActionAdvanced, Index: out.Index}
	case session.RoundComplete:
		e.pulse(ctx, r.SensorID, span, light.Green, cfg.Security.LEDTime, cfg.Security.PulseHold)
		e.play(cfg.Audio.SuccessNote, r.muted)
		round.Result = model.RoundSuccess
		e.recordRound(round)
		return Result{Action: ActionRoundComplete, Index: out.Index}
	case session.RoundFailed:
		e.pulse(ctx, r.SensorID, span, light.Red, cfg.Security.LEDTime, cfg.Security.PulseHold)
		e.alarm(ctx, r.SensorID)
		round.Result = model.RoundFailure
		e.recordRound(round)
		return Result{Action: ActionRoundFailed, Index: 0}
	default:
		if e.logger != nil {
			e.logger.Error("security round aborted", "step", r.step.String(), "index", out.Index, "err", out.Err)
		}
		round.Result = model.RoundAborted
		if out.Err != nil {
			round.Detail = out.Err.Error()
		}
		e.recordRound(round)
		return Result{Action: ActionRoundAborted, Index: 0}
	}
}

func (e *Engine) alarm(ctx context.Context, sensorID int) {
	if e.meta == nil {
		return
	}
	ctx, cancel := e.requestContext(ctx)
	defer cancel()
	if err := e.meta.RaiseAlarm(ctx, sensorID); err != nil && e.logger != nil {
		e.logger.Warn("raise alarm failed", "sensor_id", sensorID, "err", err)
	}
}

// MatchSecurity checks step against the index-th position of every sequence
// in order. The first sequence whose expected step equals step wins and its
// length is returned. Sequences shorter than index+1 are skipped. Unknown
// position ids abort the round only when no other sequence matched.
func MatchSecurity(m *position.Mapper, seqs []model.SecuritySequence, index int, step model.Step) (bool, int, error) {
	if len(seqs) == 0 {
		return false, 0, fmt.Errorf("%w: no security sequences loaded", ErrDataIntegrity)
	}
	var errs []error
	for _, seq := range seqs {
		if index >= len(seq.Positions) {
			continue
		}
		pid := seq.Positions[index]
		expected, ok := m.Step(pid)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: sequence %d references unknown position %d", ErrDataIntegrity, seq.ID, pid))
			continue
		}
		if expected == step {
			return true, len(seq.Positions), nil
		}
	}
	if len(errs) > 0 {
		return false, 0, errors.Join(errs...)
	}
	return false, 0, nil
}
