package engine

import (
	"context"
	"fmt"

	"stepsense/internal/light"
	"stepsense/internal/model"
	"stepsense/internal/sequence"
	"stepsense/internal/session"
)

type gameHandler struct{ e *Engine }

func (h gameHandler) handle(ctx context.Context, r reading) Result {
	e := h.e
	if e.tracker.IsRepeat(r.step) {
		return Result{Action: ActionRepeated, Index: e.tracker.Index()}
	}

	game := e.tracker.Game()
	if len(game) == 0 {
		seq, err := e.newGame(ctx, r.step)
		if err != nil {
			e.tracker.Mark(r.step)
			if e.logger != nil {
				e.logger.Warn("game sequence unavailable", "step", r.step.String(), "err", err)
			}
			e.recordRound(model.Round{Mode: model.ModeGame, Result: model.RoundAborted, SensorID: r.SensorID, Detail: err.Error()})
			return Result{Action: ActionUnavailable}
		}
		e.tracker.StartGame(seq)
		if e.logger != nil {
			e.logger.Info("game sequence generated", "length", len(seq), "first", r.step.String())
		}
		e.playback(ctx, seq, r.muted)
		game = seq
	}

	out := e.tracker.Observe(r.step, func(index int, step model.Step) (bool, int, error) {
		if index >= len(game) {
			return false, len(game), fmt.Errorf("%w: index %d beyond sequence of %d", ErrDataIntegrity, index, len(game))
		}
		return game[index] == step, len(game), nil
	})

	cfg := e.config()
	round := model.Round{Mode: model.ModeGame, SensorID: r.SensorID, Steps: out.Index, Length: out.Length}
	switch out.Kind {
	case session.Repeated:
		return Result{Action: ActionRepeated, Index: out.Index}
	case session.Advanced:
		e.play(r.noteID, r.muted)
		return Result{Action: ActionAdvanced, Index: out.Index}
	case session.RoundComplete:
		e.play(r.noteID, r.muted)
		e.flashAll(ctx, light.Green)
		e.play(cfg.Audio.SuccessNote, r.muted)
		round.Result = model.RoundSuccess
		e.recordRound(round)
		return Result{Action: ActionRoundComplete, Index: out.Index}
	case session.RoundFailed:
		e.flashAll(ctx, light.Red)
		e.play(cfg.Audio.FailureNote, r.muted)
		e.sleep(cfg.Game.FailurePause)
		round.Result = model.RoundFailure
		e.recordRound(round)
		return Result{Action: ActionRoundFailed, Index: 0}
	default:
		if e.logger != nil {
			e.logger.Error("game round aborted", "step", r.step.String(), "err", out.Err)
		}
		round.Result = model.RoundAborted
		if out.Err != nil {
			round.Detail = out.Err.Error()
		}
		e.recordRound(round)
		return Result{Action: ActionRoundAborted, Index: 0}
	}
}

// newGame fetches the round length and walks the position graph from first.
func (e *Engine) newGame(ctx context.Context, first model.Step) ([]model.Step, error) {
	e.ensurePositions(ctx)
	if e.meta == nil {
		return nil, fmt.Errorf("%w: no metadata service", sequence.ErrLengthUnavailable)
	}
	rctx, cancel := e.requestContext(ctx)
	length, err := e.meta.SequenceLength(rctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sequence.ErrLengthUnavailable, err)
	}
	if limit := e.config().Game.MaxLength; length > limit {
		return nil, fmt.Errorf("%w: length %d exceeds max %d", sequence.ErrLengthUnavailable, length, limit)
	}
	return e.gen.Generate(first, e.mapper.Positions(), length)
}
