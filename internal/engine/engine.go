package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"stepsense/internal/activity"
	"stepsense/internal/config"
	"stepsense/internal/light"
	"stepsense/internal/model"
	"stepsense/internal/position"
	"stepsense/internal/rounds"
	"stepsense/internal/sequence"
	"stepsense/internal/session"
	"stepsense/internal/storage"
	"stepsense/internal/worker"
)

// ErrDataIntegrity marks metadata that cannot be resolved, such as a
// security sequence naming an unknown position.
var ErrDataIntegrity = errors.New("data integrity")

// Metadata is the request/response session server.
type Metadata interface {
	SequenceLength(ctx context.Context) (int, error)
	Positions(ctx context.Context) ([]model.Position, error)
	SecuritySequences(ctx context.Context) ([]model.SecuritySequence, error)
	NoteDetails(ctx context.Context, sensorID, rangeID int) (model.NoteDetails, error)
	LogReading(ctx context.Context, sensorID int, distance float64) error
	RaiseAlarm(ctx context.Context, sensorID int) error
}

type Audio interface {
	PlayNote(noteID int)
	PlaySynth(sensorID int, distance float64)
	StopAll()
}

// Action describes what a single reading did.
type Action string

const (
	ActionNoRange       Action = "no_range"
	ActionNoNote        Action = "no_note"
	ActionPlayed        Action = "played"
	ActionDebounced     Action = "debounced"
	ActionMuted         Action = "muted"
	ActionRepeated      Action = "repeated"
	ActionAdvanced      Action = "advanced"
	ActionRoundComplete Action = "round_complete"
	ActionRoundFailed   Action = "round_failed"
	ActionRoundAborted  Action = "round_aborted"
	ActionUnavailable   Action = "unavailable"
	ActionSynth         Action = "synth"
	ActionStopped       Action = "stopped"
	ActionUnknownMode   Action = "unknown_mode"
)

type Result struct {
	Mode       model.Mode  `json:"mode"`
	Step       *model.Step `json:"step,omitempty"`
	PositionID int         `json:"position_id,omitempty"`
	NoteID     int         `json:"note_id,omitempty"`
	Action     Action      `json:"action"`
	Index      int         `json:"index"`
}

// Snapshot is the externally visible controller state.
type Snapshot struct {
	Mode      model.Mode    `json:"mode"`
	Muted     bool          `json:"muted"`
	Session   session.State `json:"session"`
	Positions int           `json:"positions"`
	Sequences int           `json:"security_sequences"`
	Started   time.Time     `json:"started"`
}

type Deps struct {
	Metadata  Metadata
	Lights    light.Output
	Audio     Audio
	Rounds    *rounds.Store
	Activity  *activity.Store
	Store     storage.Store
	Generator *sequence.Generator
}

// reading is a resolved sensor event handed to a mode handler.
type reading struct {
	model.Reading
	step   model.Step
	noteID int
	muted  bool
}

type handler interface {
	handle(ctx context.Context, r reading) Result
}

// Engine is the mode dispatcher. All readings are serialized through mu so
// session state only ever sees one step at a time.
type Engine struct {
	logger   *slog.Logger
	cfg      atomic.Value
	mode     atomic.Value
	muted    atomic.Bool
	mu       sync.Mutex
	started  time.Time
	mapper   *position.Mapper
	tracker  *session.Tracker
	gen      *sequence.Generator
	meta     Metadata
	lights   light.Output
	audio    Audio
	rounds   *rounds.Store
	activity *activity.Store
	store    storage.Store
	bg       *worker.Pool
	cooldown *NoteCooldown
	handlers map[model.Mode]handler

	seqMu     sync.RWMutex
	sequences []model.SecuritySequence

	now   func() time.Time
	sleep func(time.Duration)
}

func NewEngine(cfg *config.Config, logger *slog.Logger, deps Deps) *Engine {
	e := &Engine{
		logger:   logger,
		started:  time.Now().UTC(),
		mapper:   position.NewMapper(cfg.Ranges),
		tracker:  session.NewTracker(),
		gen:      deps.Generator,
		meta:     deps.Metadata,
		lights:   deps.Lights,
		audio:    deps.Audio,
		rounds:   deps.Rounds,
		activity: deps.Activity,
		store:    deps.Store,
		bg:       worker.NewPool(cfg.Audio.MaxConcurrent),
		cooldown: NewNoteCooldown(),
		now:      time.Now,
		sleep:    time.Sleep,
	}
	if e.gen == nil {
		e.gen = sequence.NewGenerator(nil)
	}
	if e.lights == nil {
		e.lights = light.Nop{}
	}
	if e.rounds == nil {
		e.rounds = rounds.NewStore(cfg.Rounds.StoreLimit)
	}
	e.handlers = map[model.Mode]handler{
		model.ModeMusical:  musicalHandler{e},
		model.ModeSecurity: securityHandler{e},
		model.ModeGame:     gameHandler{e},
		model.ModeSynth:    synthHandler{e},
	}
	e.cfg.Store(cfg)
	mode, err := model.ParseMode(cfg.Mode)
	if err != nil {
		mode = model.ModeMusical
	}
	e.mode.Store(mode)
	e.muted.Store(cfg.Muted)
	return e
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// UpdateConfig applies a reloaded config: range bands, timings and, when it
// changed, the mode.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	prev := e.config()
	e.cfg.Store(cfg)
	e.mapper.SetBands(cfg.Ranges)
	if cfg.Mode != prev.Mode {
		if mode, err := model.ParseMode(cfg.Mode); err == nil {
			e.SetMode(mode)
		}
	}
	if cfg.Muted != prev.Muted {
		e.SetMuted(cfg.Muted)
	}
}

func (e *Engine) Mode() model.Mode {
	return e.mode.Load().(model.Mode)
}

// SetMode switches the active mode. Any round in progress is dropped.
func (e *Engine) SetMode(mode model.Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.Mode()
	if prev == mode {
		return
	}
	e.mode.Store(mode)
	e.tracker.Forget()
	if prev == model.ModeSynth && e.audio != nil {
		e.audio.StopAll()
	}
	if e.logger != nil {
		e.logger.Info("mode changed", "from", prev, "to", mode)
	}
}

func (e *Engine) Muted() bool {
	return e.muted.Load()
}

func (e *Engine) SetMuted(muted bool) {
	if e.muted.Swap(muted) == muted {
		return
	}
	if muted && e.audio != nil {
		e.audio.StopAll()
	}
	if e.logger != nil {
		e.logger.Info("mute changed", "muted", muted)
	}
}

// Heartbeat records an alive message from a sensor or strip.
func (e *Engine) Heartbeat(device string, ts time.Time) {
	if e.activity != nil {
		e.activity.Heartbeat(device, ts)
	}
}

// Reset clears session progress and note debounce history.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracker.Forget()
	e.cooldown.Clear()
}

func (e *Engine) Snapshot() Snapshot {
	e.seqMu.RLock()
	seqs := len(e.sequences)
	e.seqMu.RUnlock()
	return Snapshot{
		Mode:      e.Mode(),
		Muted:     e.Muted(),
		Session:   e.tracker.Snapshot(),
		Positions: len(e.mapper.Positions()),
		Sequences: seqs,
		Started:   e.started,
	}
}

// Refresh reloads the position table and the security sequences and drops
// cached note details. Both fetches are attempted even when one fails.
func (e *Engine) Refresh(ctx context.Context) error {
	if p, ok := e.meta.(interface{ PurgeNotes() }); ok {
		p.PurgeNotes()
	}
	var errs []error
	if err := e.refreshPositions(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.refreshSequences(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) refreshPositions(ctx context.Context) error {
	if e.meta == nil {
		return errors.New("no metadata service")
	}
	positions, err := e.meta.Positions(ctx)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	if err := position.ValidatePositions(positions); err != nil {
		return fmt.Errorf("%w: %v", ErrDataIntegrity, err)
	}
	e.mapper.SetPositions(positions)
	if e.logger != nil {
		e.logger.Info("positions loaded", "count", len(positions))
	}
	return nil
}

func (e *Engine) refreshSequences(ctx context.Context) error {
	if e.meta == nil {
		return errors.New("no metadata service")
	}
	seqs, err := e.meta.SecuritySequences(ctx)
	if err != nil {
		return fmt.Errorf("fetch security sequences: %w", err)
	}
	e.seqMu.Lock()
	e.sequences = seqs
	e.seqMu.Unlock()
	if e.logger != nil {
		e.logger.Info("security sequences loaded", "count", len(seqs))
	}
	return nil
}

func (e *Engine) securitySequences() []model.SecuritySequence {
	e.seqMu.RLock()
	defer e.seqMu.RUnlock()
	return e.sequences
}

// Start consumes readings until ctx is done.
func (e *Engine) Start(ctx context.Context, in <-chan model.Reading) {
	go func() {
		for {
			select {
			case r := <-in:
				e.HandleReading(ctx, r)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// HandleReading resolves one raw reading and routes it to the active mode.
func (e *Engine) HandleReading(ctx context.Context, r model.Reading) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	mode := e.Mode()
	res := Result{Mode: mode}
	if r.Timestamp.IsZero() {
		r.Timestamp = e.now().UTC()
	}

	rangeID, ok := e.mapper.RangeFor(r.Distance)
	if !ok {
		if e.logger != nil {
			e.logger.Warn("no range for distance", "sensor_id", r.SensorID, "distance", r.Distance)
		}
		res.Action = ActionNoRange
		return res
	}
	step := model.Step{SensorID: r.SensorID, RangeID: rangeID}
	res.Step = &step
	if e.activity != nil {
		e.activity.Reading(sensorKey(r.SensorID), r.Distance, rangeID, r.Timestamp)
	}

	nd, err := e.noteDetails(ctx, step)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("no note details", "sensor_id", step.SensorID, "range_id", step.RangeID, "err", err)
		}
		res.Action = ActionNoNote
		return res
	}
	res.NoteID = nd.NoteID

	e.logReading(r, rangeID)

	h, ok := e.handlers[mode]
	if !ok {
		if e.logger != nil {
			e.logger.Warn("unknown mode, ignoring reading", "mode", mode)
		}
		res.Action = ActionUnknownMode
		return res
	}
	out := h.handle(ctx, reading{Reading: r, step: step, noteID: nd.NoteID, muted: r.Muted || e.Muted()})
	out.Mode = mode
	out.Step = &step
	out.NoteID = nd.NoteID
	if p, ok := e.mapper.Lookup(step); ok {
		out.PositionID = p.PositionID
	}
	if e.logger != nil {
		e.logger.Debug("reading handled", "mode", mode, "step", step.String(), "position_id", out.PositionID, "action", out.Action, "index", out.Index)
	}
	return out
}

func (e *Engine) noteDetails(ctx context.Context, step model.Step) (model.NoteDetails, error) {
	if e.meta == nil {
		return model.NoteDetails{}, errors.New("no metadata service")
	}
	ctx, cancel := e.requestContext(ctx)
	defer cancel()
	return e.meta.NoteDetails(ctx, step.SensorID, step.RangeID)
}

// logReading forwards the raw reading to the session server and local
// storage without waiting for either.
func (e *Engine) logReading(r model.Reading, rangeID int) {
	meta := e.meta
	store := e.store
	if meta == nil && store == nil {
		return
	}
	timeout := e.config().Metadata.Timeout
	started := e.bg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if meta != nil {
			if err := meta.LogReading(ctx, r.SensorID, r.Distance); err != nil && e.logger != nil {
				e.logger.Warn("log reading failed", "sensor_id", r.SensorID, "err", err)
			}
		}
		if store != nil {
			if err := store.SaveReading(ctx, r, rangeID); err != nil && e.logger != nil {
				e.logger.Warn("save reading failed", "sensor_id", r.SensorID, "err", err)
			}
		}
	})
	if !started && e.logger != nil {
		e.logger.Warn("background pool saturated, reading not logged", "sensor_id", r.SensorID)
	}
}

// Wait blocks until background logging has drained.
func (e *Engine) Wait() {
	e.bg.Wait()
}

func (e *Engine) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if t := e.config().Metadata.Timeout; t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) recordRound(round model.Round) {
	if round.Timestamp.IsZero() {
		round.Timestamp = e.now().UTC()
	}
	e.rounds.Add(round)
	if e.logger != nil {
		e.logger.Info("round finished",
			"mode", round.Mode,
			"result", round.Result,
			"steps", round.Steps,
			"length", round.Length,
			"sensor_id", round.SensorID,
		)
	}
	if e.store != nil {
		ctx, cancel := e.requestContext(context.Background())
		defer cancel()
		if err := e.store.SaveRound(ctx, round); err != nil && e.logger != nil {
			e.logger.Warn("save round failed", "err", err)
		}
	}
}

func sensorKey(id int) string {
	return fmt.Sprintf("distance_sensor%d", id)
}
