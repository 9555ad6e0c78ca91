package audio

import (
	"log/slog"
	"math"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"stepsense/internal/config"
	"stepsense/internal/worker"
)

const (
	ccAllSoundOff = 120
	ccAllNotesOff = 123
	// pitch bend range the synth voice is expected to use, in semitones
	bendRange = 2.0
)

// SendFunc delivers one MIDI message to the output device.
type SendFunc func(msg gomidi.Message) error

// Player turns note ids and distances into MIDI on a single channel. Every
// sound is played from the worker pool so callers never block on a note's
// duration.
type Player struct {
	logger *slog.Logger
	send   SendFunc
	pool   *worker.Pool
	sleep  func(time.Duration)

	mu  sync.RWMutex
	cfg config.AudioConfig
}

func NewPlayer(cfg config.AudioConfig, send SendFunc, logger *slog.Logger) *Player {
	if send == nil {
		send = func(gomidi.Message) error { return nil }
	}
	return &Player{
		logger: logger,
		send:   send,
		pool:   worker.NewPool(cfg.MaxConcurrent),
		sleep:  time.Sleep,
		cfg:    cfg,
	}
}

func (p *Player) UpdateConfig(cfg config.AudioConfig) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *Player) config() config.AudioConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// PlayNote sounds noteID offset by the configured base note.
func (p *Player) PlayNote(noteID int) {
	cfg := p.config()
	key := clampKey(cfg.NoteBase + noteID)
	p.dispatch("note", func() {
		p.strike(cfg, key, 0, cfg.NoteLength)
	})
}

// PlaySynth plays a one second tone whose pitch rises with distance from the
// sensor's base frequency.
func (p *Player) PlaySynth(sensorID int, distance float64) {
	cfg := p.config()
	base, ok := cfg.SynthBase[sensorID]
	if !ok {
		base = 440
	}
	freq := SynthFrequency(base, distance, cfg.SynthMaxDist)
	key, bend := FrequencyToKey(freq)
	if p.logger != nil {
		p.logger.Debug("synth tone", "sensor_id", sensorID, "frequency", freq, "key", key, "bend", bend)
	}
	p.dispatch("synth", func() {
		p.strike(cfg, key, bend, time.Second)
	})
}

func (p *Player) StopAll() {
	cfg := p.config()
	ch := cfg.Channel
	for _, msg := range []gomidi.Message{
		gomidi.ControlChange(ch, ccAllNotesOff, 0),
		gomidi.ControlChange(ch, ccAllSoundOff, 0),
		gomidi.Pitchbend(ch, 0),
	} {
		if err := p.send(msg); err != nil && p.logger != nil {
			p.logger.Warn("midi stop failed", "err", err)
		}
	}
}

// Wait blocks until queued sounds have finished.
func (p *Player) Wait() {
	p.pool.Wait()
}

func (p *Player) dispatch(kind string, fn func()) {
	if !p.pool.Go(fn) && p.logger != nil {
		p.logger.Warn("audio pool saturated, dropping sound", "kind", kind)
	}
}

func (p *Player) strike(cfg config.AudioConfig, key uint8, bend int16, length time.Duration) {
	ch := cfg.Channel
	if err := p.send(gomidi.Pitchbend(ch, bend)); err != nil {
		p.warn(err)
		return
	}
	if err := p.send(gomidi.NoteOn(ch, key, cfg.Velocity)); err != nil {
		p.warn(err)
		return
	}
	if length > 0 {
		p.sleep(length)
	}
	if err := p.send(gomidi.NoteOff(ch, key)); err != nil {
		p.warn(err)
	}
}

func (p *Player) warn(err error) {
	if p.logger != nil {
		p.logger.Warn("midi send failed", "err", err)
	}
}

// SynthFrequency scales base by 1 + distance/maxDistance.
func SynthFrequency(base, distance, maxDistance float64) float64 {
	if maxDistance <= 0 {
		return base
	}
	return base * (1 + distance/maxDistance)
}

// FrequencyToKey returns the nearest MIDI key for freq plus the pitch bend
// needed to reach it exactly.
func FrequencyToKey(freq float64) (uint8, int16) {
	if freq <= 0 {
		return 0, 0
	}
	exact := 69 + 12*math.Log2(freq/440)
	nearest := math.Round(exact)
	if nearest < 0 {
		return 0, 0
	}
	if nearest > 127 {
		return 127, 0
	}
	frac := (exact - nearest) / bendRange
	return uint8(nearest), int16(math.Round(frac * 8191))
}

func clampKey(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return uint8(v)
}
