package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Mode string

const (
	ModeMusical  Mode = "musical"
	ModeSecurity Mode = "security"
	ModeGame     Mode = "game"
	ModeSynth    Mode = "synth"
)

// ParseMode accepts the mode names and the legacy numeric codes 1-4 used by
// the installation's control panel.
func ParseMode(s string) (Mode, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(v); err == nil {
		switch n {
		case 1:
			return ModeMusical, nil
		case 2:
			return ModeSecurity, nil
		case 3:
			return ModeGame, nil
		case 4:
			return ModeSynth, nil
		}
		return "", fmt.Errorf("unknown mode code %d", n)
	}
	switch Mode(v) {
	case ModeMusical, ModeSecurity, ModeGame, ModeSynth:
		return Mode(v), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Step is a discretized reading: which sensor, which distance band.
type Step struct {
	SensorID int `json:"sensor_id"`
	RangeID  int `json:"range_id"`
}

func (s Step) String() string {
	return fmt.Sprintf("(%d,%d)", s.SensorID, s.RangeID)
}

type Position struct {
	PositionID int `json:"position_ID"`
	SensorID   int `json:"sensor_ID"`
	RangeID    int `json:"range_ID"`
}

func (p Position) Step() Step {
	return Step{SensorID: p.SensorID, RangeID: p.RangeID}
}

type RangeBand struct {
	RangeID int     `json:"range_id" yaml:"range_id"`
	Lower   float64 `json:"lower" yaml:"lower"`
	Upper   float64 `json:"upper" yaml:"upper"`
}

// SecuritySequence lists position ids in the order they must be stepped on.
type SecuritySequence struct {
	ID        int   `json:"id"`
	Positions []int `json:"positions"`
}

type NoteDetails struct {
	NoteID    int     `json:"note_ID"`
	Name      string  `json:"note_name,omitempty"`
	Frequency float64 `json:"frequency,omitempty"`
}

type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	SensorID  int       `json:"sensor_id"`
	Distance  float64   `json:"distance"`
	Muted     bool      `json:"muted,omitempty"`
	Source    string    `json:"source,omitempty"`
}

type RoundResult string

const (
	RoundSuccess RoundResult = "success"
	RoundFailure RoundResult = "failure"
	RoundAborted RoundResult = "aborted"
)

// Round is the record of one finished security or game attempt.
type Round struct {
	Timestamp time.Time   `json:"timestamp"`
	Mode      Mode        `json:"mode"`
	Result    RoundResult `json:"result"`
	Steps     int         `json:"steps"`
	Length    int         `json:"length"`
	SensorID  int         `json:"sensor_id"`
	Detail    string      `json:"detail,omitempty"`
}
