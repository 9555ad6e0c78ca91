package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stepsense/internal/model"
)

// EventFields holds the raw string fields pulled out of a transport payload
// before they are validated into a Reading.
type EventFields struct {
	Timestamp string
	SensorID  string
	Distance  string
	Muted     string
	Extras    map[string]string
	Raw       string
}

func Normalize(fields EventFields) (model.Reading, error) {
	sensor, err := ParseSensorID(fields.SensorID)
	if err != nil {
		return model.Reading{}, err
	}
	dist := strings.TrimSpace(fields.Distance)
	if dist == "" {
		return model.Reading{}, errors.New("missing distance")
	}
	distance, err := strconv.ParseFloat(dist, 64)
	if err != nil {
		return model.Reading{}, fmt.Errorf("parse distance: %w", err)
	}
	if distance < 0 {
		return model.Reading{}, fmt.Errorf("negative distance %.2f", distance)
	}

	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, time.UTC)
		if err != nil {
			return model.Reading{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	return model.Reading{
		Timestamp: ts,
		SensorID:  sensor,
		Distance:  distance,
		Muted:     ParseBool(fields.Muted),
	}, nil
}

// ParseSensorID accepts a bare number or any identifier ending in digits
// such as "distance_sensor3".
func ParseSensorID(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("missing sensor id")
	}
	end := len(value)
	start := end
	for start > 0 && value[start-1] >= '0' && value[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, fmt.Errorf("sensor id %q has no number", value)
	}
	id, err := strconv.Atoi(value[start:end])
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("sensor id must be positive, got %d", id)
	}
	return id, nil
}

func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on", "mute", "muted":
		return true
	}
	return false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
