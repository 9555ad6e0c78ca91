package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"stepsense/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap accepts the sensor firmware's field names as well as the
// snake_case names used by the REST endpoint.
func ParseJSONMap(obj map[string]any) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	for key, val := range obj {
		if val == nil {
			continue
		}
		fields.Extras[strings.ToLower(key)] = jsonString(val)
	}
	fields.Timestamp = firstNonEmpty(fields.Extras, "timestamp", "time", "ts")
	fields.SensorID = firstNonEmpty(fields.Extras, "sensor_id", "sensor", "sensorid", "device", "id")
	fields.Distance = firstNonEmpty(fields.Extras, "distance", "dist", "cm", "value")
	fields.Muted = firstNonEmpty(fields.Extras, "muted", "mute", "is_muted", "ismuted")
	return fields
}

func jsonString(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
