package ingest

import (
	"encoding/csv"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"stepsense/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s,]+)`)
)

var errEmptyPayload = errors.New("empty payload")

// Parser turns sensor payloads into EventFields. It understands a bare
// distance ("12.5"), CSV ("sensor,distance[,muted]" with optional header),
// key=value pairs and JSON objects.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParsePayload parses a message received on topic. When the payload does not
// name a sensor the trailing digits of the topic are used.
func (p *Parser) ParsePayload(topic string, payload []byte) (*normalize.EventFields, error) {
	fields, err := p.ParseLine(string(payload))
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errEmptyPayload
	}
	if fields.SensorID == "" {
		fields.SensorID = topic
	}
	return fields, nil
}

// ParseLine returns nil fields for blank lines and CSV headers.
func (p *Parser) ParseLine(line string) (*normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		fields, err := ParseJSONBytes([]byte(trim))
		if err != nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	if _, err := strconv.ParseFloat(trim, 64); err == nil {
		return &normalize.EventFields{Distance: trim, Raw: line}, nil
	}
	if strings.Contains(trim, "=") {
		fields := parseKV(trim)
		fields.Raw = line
		return fields, nil
	}
	if strings.Contains(trim, ",") {
		fields, err := p.csv.Parse(trim)
		if err != nil || fields == nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	return nil, errors.New("unrecognised payload")
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parseKV(line string) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	if ts, _ := extractTimestamp(line); ts != "" {
		fields.Timestamp = ts
	}
	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	for k, v := range kv {
		assignField(fields, k, v)
	}
	return fields
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		return strings.TrimSpace(line[m[2]:m[3]]), strings.TrimSpace(line[m[3]:])
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.EventFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.EventFields{Extras: map[string]string{}}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
		return fields, nil
	}
	fields.SensorID = record[0]
	if len(record) >= 2 {
		fields.Distance = record[1]
	}
	if len(record) >= 3 {
		fields.Muted = record[2]
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "timestamp", "time", "ts", "sensor", "sensor_id", "distance", "dist", "muted", "mute":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.EventFields, name string, value string) {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch name {
	case "timestamp", "time", "ts":
		fields.Timestamp = value
	case "sensor", "sensor_id", "sensorid", "device", "id":
		fields.SensorID = value
	case "distance", "dist", "cm", "value":
		fields.Distance = value
	case "muted", "mute", "is_muted":
		fields.Muted = value
	default:
		if fields.Extras != nil {
			fields.Extras[name] = value
		}
	}
}
