package ingest

import "testing"

func TestParseBareDistance(t *testing.T) {
	p := NewParser()
	fields, err := p.ParsePayload("ultrasonic/distance_sensor3", []byte(" 17.25\n"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.SensorID != "ultrasonic/distance_sensor3" || fields.Distance != "17.25" {
		t.Fatalf("unexpected fields %+v", fields)
	}
}

func TestParseKeyValue(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("2026-02-23 12:34:56 sensor=2 distance=12.5 muted=true")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.SensorID != "2" || fields.Distance != "12.5" || fields.Muted != "true" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if fields.Timestamp != "2026-02-23 12:34:56" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("4,22.0")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.SensorID != "4" || fields.Distance != "22.0" {
		t.Fatalf("csv parse mismatch %+v", fields)
	}

	p = NewParser()
	if fields, _ := p.ParseLine("distance,sensor_id"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err = p.ParseLine("8.5,1")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.SensorID != "1" || fields.Distance != "8.5" {
		t.Fatalf("header order ignored %+v", fields)
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	fields, err := p.ParsePayload("ultrasonic/distance_sensor1", []byte(`{"distance": 9, "muted": false}`))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.SensorID != "ultrasonic/distance_sensor1" || fields.Distance != "9" || fields.Muted != "false" {
		t.Fatalf("json parse mismatch %+v", fields)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	p := NewParser()
	if _, err := p.ParseLine("hello"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := p.ParsePayload("t", []byte("  ")); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}
