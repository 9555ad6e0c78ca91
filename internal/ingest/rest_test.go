package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stepsense/internal/model"
)

func TestRESTAcceptsBatch(t *testing.T) {
	out := make(chan model.Reading, 4)
	srv := httptest.NewServer(NewRESTServer(out, nil).Handler())
	defer srv.Close()

	body := `[{"sensor_id":1,"distance":4.5},{"sensor":"distance_sensor2","distance":"18"},{"distance":3}]`
	resp, err := http.Post(srv.URL+"/readings", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var got map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["accepted"] != 2 || got["failed"] != 1 {
		t.Fatalf("unexpected counts %v", got)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 queued readings, got %d", len(out))
	}
	if r := <-out; r.SensorID != 1 || r.Source != "rest" {
		t.Fatalf("unexpected reading %+v", r)
	}
}

func TestRESTRejectsGet(t *testing.T) {
	out := make(chan model.Reading, 1)
	rec := httptest.NewRecorder()
	NewRESTServer(out, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readings", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rec.Code)
	}
}
