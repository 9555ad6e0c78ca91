package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"stepsense/internal/config"
	"stepsense/internal/light"
	"stepsense/internal/model"
)

type fakeServer struct {
	t        *testing.T
	calls    atomic.Int32
	handle   func(req map[string]any) any
	upgrader websocket.Upgrader
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	var req map[string]any
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	f.calls.Add(1)
	reply := f.handle(req)
	if reply == nil {
		return
	}
	_ = conn.WriteJSON(reply)
}

func newTestClient(t *testing.T, handle func(req map[string]any) any) (*Client, *fakeServer) {
	t.Helper()
	fs := &fakeServer{t: t, handle: handle}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	cfg := config.DefaultConfig().Metadata
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Timeout = 2 * time.Second
	return NewClient(cfg, nil), fs
}

func requestID(req map[string]any) string {
	payload, _ := req["payload"].(map[string]any)
	id, _ := payload["request_id"].(string)
	return id
}

func TestSequenceLength(t *testing.T) {
	c, _ := newTestClient(t, func(req map[string]any) any {
		require.Equal(t, "fetchGameLength", req["action"])
		return map[string]any{"action": "fetchGameLength", "data": []map[string]any{{"length": 5}}}
	})
	n, err := c.SequenceLength(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestSequenceLengthMissing(t *testing.T) {
	c, _ := newTestClient(t, func(req map[string]any) any {
		return map[string]any{"action": "fetchGameLength", "data": []map[string]any{}}
	})
	_, err := c.SequenceLength(context.Background())
	require.ErrorIs(t, err, ErrMalformed)
}

func TestPositions(t *testing.T) {
	c, _ := newTestClient(t, func(req map[string]any) any {
		return map[string]any{"action": "fetchAllPositions", "data": []map[string]any{
			{"position_ID": 1, "sensor_ID": 1, "range_ID": 1},
			{"position_ID": 2, "sensor_ID": 2, "range_ID": 3},
		}}
	})
	got, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Equal(t, []model.Position{
		{PositionID: 1, SensorID: 1, RangeID: 1},
		{PositionID: 2, SensorID: 2, RangeID: 3},
	}, got)
}

func TestSecuritySequences(t *testing.T) {
	c, _ := newTestClient(t, func(req map[string]any) any {
		return map[string]any{"action": "fetchSecuritySequences", "data": []map[string]any{
			{"sequence_ID": 4, "step1_position_ID": 3, "step2_position_ID": 7, "step3_position_ID": 1},
		}}
	})
	got, err := c.SecuritySequences(context.Background())
	require.NoError(t, err)
	require.Equal(t, []model.SecuritySequence{{ID: 4, Positions: []int{3, 7, 1}}}, got)
}

func TestParseSecuritySequenceGap(t *testing.T) {
	_, err := ParseSecuritySequence(map[string]any{"step1_position_ID": 1.0, "step3_position_ID": 2.0})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestNoteDetailsCached(t *testing.T) {
	c, fs := newTestClient(t, func(req map[string]any) any {
		payload := req["payload"].(map[string]any)
		require.EqualValues(t, 2, payload["sensor_ID"])
		require.EqualValues(t, 3, payload["range_ID"])
		return map[string]any{
			"action":     "getNoteDetails",
			"request_id": requestID(req),
			"data":       map[string]any{"note_ID": 12, "note_name": "C4"},
		}
	})
	for i := 0; i < 3; i++ {
		nd, err := c.NoteDetails(context.Background(), 2, 3)
		require.NoError(t, err)
		require.Equal(t, 12, nd.NoteID)
	}
	require.EqualValues(t, 1, fs.calls.Load())
	c.PurgeNotes()
	_, err := c.NoteDetails(context.Background(), 2, 3)
	require.NoError(t, err)
	require.EqualValues(t, 2, fs.calls.Load())
}

func TestRequestIDMismatch(t *testing.T) {
	c, _ := newTestClient(t, func(req map[string]any) any {
		return map[string]any{"action": "getNoteDetails", "request_id": "other", "data": map[string]any{"note_ID": 1}}
	})
	_, err := c.NoteDetails(context.Background(), 1, 1)
	require.ErrorIs(t, err, ErrBadResponse)
}

func TestServerError(t *testing.T) {
	c, _ := newTestClient(t, func(req map[string]any) any {
		return map[string]any{"action": "logSensorData", "error": "db down"}
	})
	err := c.LogReading(context.Background(), 1, 12.5)
	require.ErrorIs(t, err, ErrBadResponse)
}

func TestTriggerSendsLEDMessage(t *testing.T) {
	var got atomic.Value
	c, _ := newTestClient(t, func(req map[string]any) any {
		payload := req["payload"].(map[string]any)
		got.Store(payload["message"])
		return map[string]any{"action": "LEDTrigger", "request_id": requestID(req), "message": "ok"}
	})
	err := c.Trigger(context.Background(), 2, light.Span{From: 0, To: 30}, light.Red, 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, "0-30&255,0,0&3000", got.Load())
}

func TestRaiseAlarm(t *testing.T) {
	received := make(chan map[string]any, 1)
	c, _ := newTestClient(t, func(req map[string]any) any {
		received <- req
		return nil
	})
	require.NoError(t, c.RaiseAlarm(context.Background(), 3))
	select {
	case req := <-received:
		require.Equal(t, "alarm", req["type"])
		require.EqualValues(t, 3, req["sensor_id"])
		require.Equal(t, "fail", req["message"])
	case <-time.After(2 * time.Second):
		t.Fatalf("alarm not received")
	}
}

func TestTransportError(t *testing.T) {
	cfg := config.DefaultConfig().Metadata
	cfg.URL = "ws://127.0.0.1:1"
	cfg.Timeout = 500 * time.Millisecond
	c := NewClient(cfg, nil)
	_, err := c.SequenceLength(context.Background())
	require.ErrorIs(t, err, ErrTransport)
}
