package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"stepsense/internal/config"
	"stepsense/internal/light"
	"stepsense/internal/model"
)

var (
	// ErrTransport covers dial, read and write failures.
	ErrTransport = errors.New("metadata transport error")
	// ErrBadResponse means the server answered but not with what was asked.
	ErrBadResponse = errors.New("metadata bad response")
	// ErrMalformed marks data that cannot be turned into model values.
	ErrMalformed = errors.New("metadata malformed data")
)

const (
	actionGameLength = "fetchGameLength"
	actionPositions  = "fetchAllPositions"
	actionSecurity   = "fetchSecuritySequences"
	actionNote       = "getNoteDetails"
	actionLog        = "logSensorData"
	actionLEDSend    = "sendLEDTrigger"
	actionLEDReply   = "LEDTrigger"
)

type request struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

type response struct {
	Action    string          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

type alarm struct {
	Type     string `json:"type"`
	SensorID int    `json:"sensor_id"`
	Message  string `json:"message"`
}

type noteKey struct {
	sensor int
	rng    int
}

// Client talks to the session server over WebSocket. Every call opens its
// own connection, sends one request and reads one reply.
type Client struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  *slog.Logger
	notes   *expirable.LRU[noteKey, model.NoteDetails]
}

func NewClient(cfg config.MetadataConfig, logger *slog.Logger) *Client {
	size := cfg.NoteCache
	if size <= 0 {
		size = 256
	}
	return &Client{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.Timeout},
		logger:  logger,
		notes:   expirable.NewLRU[noteKey, model.NoteDetails](size, nil, cfg.NoteCacheTTL),
	}
}

func (c *Client) SequenceLength(ctx context.Context) (int, error) {
	resp, err := c.roundTrip(ctx, actionGameLength, nil, actionGameLength)
	if err != nil {
		return 0, err
	}
	var rows []struct {
		Length *int `json:"length"`
	}
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return 0, fmt.Errorf("%w: game length: %v", ErrMalformed, err)
	}
	if len(rows) == 0 || rows[0].Length == nil {
		return 0, fmt.Errorf("%w: game length missing", ErrMalformed)
	}
	return *rows[0].Length, nil
}

func (c *Client) Positions(ctx context.Context) ([]model.Position, error) {
	resp, err := c.roundTrip(ctx, actionPositions, nil, actionPositions)
	if err != nil {
		return nil, err
	}
	var out []model.Position
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("%w: positions: %v", ErrMalformed, err)
	}
	return out, nil
}

func (c *Client) SecuritySequences(ctx context.Context) ([]model.SecuritySequence, error) {
	resp, err := c.roundTrip(ctx, actionSecurity, nil, actionSecurity)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return nil, fmt.Errorf("%w: security sequences: %v", ErrMalformed, err)
	}
	out := make([]model.SecuritySequence, 0, len(rows))
	for i, row := range rows {
		seq, err := ParseSecuritySequence(row)
		if err != nil {
			return nil, fmt.Errorf("security sequence %d: %w", i, err)
		}
		out = append(out, seq)
	}
	return out, nil
}

// NoteDetails answers from the cache when it can.
func (c *Client) NoteDetails(ctx context.Context, sensorID, rangeID int) (model.NoteDetails, error) {
	key := noteKey{sensor: sensorID, rng: rangeID}
	if nd, ok := c.notes.Get(key); ok {
		return nd, nil
	}
	resp, err := c.roundTrip(ctx, actionNote, map[string]any{
		"sensor_ID": sensorID,
		"range_ID":  rangeID,
	}, actionNote)
	if err != nil {
		return model.NoteDetails{}, err
	}
	var nd model.NoteDetails
	if err := json.Unmarshal(resp.Data, &nd); err != nil {
		return model.NoteDetails{}, fmt.Errorf("%w: note details: %v", ErrMalformed, err)
	}
	c.notes.Add(key, nd)
	return nd, nil
}

// PurgeNotes drops every cached note.
func (c *Client) PurgeNotes() {
	c.notes.Purge()
}

func (c *Client) LogReading(ctx context.Context, sensorID int, distance float64) error {
	_, err := c.roundTrip(ctx, actionLog, map[string]any{
		"sensor_ID": sensorID,
		"distance":  distance,
	}, actionLog)
	return err
}

// RaiseAlarm notifies the companion app. The server does not reply.
func (c *Client) RaiseAlarm(ctx context.Context, sensorID int) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.WriteJSON(alarm{Type: "alarm", SensorID: sensorID, Message: "fail"}); err != nil {
		return fmt.Errorf("%w: write alarm: %v", ErrTransport, err)
	}
	return nil
}

// Trigger forwards an LED command through the session server, which relays
// it to the strip controller.
func (c *Client) Trigger(ctx context.Context, sensorID int, span light.Span, color light.Color, d time.Duration) error {
	_, err := c.roundTrip(ctx, actionLEDSend, map[string]any{
		"sensor_id": sensorID,
		"message":   light.Message(span, color, d),
	}, actionLEDReply)
	return err
}

func (c *Client) roundTrip(ctx context.Context, action string, payload map[string]any, wantAction string) (*response, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}

	requestID := uuid.NewString()
	if payload == nil {
		payload = map[string]any{}
	}
	payload["request_id"] = requestID
	if err := conn.WriteJSON(request{Action: action, Payload: payload}); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrTransport, action, err)
	}
	if c.logger != nil {
		c.logger.Debug("metadata request", "action", action, "request_id", requestID)
	}
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransport, action, err)
	}
	if resp.Action != wantAction {
		return nil, fmt.Errorf("%w: %s answered with action %q", ErrBadResponse, action, resp.Action)
	}
	if resp.RequestID != "" && resp.RequestID != requestID {
		return nil, fmt.Errorf("%w: %s request id mismatch", ErrBadResponse, action)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return nil, fmt.Errorf("%w: %s: %s", ErrBadResponse, action, string(resp.Error))
	}
	return &resp, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, c.url, err)
	}
	return conn, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// ParseSecuritySequence reads a row of stepN_position_ID columns. Steps must
// be numbered 1..N without gaps.
func ParseSecuritySequence(row map[string]any) (model.SecuritySequence, error) {
	steps := map[int]int{}
	var seq model.SecuritySequence
	for key, val := range row {
		lower := strings.ToLower(key)
		switch lower {
		case "id", "sequence_id":
			id, err := toInt(val)
			if err != nil {
				return seq, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
			}
			seq.ID = id
			continue
		}
		if !strings.HasPrefix(lower, "step") || !strings.HasSuffix(lower, "_position_id") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(lower, "step"), "_position_id"))
		if err != nil || n < 1 {
			return seq, fmt.Errorf("%w: bad step column %q", ErrMalformed, key)
		}
		if val == nil {
			continue
		}
		id, err := toInt(val)
		if err != nil {
			return seq, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
		}
		steps[n] = id
	}
	if len(steps) == 0 {
		return seq, fmt.Errorf("%w: sequence has no steps", ErrMalformed)
	}
	order := make([]int, 0, len(steps))
	for n := range steps {
		order = append(order, n)
	}
	sort.Ints(order)
	for i, n := range order {
		if n != i+1 {
			return seq, fmt.Errorf("%w: step %d missing", ErrMalformed, i+1)
		}
		seq.Positions = append(seq.Positions, steps[n])
	}
	return seq, nil
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("not an integer: %v", t)
		}
		return int(t), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	case json.Number:
		n, err := t.Int64()
		return int(n), err
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}
