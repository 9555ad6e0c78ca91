package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stepsense/internal/activity"
	"stepsense/internal/config"
	"stepsense/internal/engine"
	"stepsense/internal/model"
	"stepsense/internal/rounds"
)

// EngineControl is what the admin API needs from the dispatcher.
type EngineControl interface {
	Mode() model.Mode
	SetMode(mode model.Mode)
	Muted() bool
	SetMuted(muted bool)
	Snapshot() engine.Snapshot
	Reset()
	Refresh(ctx context.Context) error
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg      *config.Manager
	rounds   *rounds.Store
	activity *activity.Store
	engine   EngineControl
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string            `json:"status"`
	Time       string            `json:"time"`
	Version    string            `json:"version"`
	ConfigPath string            `json:"config_path"`
	Engine     engine.Snapshot   `json:"engine"`
	Ranges     []model.RangeBand `json:"ranges"`
	Ingest     ingestStatus      `json:"ingest"`
	Outputs    outputStatus      `json:"outputs"`
}

type ingestStatus struct {
	MQTT   bool `json:"mqtt"`
	Kafka  bool `json:"kafka"`
	Serial bool `json:"serial"`
	REST   bool `json:"rest"`
}

type outputStatus struct {
	Audio   string `json:"audio"`
	Lights  string `json:"lights"`
	Storage bool   `json:"storage"`
}

func NewServer(cfg *config.Manager, roundsStore *rounds.Store, activityStore *activity.Store, eng EngineControl, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:      cfg,
		rounds:   roundsStore,
		activity: activityStore,
		engine:   eng,
		logger:   logger,
		version:  version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/mode", s.handleMode)
	mux.HandleFunc("/mute", s.handleMute)
	mux.HandleFunc("/rounds", s.handleRounds)
	mux.HandleFunc("/sensors", s.handleSensors)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/reset", s.handleReset)
	mux.HandleFunc("/admin/refresh", s.handleRefresh)
	return mux
}

func Start(ctx context.Context, server *Server) *http.Server {
	if server == nil || server.cfg == nil {
		return nil
	}
	logger := server.logger
	current := server.cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ranges:     cfg.Ranges,
		Ingest: ingestStatus{
			MQTT:   cfg.Ingest.MQTT.Enabled,
			Kafka:  cfg.Ingest.Kafka.Enabled,
			Serial: cfg.Ingest.Serial.Enabled,
			REST:   cfg.Ingest.REST.Enabled,
		},
		Outputs: outputStatus{
			Audio:   cfg.Audio.Driver,
			Lights:  cfg.Lights.Driver,
			Storage: cfg.Storage.Enabled,
		},
	}
	if s.engine != nil {
		resp.Engine = s.engine.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"mode": s.currentMode()})
	case http.MethodPost:
		var req struct {
			Mode string `json:"mode"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mode, err := model.ParseMode(req.Mode)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		next := *s.cfg.Get()
		next.Mode = string(mode)
		if err := s.cfg.Update(&next); err != nil {
			if s.logger != nil {
				s.logger.Error("persist mode failed", "err", err)
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.engine != nil {
			s.engine.UpdateConfig(&next)
			s.engine.SetMode(mode)
		}
		writeJSON(w, http.StatusOK, map[string]any{"mode": mode})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) currentMode() model.Mode {
	if s.engine != nil {
		return s.engine.Mode()
	}
	mode, _ := model.ParseMode(s.cfg.Get().Mode)
	return mode
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		muted := false
		if s.engine != nil {
			muted = s.engine.Muted()
		}
		writeJSON(w, http.StatusOK, map[string]any{"muted": muted})
	case http.MethodPost:
		var req struct {
			Muted bool `json:"muted"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if s.engine != nil {
			s.engine.SetMuted(req.Muted)
		}
		writeJSON(w, http.StatusOK, map[string]any{"muted": req.Muted})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Round
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.rounds.Since(ts)
	} else {
		list = s.rounds.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rounds":  list,
		"count":   len(list),
		"summary": s.rounds.Summary(),
	})
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	all := s.activity.GetAll()
	resp := map[string]any{
		"sensors": all,
		"count":   len(all),
	}
	if v := r.URL.Query().Get("stale"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp["stale"] = s.activity.Stale(time.Now().Add(-d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.activity.Clear()
		s.rounds.Clear()
	case "rounds":
		s.rounds.Clear()
	case "sensors":
		s.activity.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReset drops the round in progress without touching history.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if err := s.engine.Refresh(r.Context()); err != nil {
		if s.logger != nil {
			s.logger.Warn("metadata refresh failed", "err", err)
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	snap := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"positions":          snap.Positions,
		"security_sequences": snap.Sequences,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
