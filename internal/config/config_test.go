package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"stepsense/internal/model"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "stepsense.yaml", `
log_level: debug
mode: game
musical:
  cooldown: 3s
ranges:
  - {range_id: 1, lower: 0, upper: 15}
  - {range_id: 2, lower: 15, upper: 30}
  - {range_id: 3, lower: 30, upper: 45}
metadata:
  url: ws://10.0.0.5:8080
ingest:
  mqtt:
    enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "game" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected top level: mode=%s level=%s", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Musical.Cooldown != 3*time.Second {
		t.Fatalf("cooldown: %s", cfg.Musical.Cooldown)
	}
	if len(cfg.Ranges) != 3 || cfg.Ranges[2].Upper != 45 {
		t.Fatalf("ranges: %+v", cfg.Ranges)
	}
	if cfg.Audio.SuccessNote != 56 || cfg.Audio.FailureNote != 55 {
		t.Fatalf("defaults not kept: %+v", cfg.Audio)
	}
	if cfg.Game.MaxLength != 32 || cfg.Lights.PublishTimeout != 2*time.Second {
		t.Fatalf("bounds not defaulted: max_length=%d publish_timeout=%s", cfg.Game.MaxLength, cfg.Lights.PublishTimeout)
	}
}

func TestValidateRejectsZeroMaxLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Game.MaxLength = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected game.max_length 0 to be rejected")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "stepsense.json", `{"mode": "2", "api": {"enabled": true, "addr": ":9999"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":9999" {
		t.Fatalf("api addr: %s", cfg.API.Addr)
	}
	mode, err := model.ParseMode(cfg.Mode)
	if err != nil || mode != model.ModeSecurity {
		t.Fatalf("mode: %s err=%v", mode, err)
	}
}

func TestLoadRejectsBadRanges(t *testing.T) {
	path := writeConfig(t, "bad.yaml", `
ranges:
  - {range_id: 1, lower: 0, upper: 10}
  - {range_id: 2, lower: 5, upper: 20}
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected overlapping ranges to be rejected")
	}
}

func TestLoadRejectsEmpty(t *testing.T) {
	path := writeConfig(t, "empty.yaml", "   \n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STEPSENSE_MODE", "synth")
	t.Setenv("STEPSENSE_METADATA_URL", "ws://override:1234")
	t.Setenv("STEPSENSE_INGEST_MQTT_BROKER", "tcp://broker:1883")
	path := writeConfig(t, "env.yaml", "mode: musical\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "synth" {
		t.Fatalf("mode override: %s", cfg.Mode)
	}
	if cfg.Metadata.URL != "ws://override:1234" {
		t.Fatalf("metadata override: %s", cfg.Metadata.URL)
	}
	if cfg.Ingest.MQTT.Broker != "tcp://broker:1883" {
		t.Fatalf("mqtt override: %s", cfg.Ingest.MQTT.Broker)
	}
}

func TestManagerReload(t *testing.T) {
	path := writeConfig(t, "reload.yaml", "mode: musical\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := os.WriteFile(path, []byte("mode: security\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil || !needs {
		t.Fatalf("expected reload needed, got %v err=%v", needs, err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Mode != "security" || m.Get().Mode != "security" {
		t.Fatalf("reload did not apply: %s", m.Get().Mode)
	}
}
