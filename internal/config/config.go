package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"stepsense/internal/model"
	"stepsense/internal/position"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "STEPSENSE_"

type Config struct {
	LogLevel  string            `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string            `json:"log_format" yaml:"log_format" env:"LOG_FORMAT"`
	Mode      string            `json:"mode" yaml:"mode" env:"MODE"`
	Muted     bool              `json:"muted" yaml:"muted" env:"MUTED"`
	Ranges    []model.RangeBand `json:"ranges" yaml:"ranges"`
	Musical   MusicalConfig     `json:"musical" yaml:"musical"`
	Security  SecurityConfig    `json:"security" yaml:"security"`
	Game      GameConfig        `json:"game" yaml:"game"`
	Audio     AudioConfig       `json:"audio" yaml:"audio" envPrefix:"AUDIO_"`
	Lights    LightsConfig      `json:"lights" yaml:"lights" envPrefix:"LIGHTS_"`
	Metadata  MetadataConfig    `json:"metadata" yaml:"metadata" envPrefix:"METADATA_"`
	Ingest    IngestConfig      `json:"ingest" yaml:"ingest" envPrefix:"INGEST_"`
	API       APIConfig         `json:"api" yaml:"api" envPrefix:"API_"`
	Storage   StorageConfig     `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Rounds    RoundsConfig      `json:"rounds" yaml:"rounds"`
}

type MusicalConfig struct {
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`
}

type SecurityConfig struct {
	PulseHold time.Duration `json:"pulse_hold" yaml:"pulse_hold"`
	LEDRange  string        `json:"led_range" yaml:"led_range"`
	LEDTime   time.Duration `json:"led_time" yaml:"led_time"`
}

type GameConfig struct {
	PlaybackInterval time.Duration `json:"playback_interval" yaml:"playback_interval"`
	FailurePause     time.Duration `json:"failure_pause" yaml:"failure_pause"`
	FlashTime        time.Duration `json:"flash_time" yaml:"flash_time"`
	StepLEDTime      time.Duration `json:"step_led_time" yaml:"step_led_time"`
	Strips           []int         `json:"strips" yaml:"strips"`
	MaxLength        int           `json:"max_length" yaml:"max_length"`
}

type AudioConfig struct {
	Driver        string          `json:"driver" yaml:"driver" env:"DRIVER"`
	Port          string          `json:"port" yaml:"port" env:"PORT"`
	Channel       uint8           `json:"channel" yaml:"channel"`
	NoteBase      int             `json:"note_base" yaml:"note_base"`
	Velocity      uint8           `json:"velocity" yaml:"velocity"`
	NoteLength    time.Duration   `json:"note_length" yaml:"note_length"`
	SuccessNote   int             `json:"success_note" yaml:"success_note"`
	FailureNote   int             `json:"failure_note" yaml:"failure_note"`
	MaxConcurrent int             `json:"max_concurrent" yaml:"max_concurrent"`
	SynthBase     map[int]float64 `json:"synth_base" yaml:"synth_base"`
	SynthMaxDist  float64         `json:"synth_max_distance" yaml:"synth_max_distance"`
}

type LightsConfig struct {
	Driver         string        `json:"driver" yaml:"driver" env:"DRIVER"`
	Pixels         int           `json:"pixels" yaml:"pixels"`
	TopicPrefix    string        `json:"topic_prefix" yaml:"topic_prefix"`
	PublishTimeout time.Duration `json:"publish_timeout" yaml:"publish_timeout"`
}

type MetadataConfig struct {
	URL          string        `json:"url" yaml:"url" env:"URL"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
	NoteCacheTTL time.Duration `json:"note_cache_ttl" yaml:"note_cache_ttl"`
	NoteCache    int           `json:"note_cache" yaml:"note_cache"`
}

type IngestConfig struct {
	ChannelBuffer int          `json:"channel_buffer" yaml:"channel_buffer"`
	MQTT          MQTTConfig   `json:"mqtt" yaml:"mqtt" envPrefix:"MQTT_"`
	Kafka         KafkaConfig  `json:"kafka" yaml:"kafka"`
	Serial        SerialConfig `json:"serial" yaml:"serial" envPrefix:"SERIAL_"`
	REST          RESTConfig   `json:"rest" yaml:"rest"`
}

type MQTTConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Broker       string   `json:"broker" yaml:"broker" env:"BROKER"`
	ClientID     string   `json:"client_id" yaml:"client_id"`
	SensorTopics []string `json:"sensor_topics" yaml:"sensor_topics"`
	AliveTopic   string   `json:"alive_topic" yaml:"alive_topic"`
	MuteTopic    string   `json:"mute_topic" yaml:"mute_topic"`
	ModeTopic    string   `json:"mode_topic" yaml:"mode_topic"`
	QoS          byte     `json:"qos" yaml:"qos"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type SerialConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Port     string `json:"port" yaml:"port" env:"PORT"`
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Addr    string `json:"addr" yaml:"addr" env:"ADDR"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Driver  string `json:"driver" yaml:"driver" env:"DRIVER"`
	DSN     string `json:"dsn" yaml:"dsn" env:"DSN"`
}

type RoundsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultRanges() []model.RangeBand {
	return []model.RangeBand{
		{RangeID: 1, Lower: 0, Upper: 10},
		{RangeID: 2, Lower: 10, Upper: 20},
		{RangeID: 3, Lower: 20, Upper: 30},
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Mode:      string(model.ModeMusical),
		Ranges:    DefaultRanges(),
		Musical:   MusicalConfig{Cooldown: 5 * time.Second},
		Security: SecurityConfig{
			PulseHold: 2 * time.Second,
			LEDRange:  "0-30",
			LEDTime:   3 * time.Second,
		},
		Game: GameConfig{
			PlaybackInterval: 1 * time.Second,
			FailurePause:     2 * time.Second,
			FlashTime:        1 * time.Second,
			StepLEDTime:      3 * time.Second,
			Strips:           []int{1, 2, 3},
			MaxLength:        32,
		},
		Audio: AudioConfig{
			Driver:        "midi",
			NoteBase:      0,
			Velocity:      100,
			NoteLength:    500 * time.Millisecond,
			SuccessNote:   56,
			FailureNote:   55,
			MaxConcurrent: 8,
			SynthBase:     map[int]float64{1: 440, 2: 494, 3: 523},
			SynthMaxDist:  50,
		},
		Lights: LightsConfig{Driver: "websocket", Pixels: 30, TopicPrefix: "control/ledstrip", PublishTimeout: 2 * time.Second},
		Metadata: MetadataConfig{
			URL:          "ws://127.0.0.1:8080",
			Timeout:      3 * time.Second,
			NoteCacheTTL: 5 * time.Minute,
			NoteCache:    256,
		},
		Ingest: IngestConfig{
			ChannelBuffer: 1024,
			MQTT: MQTTConfig{
				Enabled:  true,
				Broker:   "tcp://127.0.0.1:1883",
				ClientID: "stepsense",
				SensorTopics: []string{
					"ultrasonic/distance_sensor1",
					"ultrasonic/distance_sensor2",
					"ultrasonic/distance_sensor3",
					"ultrasonic/distance_sensor4",
				},
				AliveTopic: "alive/#",
				MuteTopic:  "audio/mute",
				ModeTopic:  "control/mode",
				QoS:        0,
			},
			Kafka:  KafkaConfig{Enabled: false},
			Serial: SerialConfig{Enabled: false, BaudRate: 115200},
			REST:   RESTConfig{Enabled: false, Addr: ":8082"},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:stepsense.db?_pragma=busy_timeout(5000)"},
		Rounds:  RoundsConfig{StoreLimit: 500},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays STEPSENSE_* environment variables onto cfg. Unset
// variables leave the file values alone.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if len(cfg.Ranges) == 0 {
		cfg.Ranges = DefaultRanges()
	}
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Audio.MaxConcurrent <= 0 {
		cfg.Audio.MaxConcurrent = def.Audio.MaxConcurrent
	}
	if cfg.Audio.SynthMaxDist <= 0 {
		cfg.Audio.SynthMaxDist = def.Audio.SynthMaxDist
	}
	if len(cfg.Audio.SynthBase) == 0 {
		cfg.Audio.SynthBase = def.Audio.SynthBase
	}
	if cfg.Lights.Pixels <= 0 {
		cfg.Lights.Pixels = def.Lights.Pixels
	}
	if cfg.Metadata.Timeout <= 0 {
		cfg.Metadata.Timeout = def.Metadata.Timeout
	}
	if cfg.Metadata.NoteCache <= 0 {
		cfg.Metadata.NoteCache = def.Metadata.NoteCache
	}
	if len(cfg.Game.Strips) == 0 {
		cfg.Game.Strips = def.Game.Strips
	}
	if cfg.Game.MaxLength <= 0 {
		cfg.Game.MaxLength = def.Game.MaxLength
	}
	if cfg.Lights.PublishTimeout <= 0 {
		cfg.Lights.PublishTimeout = def.Lights.PublishTimeout
	}
	if cfg.Rounds.StoreLimit <= 0 {
		cfg.Rounds.StoreLimit = def.Rounds.StoreLimit
	}
}

func Validate(cfg *Config) error {
	if _, err := model.ParseMode(cfg.Mode); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	if err := position.ValidateBands(cfg.Ranges); err != nil {
		return fmt.Errorf("ranges: %w", err)
	}
	if cfg.Musical.Cooldown < 0 {
		return errors.New("musical.cooldown must be >= 0")
	}
	if cfg.Game.MaxLength < 1 {
		return fmt.Errorf("game.max_length must be >= 1, got %d", cfg.Game.MaxLength)
	}
	if cfg.Metadata.URL == "" {
		return errors.New("metadata.url required")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.MQTT.Enabled {
		if cfg.Ingest.MQTT.Broker == "" || len(cfg.Ingest.MQTT.SensorTopics) == 0 {
			return errors.New("ingest.mqtt requires broker and sensor_topics")
		}
		if cfg.Ingest.MQTT.QoS > 2 {
			return fmt.Errorf("ingest.mqtt.qos must be 0, 1 or 2, got %d", cfg.Ingest.MQTT.QoS)
		}
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.Serial.Enabled && cfg.Ingest.Serial.Port == "" {
		return errors.New("ingest.serial.port required when ingest.serial.enabled is true")
	}
	switch strings.ToLower(cfg.Lights.Driver) {
	case "websocket", "mqtt", "none":
	default:
		return fmt.Errorf("unsupported lights driver %q", cfg.Lights.Driver)
	}
	if strings.EqualFold(cfg.Lights.Driver, "mqtt") && cfg.Ingest.MQTT.Broker == "" {
		return errors.New("lights.driver mqtt requires ingest.mqtt.broker")
	}
	switch strings.ToLower(cfg.Audio.Driver) {
	case "midi", "none":
	default:
		return fmt.Errorf("unsupported audio driver %q", cfg.Audio.Driver)
	}
	if cfg.Audio.Channel > 15 {
		return fmt.Errorf("audio.channel must be in [0,15], got %d", cfg.Audio.Channel)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if m.path == "" {
		return nil
	}
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
