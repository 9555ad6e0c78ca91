// stepsense drives the stepping-stone installation: it listens to the
// distance sensors and answers with tones and LED feedback according to the
// active mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"stepsense/internal/activity"
	"stepsense/internal/api"
	"stepsense/internal/audio"
	"stepsense/internal/config"
	"stepsense/internal/engine"
	"stepsense/internal/ingest"
	"stepsense/internal/light"
	"stepsense/internal/logging"
	"stepsense/internal/metadata"
	"stepsense/internal/model"
	"stepsense/internal/rounds"
	"stepsense/internal/storage"
)

var version = "dev"

type options struct {
	configPath string
	mode       string
	logLevel   string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "stepsense",
		Short:        "Sensor-driven sound and light controller",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML or JSON config file")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "start in this mode (musical, security, game, synth or 1-4)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := opts.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			return config.Save(path, config.DefaultConfig())
		},
	})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	path := config.ResolvePath(opts.configPath)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger := logging.NewLogger(level, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting stepsense", "version", version, "config", path, "mode", cfg.Mode)

	meta := metadata.NewClient(cfg.Metadata, logger)

	player, closeAudio := openAudio(cfg.Audio, logger)
	defer closeAudio()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	readings := make(chan model.Reading, cfg.Ingest.ChannelBuffer)
	parser := ingest.NewParser()
	roundStore := rounds.NewStore(cfg.Rounds.StoreLimit)
	activityStore := activity.NewStore(64)

	deps := engine.Deps{
		Metadata: meta,
		Audio:    player,
		Rounds:   roundStore,
		Activity: activityStore,
		Store:    store,
	}
	// The engine exists before MQTT connects so the subscription callback can
	// reach it; lights are attached once the broker client is known.
	var eng *engine.Engine
	var mqttClient mqtt.Client
	if cfg.Ingest.MQTT.Enabled || cfg.Lights.Driver == "mqtt" {
		var source *ingest.MQTTSource
		control := &lateControl{}
		if cfg.Ingest.MQTT.Enabled {
			source = ingest.NewMQTTSource(cfg.Ingest.MQTT, parser, readings, control, logger)
		}
		mqttClient, err = ingest.ConnectMQTT(cfg.Ingest.MQTT, logger, func(c mqtt.Client) {
			if source != nil {
				_ = source.Subscribe(ctx, c)
			}
		})
		if err != nil {
			return err
		}
		defer mqttClient.Disconnect(250)
		deps.Lights = selectLights(cfg, meta, mqttClient)
		eng = engine.NewEngine(cfg, logger, deps)
		control.set(eng)
	} else {
		deps.Lights = selectLights(cfg, meta, nil)
		eng = engine.NewEngine(cfg, logger, deps)
	}

	if opts.mode != "" {
		mode, err := model.ParseMode(opts.mode)
		if err != nil {
			return err
		}
		eng.SetMode(mode)
	}
	if err := eng.Refresh(ctx); err != nil {
		logger.Warn("initial metadata refresh failed, will retry on demand", "err", err)
	}
	eng.Start(ctx, readings)

	ingest.StartKafka(ctx, mgr, parser, readings, logger)
	ingest.StartSerial(ctx, mgr, parser, readings, logger)
	ingest.StartREST(ctx, mgr, readings, logger)
	api.Start(ctx, api.NewServer(mgr, roundStore, activityStore, eng, logger, version))

	go mgr.Watch(3*time.Second, func(next *config.Config) {
		logger.Info("config reloaded", "mode", next.Mode)
		eng.UpdateConfig(next)
		player.UpdateConfig(next.Audio)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("shutting down")
	player.StopAll()
	eng.Wait()
	player.Wait()
	return nil
}

func openAudio(cfg config.AudioConfig, logger *slog.Logger) (*audio.Player, func()) {
	if !strings.EqualFold(cfg.Driver, "midi") {
		logger.Info("audio disabled", "driver", cfg.Driver)
		return audio.NewPlayer(cfg, nil, logger), func() {}
	}
	send, closer, err := audio.OpenMIDI(cfg.Port)
	if err != nil {
		logger.Warn("midi unavailable, running silent", "err", err)
		return audio.NewPlayer(cfg, nil, logger), func() {}
	}
	logger.Info("midi output open", "port", cfg.Port)
	return audio.NewPlayer(cfg, send, logger), func() {
		if err := closer(); err != nil {
			logger.Warn("midi close failed", "err", err)
		}
	}
}

func selectLights(cfg *config.Config, meta *metadata.Client, client mqtt.Client) light.Output {
	switch strings.ToLower(cfg.Lights.Driver) {
	case "websocket":
		return meta
	case "mqtt":
		if client != nil {
			return light.NewMQTTOutput(client, cfg.Lights.TopicPrefix, cfg.Ingest.MQTT.QoS, cfg.Lights.PublishTimeout)
		}
	}
	return light.Nop{}
}

// lateControl forwards MQTT control messages to the engine once it exists.
// Messages that arrive before then are dropped.
type lateControl struct {
	eng *engine.Engine
	mu  sync.RWMutex
}

func (c *lateControl) set(eng *engine.Engine) {
	c.mu.Lock()
	c.eng = eng
	c.mu.Unlock()
}

func (c *lateControl) get() *engine.Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eng
}

func (c *lateControl) SetMuted(muted bool) {
	if eng := c.get(); eng != nil {
		eng.SetMuted(muted)
	}
}

func (c *lateControl) SetMode(mode model.Mode) {
	if eng := c.get(); eng != nil {
		eng.SetMode(mode)
	}
}

func (c *lateControl) Heartbeat(device string, ts time.Time) {
	if eng := c.get(); eng != nil {
		eng.Heartbeat(device, ts)
	}
}
