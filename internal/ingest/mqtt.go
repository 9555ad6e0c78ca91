package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"stepsense/internal/config"
	"stepsense/internal/model"
	"stepsense/internal/normalize"
)

const mqttConnectTimeout = 10 * time.Second

// ConnectMQTT dials the broker with auto-reconnect. onConnect runs after
// every (re)connect so subscriptions survive broker restarts.
func ConnectMQTT(cfg config.MQTTConfig, logger *slog.Logger, onConnect func(mqtt.Client)) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetCleanSession(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if logger != nil {
			logger.Info("mqtt connected", "broker", cfg.Broker)
		}
		if onConnect != nil {
			onConnect(c)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
		}
	})
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		if logger != nil {
			logger.Warn("mqtt connect still pending, retrying in background", "broker", cfg.Broker)
		}
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// MQTTSource routes broker messages: sensor topics become readings, the
// alive topic feeds heartbeats and the mute and mode topics drive Control.
type MQTTSource struct {
	cfg     config.MQTTConfig
	parser  *Parser
	out     chan<- model.Reading
	control Control
	logger  *slog.Logger
	now     func() time.Time
}

func NewMQTTSource(cfg config.MQTTConfig, parser *Parser, out chan<- model.Reading, control Control, logger *slog.Logger) *MQTTSource {
	return &MQTTSource{cfg: cfg, parser: parser, out: out, control: control, logger: logger, now: time.Now}
}

// Topics lists every subscription filter.
func (s *MQTTSource) Topics() []string {
	topics := append([]string(nil), s.cfg.SensorTopics...)
	for _, t := range []string{s.cfg.AliveTopic, s.cfg.MuteTopic, s.cfg.ModeTopic} {
		if t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

func (s *MQTTSource) Subscribe(ctx context.Context, client mqtt.Client) error {
	filters := make(map[string]byte)
	for _, t := range s.Topics() {
		filters[t] = s.cfg.QoS
	}
	token := client.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		s.Handle(ctx, msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		if s.logger != nil {
			s.logger.Error("mqtt subscribe failed", "topics", s.Topics(), "err", err)
		}
		return err
	}
	if s.logger != nil {
		s.logger.Info("mqtt subscribed", "topics", s.Topics())
	}
	return nil
}

func (s *MQTTSource) Handle(ctx context.Context, topic string, payload []byte) {
	switch {
	case topic == s.cfg.MuteTopic:
		muted := normalize.ParseBool(string(payload))
		if s.control != nil {
			s.control.SetMuted(muted)
		}
	case topic == s.cfg.ModeTopic:
		mode, err := model.ParseMode(string(payload))
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("ignoring mode change", "payload", string(payload), "err", err)
			}
			return
		}
		if s.control != nil {
			s.control.SetMode(mode)
		}
	case s.cfg.AliveTopic != "" && TopicMatches(s.cfg.AliveTopic, topic):
		if s.control != nil {
			s.control.Heartbeat(topic[strings.LastIndex(topic, "/")+1:], s.now().UTC())
		}
	default:
		fields, err := s.parser.ParsePayload(topic, payload)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("mqtt parse error", "topic", topic, "err", err)
			}
			return
		}
		emit(ctx, fields, "mqtt", s.out, s.logger)
	}
}

// TopicMatches applies MQTT filter rules: "+" matches one level, a trailing
// "#" matches the rest.
func TopicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
