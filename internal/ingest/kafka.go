package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"stepsense/internal/config"
	"stepsense/internal/model"
)

// StartKafka consumes readings bridged onto a Kafka topic. The message key,
// when present, names the sensor.
func StartKafka(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, 0) {
					return
				}
				continue
			}
			fields, err := parser.ParsePayload(string(m.Key), m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka parse error", "offset", m.Offset, "err", err)
				}
				continue
			}
			emit(ctx, fields, "kafka", out, logger)
		}
	}()
}
