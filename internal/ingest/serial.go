package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"stepsense/internal/config"
	"stepsense/internal/model"
)

// StartSerial reads "sensor,distance" lines from a microcontroller bridged
// over USB serial, reopening the port when it drops.
func StartSerial(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) {
	current := cfg.Get().Ingest.Serial
	if !current.Enabled {
		if logger != nil {
			logger.Info("serial ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("serial ingest enabled", "port", current.Port, "baud", current.BaudRate)
	}
	mode := &serial.Mode{
		BaudRate: current.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	go func() {
		backoff := 500 * time.Millisecond
		for ctx.Err() == nil {
			port, err := serial.Open(current.Port, mode)
			if err != nil {
				if logger != nil {
					logger.Warn("serial open failed", "port", current.Port, "err", err)
				}
				if !BackoffSleep(ctx, backoff) {
					return
				}
				backoff = min(backoff*2, 10*time.Second)
				continue
			}
			backoff = 500 * time.Millisecond
			stop := context.AfterFunc(ctx, func() { _ = port.Close() })
			err = ReadLines(ctx, port, parser, "serial", out, logger)
			stop()
			_ = port.Close()
			if ctx.Err() != nil {
				return
			}
			if logger != nil {
				logger.Warn("serial port closed, reopening", "port", current.Port, "err", err)
			}
			if !BackoffSleep(ctx, backoff) {
				return
			}
		}
	}()
}

// ReadLines parses one reading per line until r is exhausted.
func ReadLines(ctx context.Context, r io.Reader, parser *Parser, source string, out chan<- model.Reading, logger *slog.Logger) error {
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fields, err := parser.ParseLine(scan.Text())
		if err != nil {
			if logger != nil {
				logger.Warn("parse error", "source", source, "line", scan.Text(), "err", err)
			}
			continue
		}
		if fields == nil {
			continue
		}
		emit(ctx, fields, source, out, logger)
	}
	return scan.Err()
}
