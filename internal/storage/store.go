package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"stepsense/internal/config"
	"stepsense/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveReading(ctx context.Context, reading model.Reading, rangeID int) error
	SaveRound(ctx context.Context, round model.Round) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// baseStore holds the driver-independent parts. Drivers differ only in
// their DDL and placeholder style.
type baseStore struct {
	db          *sql.DB
	schema      []string
	insertRead  string
	insertRound string
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) SaveReading(ctx context.Context, r model.Reading, rangeID int) error {
	if b.db == nil {
		return nil
	}
	var rng sql.NullInt64
	if rangeID > 0 {
		rng = sql.NullInt64{Int64: int64(rangeID), Valid: true}
	}
	_, err := b.db.ExecContext(ctx, b.insertRead,
		r.Timestamp.UTC(),
		r.SensorID,
		r.Distance,
		rng,
		r.Source,
	)
	return err
}

func (b *baseStore) SaveRound(ctx context.Context, round model.Round) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.insertRound,
		round.Timestamp.UTC(),
		string(round.Mode),
		string(round.Result),
		round.Steps,
		round.Length,
		round.SensorID,
		round.Detail,
	)
	return err
}
