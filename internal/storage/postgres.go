package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/stepsense?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{
		db: db,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS readings (
				id BIGSERIAL PRIMARY KEY,
				ts TIMESTAMPTZ NOT NULL,
				sensor_id INTEGER NOT NULL,
				distance DOUBLE PRECISION NOT NULL,
				range_id INTEGER,
				source TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings(sensor_id, ts)`,
			`CREATE TABLE IF NOT EXISTS rounds (
				id BIGSERIAL PRIMARY KEY,
				ts TIMESTAMPTZ NOT NULL,
				mode TEXT NOT NULL,
				result TEXT NOT NULL,
				steps INTEGER NOT NULL,
				length INTEGER NOT NULL,
				sensor_id INTEGER NOT NULL,
				detail TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_rounds_ts ON rounds(ts)`,
		},
		insertRead: `INSERT INTO readings (ts, sensor_id, distance, range_id, source)
			VALUES ($1, $2, $3, $4, $5)`,
		insertRound: `INSERT INTO rounds (ts, mode, result, steps, length, sensor_id, detail)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	}}, nil
}
