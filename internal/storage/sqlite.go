package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:stepsense.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{
		db: db,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS readings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts TEXT NOT NULL,
				sensor_id INTEGER NOT NULL,
				distance REAL NOT NULL,
				range_id INTEGER,
				source TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings(sensor_id, ts)`,
			`CREATE TABLE IF NOT EXISTS rounds (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts TEXT NOT NULL,
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
			VALUES (?, ?, ?, ?, ?)`,
		insertRound: `INSERT INTO rounds (ts, mode, result, steps, length, sensor_id, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
	}}, nil
}
