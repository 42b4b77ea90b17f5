// Package history keeps a bounded log of sensor readings in SQLite.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	_ "modernc.org/sqlite"
)

// DefaultMaxRows is how many readings are kept per sensor.
const DefaultMaxRows = 2000

type DB struct {
	*sql.DB
	maxRows int
}

// Row is one stored reading. Reading is the JSON encoded reading.
type Row struct {
	Sensor  string
	State   string
	Reading json.RawMessage
	Time    time.Time
}

func Open(path string, maxRows int) (*DB, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor TEXT NOT NULL,
			state TEXT NOT NULL,
			reading TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS readings_sensor ON readings (sensor, id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating readings table: %w", err)
	}
	return &DB{DB: db, maxRows: maxRows}, nil
}

// Record stores the results and trims each sensor's log to the row limit.
func (db *DB) Record(results []sensor.Result) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, res := range results {
		reading, err := json.Marshal(res.Reading)
		if err != nil {
			return fmt.Errorf("encoding reading for %s: %w", res.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO readings (sensor, state, reading, timestamp) VALUES (?, ?, ?, ?)",
			res.Name, res.State.String(), string(reading), res.Time.UnixMilli(),
		); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			DELETE FROM readings WHERE sensor = ? AND id NOT IN (
				SELECT id FROM readings WHERE sensor = ? ORDER BY id DESC LIMIT ?
			)`, res.Name, res.Name, db.maxRows); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Latest returns up to n readings for a sensor, newest first.
func (db *DB) Latest(name string, n int) ([]Row, error) {
	rows, err := db.Query(
		"SELECT sensor, state, reading, timestamp FROM readings WHERE sensor = ? ORDER BY id DESC LIMIT ?",
		name, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var reading string
		var ts int64
		if err := rows.Scan(&r.Sensor, &r.State, &reading, &ts); err != nil {
			return nil, err
		}
		r.Reading = json.RawMessage(reading)
		r.Time = time.UnixMilli(ts)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns how many readings are stored for a sensor.
func (db *DB) Count(name string) (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM readings WHERE sensor = ?", name).Scan(&n)
	return n, err
}
