// Package db keeps the trainer's run history and the optional prediction
// audit trail in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS training_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model_name VARCHAR(50) NOT NULL,
    model_kind VARCHAR(50) NOT NULL,
    cv_mean REAL,
    accuracy REAL,
    precision REAL,
    recall REAL,
    data_points INTEGER,
    seed INTEGER,
    encoders_digest TEXT,
    trained_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    model_name VARCHAR(50) NOT NULL,
    predicted_label INTEGER NOT NULL,
    probability REAL NOT NULL,
    created_at DATETIME NOT NULL
);
`

var ErrClosed = errors.New("database not initialized")

type Store struct {
	db *sql.DB
}

// Open creates the database file and its directory if needed and applies
// the schema. The database runs in WAL mode so the service can append audit
// rows while the trainer writes its history.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY.
	database.SetMaxOpenConns(1)
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type TrainingLog struct {
	ModelName      string    `json:"model_name"`
	ModelKind      string    `json:"model_kind"`
	CVMean         float64   `json:"cv_mean"`
	Accuracy       float64   `json:"accuracy"`
	Precision      float64   `json:"precision"`
	Recall         float64   `json:"recall"`
	DataPoints     int       `json:"data_points"`
	Seed           int64     `json:"seed"`
	EncodersDigest string    `json:"encoders_digest"`
	TrainedAt      time.Time `json:"trained_at"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, entry TrainingLog) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if entry.TrainedAt.IsZero() {
		entry.TrainedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (
            model_name, model_kind, cv_mean, accuracy, precision, recall,
            data_points, seed, encoders_digest, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ModelName, entry.ModelKind, entry.CVMean, entry.Accuracy, entry.Precision, entry.Recall,
		entry.DataPoints, entry.Seed, entry.EncodersDigest, entry.TrainedAt)
	return err
}

// LoadTrainingLog returns runs newest first.
func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_name, model_kind, cv_mean, accuracy, precision, recall,
               data_points, seed, encoders_digest, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.ModelKind, &log.CVMean, &log.Accuracy, &log.Precision, &log.Recall,
			&log.DataPoints, &log.Seed, &log.EncodersDigest, &log.TrainedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

type PredictionRecord struct {
	RequestID   string    `json:"request_id"`
	ModelName   string    `json:"model_name"`
	Label       int       `json:"predicted_label"`
	Probability float64   `json:"probability"`
	CreatedAt   time.Time `json:"created_at"`
}

// SavePrediction records the outcome of one request. Inputs are not stored.
func (s *Store) SavePrediction(ctx context.Context, rec PredictionRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if rec.RequestID == "" {
		return errors.New("request id required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (request_id, model_name, predicted_label, probability, created_at)
        VALUES (?, ?, ?, ?, ?)`,
		rec.RequestID, rec.ModelName, rec.Label, rec.Probability, rec.CreatedAt)
	return err
}

func (s *Store) CountPredictions(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n)
	return n, err
}
