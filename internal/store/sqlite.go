// Package store keeps an audit log of served predictions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/Brownie44l1/cropai-api/internal/model"
)

// Kinds of recorded predictions.
const (
	KindImage = "image"
	KindCrop  = "crop"
)

// Record is one audited prediction.
type Record struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Model     string          `json:"model"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// SQLiteStore implements the audit log using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS predictions (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	model      TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
CREATE INDEX IF NOT EXISTS idx_predictions_kind ON predictions(kind);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordImage stores a disease prediction.
func (s *SQLiteStore) RecordImage(ctx context.Context, res *model.PredictionResult) (string, error) {
	if res == nil {
		return "", eris.New("sqlite: nil prediction")
	}
	return s.insert(ctx, KindImage, res.ModelUsed+"/"+string(res.InferenceType), res)
}

// RecordCrop stores a crop recommendation.
func (s *SQLiteStore) RecordCrop(ctx context.Context, pred *model.CropPrediction) (string, error) {
	if pred == nil {
		return "", eris.New("sqlite: nil crop prediction")
	}
	return s.insert(ctx, KindCrop, "xgboost", pred)
}

func (s *SQLiteStore) insert(ctx context.Context, kind, modelName string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: marshal %s prediction", kind)
	}
	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, kind, model, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, kind, modelName, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert %s prediction", kind)
	}
	return id, nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, model, payload, created_at FROM predictions ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query predictions")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			payload string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Model, &payload, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prediction")
		}
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate predictions")
}

// Prune deletes records created before cutoff and reports how many went.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM predictions WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune predictions")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: prune rows affected")
}
