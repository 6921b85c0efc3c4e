// Package recorder persists a summary of each proxied interaction to SQLite.
// Recording is optional; a nil *Recorder is safe to use and does nothing.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Interaction is one proxied request/response summary.
type Interaction struct {
	ID             string
	RequestedModel string
	BackendModel   string
	Streaming      bool
	StopReason     string
	InputTokens    int
	OutputTokens   int
	Duration       time.Duration
	Error          string
	CreatedAt      time.Time
}

// Recorder writes interaction summaries to a SQLite database.
type Recorder struct {
	db *sql.DB
}

// Open creates the recorder, initializing the schema if needed.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	r := &Recorder{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

func (r *Recorder) initSchema() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		requested_model TEXT NOT NULL,
		backend_model TEXT NOT NULL,
		streaming INTEGER NOT NULL,
		stop_reason TEXT,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		error TEXT,
		created_at TIMESTAMP NOT NULL
	)`)
	return err
}

// Save records one interaction. Safe on a nil receiver.
func (r *Recorder) Save(ctx context.Context, in *Interaction) error {
	if r == nil {
		return nil
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}

	streaming := 0
	if in.Streaming {
		streaming = 1
	}

	var stopReason, errMsg sql.NullString
	if in.StopReason != "" {
		stopReason = sql.NullString{String: in.StopReason, Valid: true}
	}
	if in.Error != "" {
		errMsg = sql.NullString{String: in.Error, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO interactions (
		id, requested_model, backend_model, streaming, stop_reason,
		input_tokens, output_tokens, duration_ns, error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.RequestedModel, in.BackendModel, streaming, stopReason,
		in.InputTokens, in.OutputTokens, int64(in.Duration), errMsg, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save interaction: %w", err)
	}
	return nil
}

// Recent returns up to limit interactions, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]*Interaction, error) {
	if r == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `SELECT
		id, requested_model, backend_model, streaming, stop_reason,
		input_tokens, output_tokens, duration_ns, error, created_at
	FROM interactions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var out []*Interaction
	for rows.Next() {
		var in Interaction
		var streaming int
		var durationNs int64
		var stopReason, errMsg sql.NullString

		if err := rows.Scan(&in.ID, &in.RequestedModel, &in.BackendModel, &streaming, &stopReason,
			&in.InputTokens, &in.OutputTokens, &durationNs, &errMsg, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}

		in.Streaming = streaming == 1
		in.Duration = time.Duration(durationNs)
		if stopReason.Valid {
			in.StopReason = stopReason.String
		}
		if errMsg.Valid {
			in.Error = errMsg.String
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}

// Close releases the database handle. Safe on a nil receiver.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}
