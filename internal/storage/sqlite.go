// Package storage persists training runs, epoch metrics and model artifacts
// in SQLite, and provides JSONL helpers for append-only logs.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

// OpenDB opens or creates a SQLite database at the given path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		-- Versioned binary artifacts such as projector weights
		CREATE TABLE IF NOT EXISTS artifacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			version INTEGER NOT NULL,
			digest TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			data BLOB NOT NULL,
			UNIQUE (name, role, version)
		);

		-- Training runs
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			status TEXT NOT NULL,
			config_json TEXT NOT NULL
		);

		-- Per-epoch metrics, one row per epoch per run
		CREATE TABLE IF NOT EXISTS epoch_metrics (
			run_id TEXT NOT NULL REFERENCES runs(id),
			epoch INTEGER NOT NULL,
			train_loss REAL NOT NULL,
			val_loss REAL NOT NULL,
			baseline_diff REAL,
			logged_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);
	`

	_, err := db.Exec(schema)
	return err
}

// ArtifactRecord describes one stored artifact version.
type ArtifactRecord struct {
	Name      string
	Role      string
	Version   int
	Digest    string
	Size      int64
	CreatedAt time.Time
}

// InsertArtifact stores data as the next version of (name, role).
func (d *DB) InsertArtifact(ctx context.Context, name, role, digest string, data []byte) (ArtifactRecord, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM artifacts WHERE name = ? AND role = ?`,
		name, role).Scan(&version)
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("finding next version: %w", err)
	}

	rec := ArtifactRecord{
		Name:      name,
		Role:      role,
		Version:   version,
		Digest:    digest,
		Size:      int64(len(data)),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (name, role, version, digest, size, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.Role, rec.Version, rec.Digest, rec.Size, rec.CreatedAt.UnixMilli(), data)
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("inserting artifact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ArtifactRecord{}, fmt.Errorf("committing artifact: %w", err)
	}
	return rec, nil
}

// LatestArtifact returns the newest version of (name, role) and its data.
func (d *DB) LatestArtifact(ctx context.Context, name, role string) (ArtifactRecord, []byte, error) {
	rec := ArtifactRecord{Name: name, Role: role}
	var created int64
	var data []byte
	err := d.db.QueryRowContext(ctx, `
		SELECT version, digest, size, created_at, data
		FROM artifacts
		WHERE name = ? AND role = ?
		ORDER BY version DESC
		LIMIT 1`, name, role).Scan(&rec.Version, &rec.Digest, &rec.Size, &created, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return ArtifactRecord{}, nil, fmt.Errorf("artifact %s (%s): %w", name, role, ErrNotFound)
	}
	if err != nil {
		return ArtifactRecord{}, nil, fmt.Errorf("querying artifact: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	return rec, data, nil
}

// ListArtifacts returns every stored artifact version without data, newest
// first within each name.
func (d *DB) ListArtifacts(ctx context.Context) ([]ArtifactRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT name, role, version, digest, size, created_at
		FROM artifacts
		ORDER BY name, role, version DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	var records []ArtifactRecord
	for rows.Next() {
		var rec ArtifactRecord
		var created int64
		if err := rows.Scan(&rec.Name, &rec.Role, &rec.Version, &rec.Digest, &rec.Size, &created); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Run statuses.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// RunRecord describes one training run.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	ConfigJSON string
}

// InsertRun records the start of a run.
func (d *DB) InsertRun(ctx context.Context, run RunRecord) error {
	if run.Status == "" {
		run.Status = RunRunning
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, config_json)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.Status, run.ConfigJSON)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun sets the final status of a run.
func (d *DB) FinishRun(ctx context.Context, id, status string, at time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListRuns returns all runs, most recent first.
func (d *DB) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, config_json
		FROM runs
		ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&run.ID, &started, &finished, &run.Status, &run.ConfigJSON); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			t := time.UnixMilli(finished.Int64).UTC()
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// EpochRecord is the metrics row of one epoch.
type EpochRecord struct {
	RunID        string
	Epoch        int
	TrainLoss    float64
	ValLoss      float64
	BaselineDiff *float64
	LoggedAt     time.Time
}

// InsertEpoch records epoch metrics, replacing any earlier row for the same
// run and epoch.
func (d *DB) InsertEpoch(ctx context.Context, e EpochRecord) error {
	var diff sql.NullFloat64
	if e.BaselineDiff != nil {
		diff = sql.NullFloat64{Float64: *e.BaselineDiff, Valid: true}
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO epoch_metrics (run_id, epoch, train_loss, val_loss, baseline_diff, logged_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Epoch, e.TrainLoss, e.ValLoss, diff, e.LoggedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting epoch %d of run %s: %w", e.Epoch, e.RunID, err)
	}
	return nil
}

// RunEpochs returns the epoch metrics of a run in epoch order.
func (d *DB) RunEpochs(ctx context.Context, runID string) ([]EpochRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT epoch, train_loss, val_loss, baseline_diff, logged_at
		FROM epoch_metrics
		WHERE run_id = ?
		ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying epochs: %w", err)
	}
	defer rows.Close()

	var epochs []EpochRecord
	for rows.Next() {
		e := EpochRecord{RunID: runID}
		var diff sql.NullFloat64
		var logged int64
		if err := rows.Scan(&e.Epoch, &e.TrainLoss, &e.ValLoss, &diff, &logged); err != nil {
			return nil, fmt.Errorf("scanning epoch: %w", err)
		}
		if diff.Valid {
			v := diff.Float64
			e.BaselineDiff = &v
		}
		e.LoggedAt = time.UnixMilli(logged).UTC()
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}
