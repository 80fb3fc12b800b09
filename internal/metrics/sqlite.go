package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matsen/twotower/internal/storage"
)

// SQLiteSink records runs and epochs in the project database.
type SQLiteSink struct {
	db  *storage.DB
	now func() time.Time
}

// NewSQLiteSink creates a sink writing to db.
func NewSQLiteSink(db *storage.DB) *SQLiteSink {
	return &SQLiteSink{db: db, now: time.Now}
}

// StartRun implements Sink.
func (s *SQLiteSink) StartRun(ctx context.Context, run Run) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encoding run config: %w", err)
	}
	return s.db.InsertRun(ctx, storage.RunRecord{
		ID:         run.ID,
		StartedAt:  run.StartedAt,
		Status:     storage.RunRunning,
		ConfigJSON: string(cfg),
	})
}

// Log implements Sink.
func (s *SQLiteSink) Log(ctx context.Context, e Epoch) error {
	at := e.Time
	if at.IsZero() {
		at = s.now()
	}
	return s.db.InsertEpoch(ctx, storage.EpochRecord{
		RunID:        e.RunID,
		Epoch:        e.Epoch,
		TrainLoss:    e.TrainLoss,
		ValLoss:      e.ValLoss,
		BaselineDiff: e.BaselineDiff,
		LoggedAt:     at,
	})
}

// Finish implements Sink.
func (s *SQLiteSink) Finish(ctx context.Context, runID, status string) error {
	return s.db.FinishRun(ctx, runID, status, s.now())
}
