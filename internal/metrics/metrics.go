// Package metrics records training runs and their per-epoch losses.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Run describes the start of a training run.
type Run struct {
	ID        string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Config    map[string]any `json:"config"`
}

// Epoch is the metrics of one completed epoch.
type Epoch struct {
	RunID        string    `json:"run_id"`
	Epoch        int       `json:"epoch"`
	TrainLoss    float64   `json:"train_loss"`
	ValLoss      float64   `json:"val_loss"`
	BaselineDiff *float64  `json:"baseline_diff,omitempty"`
	Time         time.Time `json:"time"`
}

// Run statuses passed to Finish.
const (
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Sink receives run and epoch metrics. Callers treat errors as warnings;
// a failing sink never stops training.
type Sink interface {
	StartRun(ctx context.Context, run Run) error
	Log(ctx context.Context, epoch Epoch) error
	Finish(ctx context.Context, runID, status string) error
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Discard is a Sink that drops everything.
type Discard struct{}

// StartRun implements Sink.
func (Discard) StartRun(context.Context, Run) error { return nil }

// Log implements Sink.
func (Discard) Log(context.Context, Epoch) error { return nil }

// Finish implements Sink.
func (Discard) Finish(context.Context, string, string) error { return nil }

// Multi forwards to every sink and joins their errors.
type Multi []Sink

// StartRun implements Sink.
func (m Multi) StartRun(ctx context.Context, run Run) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.StartRun(ctx, run))
	}
	return errors.Join(errs...)
}

// Log implements Sink.
func (m Multi) Log(ctx context.Context, epoch Epoch) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Log(ctx, epoch))
	}
	return errors.Join(errs...)
}

// Finish implements Sink.
func (m Multi) Finish(ctx context.Context, runID, status string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Finish(ctx, runID, status))
	}
	return errors.Join(errs...)
}
