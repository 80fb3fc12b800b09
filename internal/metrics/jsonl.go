package metrics

import (
	"context"
	"path/filepath"

	"github.com/matsen/twotower/internal/storage"
)

// JSONLSink appends every event to runs/<run-id>.jsonl under dir.
type JSONLSink struct {
	dir string
}

// NewJSONLSink creates a sink writing below dir.
func NewJSONLSink(dir string) *JSONLSink {
	return &JSONLSink{dir: dir}
}

// Path returns the log file of a run.
func (s *JSONLSink) Path(runID string) string {
	return filepath.Join(s.dir, "runs", runID+".jsonl")
}

// Event is one line of a run log.
type Event struct {
	Kind   string `json:"kind"`
	Run    *Run   `json:"run,omitempty"`
	Epoch  *Epoch `json:"epoch,omitempty"`
	Status string `json:"status,omitempty"`
}

// StartRun implements Sink.
func (s *JSONLSink) StartRun(_ context.Context, run Run) error {
	return storage.AppendJSONL(s.Path(run.ID), Event{Kind: "start", Run: &run})
}

// Log implements Sink.
func (s *JSONLSink) Log(_ context.Context, e Epoch) error {
	return storage.AppendJSONL(s.Path(e.RunID), Event{Kind: "epoch", Epoch: &e})
}

// Finish implements Sink.
func (s *JSONLSink) Finish(_ context.Context, runID, status string) error {
	return storage.AppendJSONL(s.Path(runID), Event{Kind: "finish", Status: status})
}

// ReadRunLog returns the events recorded for a run.
func (s *JSONLSink) ReadRunLog(runID string) ([]Event, error) {
	return storage.ReadJSONL[Event](s.Path(runID))
}
