package train

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/matsen/twotower/internal/artifact"
	"github.com/matsen/twotower/internal/metrics"
	"github.com/matsen/twotower/internal/projector"
)

// EpochResult summarises one epoch.
type EpochResult struct {
	Epoch        int      `json:"epoch"`
	TrainLoss    float64  `json:"train_loss"`
	ValLoss      float64  `json:"val_loss"`
	BaselineDiff *float64 `json:"baseline_diff,omitempty"`
	Improved     bool     `json:"improved"`
}

// State is the checkpointing state carried between epochs.
type State struct {
	Epoch                    int
	BestValLoss              float64
	BestEpoch                int
	EpochsWithoutImprovement int
	BestQuery                *projector.Weights
	BestDoc                  *projector.Weights
}

// Result describes a finished run.
type Result struct {
	RunID            string          `json:"run_id"`
	EpochsRun        int             `json:"epochs_run"`
	BestEpoch        int             `json:"best_epoch"`
	BestValLoss      float64         `json:"best_val_loss"`
	StoppedEarly     bool            `json:"stopped_early"`
	QueryWeightsPath string          `json:"query_weights_path"`
	DocWeightsPath   string          `json:"doc_weights_path"`
	Artifacts        []artifact.Info `json:"artifacts,omitempty"`
	History          []EpochResult   `json:"history"`
	Duration         time.Duration   `json:"duration"`
}

// epochRunner does the numeric work of one epoch. The loop owns everything
// else: improvement tracking, checkpoints, early stopping and reporting.
type epochRunner interface {
	trainEpoch(ctx context.Context, epoch int) (float64, error)
	validate(ctx context.Context) (float64, error)
	// diagnose returns nil when the diagnostic is disabled.
	diagnose(ctx context.Context) (*float64, error)
	snapshot() (query, doc projector.Weights)
}

type loop struct {
	cfg      Config
	runner   epochRunner
	reporter Reporter
	sink     metrics.Sink
	store    artifact.Store
	runID    string
}

func (l *loop) run(ctx context.Context) (*Result, error) {
	start := time.Now()
	state := State{BestValLoss: math.Inf(1)}
	res := &Result{RunID: l.runID}

	for epoch := 1; epoch <= l.cfg.Epochs; epoch++ {
		state.Epoch = epoch

		trainLoss, err := l.runner.trainEpoch(ctx, epoch)
		if err != nil {
			return res, fmt.Errorf("epoch %d: training: %w", epoch, err)
		}
		valLoss, err := l.runner.validate(ctx)
		if err != nil {
			return res, fmt.Errorf("epoch %d: validation: %w", epoch, err)
		}
		if math.IsNaN(valLoss) || math.IsInf(valLoss, 0) {
			return res, fmt.Errorf("%w: epoch %d gave %v", ErrNonFiniteLoss, epoch, valLoss)
		}

		er := EpochResult{Epoch: epoch, TrainLoss: trainLoss, ValLoss: valLoss}
		diff, err := l.runner.diagnose(ctx)
		if err != nil {
			l.reporter.OnWarning(fmt.Errorf("epoch %d: baseline comparison skipped: %w", epoch, err))
		} else {
			er.BaselineDiff = diff
		}

		if valLoss < state.BestValLoss {
			query, doc := l.runner.snapshot()
			state.BestValLoss = valLoss
			state.BestEpoch = epoch
			state.BestQuery = &query
			state.BestDoc = &doc
			state.EpochsWithoutImprovement = 0
			er.Improved = true

			if err := saveCheckpoint(l.cfg.OutputDir, epoch, query, doc); err != nil {
				return res, fmt.Errorf("epoch %d: %w", epoch, err)
			}
		} else {
			state.EpochsWithoutImprovement++
		}

		res.History = append(res.History, er)
		res.EpochsRun = epoch
		l.reporter.OnEpoch(er)
		l.logEpoch(ctx, er)

		if state.EpochsWithoutImprovement >= l.cfg.EarlyStopAfter {
			l.reporter.OnEarlyStop(state.EpochsWithoutImprovement)
			res.StoppedEarly = true
			break
		}
	}

	res.BestEpoch = state.BestEpoch
	res.BestValLoss = state.BestValLoss
	if err := l.finalize(ctx, &state, res); err != nil {
		return res, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (l *loop) logEpoch(ctx context.Context, er EpochResult) {
	if l.sink == nil {
		return
	}
	err := l.sink.Log(ctx, metrics.Epoch{
		RunID:        l.runID,
		Epoch:        er.Epoch,
		TrainLoss:    er.TrainLoss,
		ValLoss:      er.ValLoss,
		BaselineDiff: er.BaselineDiff,
		Time:         time.Now(),
	})
	if err != nil {
		l.reporter.OnWarning(fmt.Errorf("logging epoch %d: %w", er.Epoch, err))
	}
}

// finalize writes the best weights of both towers and stores them as
// artifacts when a store is configured.
func (l *loop) finalize(ctx context.Context, state *State, res *Result) error {
	if state.BestQuery == nil || state.BestDoc == nil {
		return fmt.Errorf("no epoch completed")
	}

	towers := []struct {
		role    projector.Role
		weights projector.Weights
		path    *string
	}{
		{projector.RoleQuery, *state.BestQuery, &res.QueryWeightsPath},
		{projector.RoleDoc, *state.BestDoc, &res.DocWeightsPath},
	}

	for _, tw := range towers {
		path := FinalWeightsPath(l.cfg.OutputDir, tw.role)
		if err := projector.SaveWeights(path, tw.weights); err != nil {
			return fmt.Errorf("saving final %s weights: %w", tw.role, err)
		}
		*tw.path = path

		if l.store == nil {
			continue
		}
		info, err := l.store.Store(ctx, tw.role.ArtifactName(), artifact.RoleModel, path)
		if err != nil {
			return fmt.Errorf("storing %s: %w", tw.role.ArtifactName(), err)
		}
		res.Artifacts = append(res.Artifacts, info)
	}
	return nil
}
