package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matsen/twotower/internal/artifact"
	"github.com/matsen/twotower/internal/config"
	"github.com/matsen/twotower/internal/corpus"
	"github.com/matsen/twotower/internal/embedding"
	"github.com/matsen/twotower/internal/metrics"
	"github.com/matsen/twotower/internal/projector"
	"github.com/matsen/twotower/internal/storage"
	"github.com/matsen/twotower/internal/train"
)

var (
	trainEpochs         int
	trainMargin         float64
	trainEarlyStopAfter int
	trainNoDiagnostic   bool
	trainNoProgress     bool
)

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "Maximum epochs (default from config)")
	trainCmd.Flags().Float64Var(&trainMargin, "margin", -1, "Triplet loss margin (default from config)")
	trainCmd.Flags().IntVar(&trainEarlyStopAfter, "early-stop-after", 0, "Stop after this many epochs without improvement (default from config)")
	trainCmd.Flags().BoolVar(&trainNoDiagnostic, "no-diagnostic", false, "Skip the per-epoch baseline comparison")
	trainCmd.Flags().BoolVar(&trainNoProgress, "no-progress", false, "Suppress per-batch progress output")
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the query and document towers",
	Long: `Train both towers on the training data CSV (query, doc_ref, doc_text,
is_selected) with a triplet margin loss.

Improving epochs are checkpointed under <data_dir>/epoch-weights. The best
weights are written to <data_dir>/{query,doc}-projector-weights.generated.gob
and stored as versioned artifacts in the database.`,
	RunE: runTrain,
}

// TrainResult is the response for the train command.
type TrainResult struct {
	Status       string `json:"status"`
	DroppedTrain int    `json:"dropped_train_triplets"`
	DroppedVal   int    `json:"dropped_val_triplets"`
	*train.Result
}

// cliReporter prints training progress to w.
type cliReporter struct {
	w        io.Writer
	progress bool
}

func (r *cliReporter) OnBatch(epoch, batch, batches int, loss float64) {
	if !r.progress {
		return
	}
	bar := buildProgressBar(batch, batches, progressBarWidth)
	fmt.Fprintf(r.w, "\rEpoch %d [%s] %d/%d", epoch, bar, batch, batches)
}

func (r *cliReporter) OnEpoch(e train.EpochResult) {
	if r.progress {
		fmt.Fprintf(r.w, "\r%*s\r", progressLineClearWidth, "")
	}
	fmt.Fprintln(r.w, formatEpochLine(e))
}

func (r *cliReporter) OnEarlyStop(epochs int) {
	fmt.Fprintf(r.w, "Validation loss failed to improve for %d epochs. Early stopping now.\n", epochs)
}

func (r *cliReporter) OnWarning(err error) {
	fmt.Fprintf(r.w, "Warning: %v\n", err)
}

// formatEpochLine renders the per-epoch summary line.
func formatEpochLine(e train.EpochResult) string {
	line := fmt.Sprintf("Epoch %d, train loss: %s, val loss: %s",
		e.Epoch, formatRounded(e.TrainLoss, 6), formatRounded(e.ValLoss, 6))
	if e.BaselineDiff != nil {
		line += ", difference from baseline model: " + formatRounded(*e.BaselineDiff, 4)
	}
	return line
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := mustLoadConfig()
	tcfg := cfg.TrainConfig()
	if trainEpochs > 0 {
		tcfg.Epochs = trainEpochs
	}
	if trainMargin >= 0 {
		tcfg.Margin = trainMargin
	}
	if trainEarlyStopAfter > 0 {
		tcfg.EarlyStopAfter = trainEarlyStopAfter
	}
	if trainNoDiagnostic {
		tcfg.Diagnostic = false
	}
	if err := tcfg.Validate(); err != nil {
		exitWithError(ExitConfigError, "invalid training settings: %v", err)
	}

	lookup := mustLoadWordVectors(cfg)

	rows, err := corpus.ReadTrainingRowsFile(cfg.Resolve(cfg.TrainingData))
	if err != nil {
		exitWithError(ExitDataError, "reading training data: %v", err)
	}
	fmt.Fprintf(stderr, "INFO: Running for %d training rows\n", len(rows))

	trainSet, valSet, err := train.Prepare(rows, lookup, tcfg)
	if err != nil {
		exitWithError(ExitDataError, "preparing datasets: %v", err)
	}

	query, err := projector.New(cfg.Tower(projector.RoleQuery, lookup.Dimensions()), tcfg.Seed)
	if err != nil {
		exitWithError(ExitConfigError, "creating query tower: %v", err)
	}
	doc, err := projector.New(cfg.Tower(projector.RoleDoc, lookup.Dimensions()), tcfg.Seed+1)
	if err != nil {
		exitWithError(ExitConfigError, "creating doc tower: %v", err)
	}

	db := mustOpenDatabase(cfg)
	defer db.Close()

	reporter := &cliReporter{w: stderr, progress: !trainNoProgress}
	sink, closeSinks := openSinks(ctx, cfg, db, reporter)
	defer closeSinks()

	opts := []train.Option{
		train.WithReporter(reporter),
		train.WithMetrics(sink),
		train.WithArtifactStore(artifact.NewSQLiteStore(db)),
	}
	if tcfg.Diagnostic {
		baseline, err := newBaseline(cfg, lookup)
		if err != nil {
			if errors.Is(err, embedding.ErrMissingAPIKey) {
				exitWithError(ExitConfigError, "%v", err)
			}
			exitWithError(ExitError, "creating baseline provider: %v", err)
		}
		if ollama, ok := baseline.(*embedding.OllamaProvider); ok {
			mustValidateOllama(ctx, ollama)
		}
		opts = append(opts, train.WithBaseline(baseline))
	}

	trainer, err := train.New(tcfg, query, doc, lookup, opts...)
	if err != nil {
		exitWithError(ExitConfigError, "creating trainer: %v", err)
	}

	res, err := trainer.Run(ctx, trainSet, valSet)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			exitWithError(ExitError, "training interrupted; checkpoints under %s remain valid", filepath.Dir(train.EpochWeightsPath(tcfg.OutputDir, projector.RoleQuery, 1)))
		}
		exitWithError(ExitError, "training: %v", err)
	}

	if humanOutput {
		outputHuman("\nTraining complete:\n")
		outputHuman("  Run: %s\n", res.RunID)
		outputHuman("  Epochs run: %d (best: %d, val loss %s)\n", res.EpochsRun, res.BestEpoch, formatRounded(res.BestValLoss, 6))
		if res.StoppedEarly {
			outputHuman("  Stopped early\n")
		}
		outputHuman("  Query weights: %s\n", res.QueryWeightsPath)
		outputHuman("  Doc weights: %s\n", res.DocWeightsPath)
		outputHuman("  Time elapsed: %s\n", formatDuration(res.Duration))
		return nil
	}
	return outputJSON(TrainResult{
		Status:       "complete",
		DroppedTrain: trainSet.Dropped(),
		DroppedVal:   valSet.Dropped(),
		Result:       res,
	})
}

// openSinks builds the metrics fan-out for a run. Redis is optional; a
// connection failure is reported and training continues without it.
func openSinks(ctx context.Context, cfg *config.Config, db *storage.DB, reporter train.Reporter) (metrics.Sink, func()) {
	sinks := metrics.Multi{metrics.NewSQLiteSink(db)}
	if cfg.Metrics.JSONL {
		sinks = append(sinks, metrics.NewJSONLSink(cfg.DataDir))
	}

	closeFn := func() {}
	if cfg.Metrics.RedisAddr != "" {
		rs, err := metrics.ConnectRedis(ctx, cfg.Metrics.RedisAddr, cfg.Metrics.RedisStream)
		if err != nil {
			reporter.OnWarning(fmt.Errorf("redis metrics disabled: %w", err))
		} else {
			sinks = append(sinks, rs)
			closeFn = func() { rs.Close() }
		}
	}
	return sinks, closeFn
}
