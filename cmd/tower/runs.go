package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsen/twotower/internal/artifact"
	"github.com/matsen/twotower/internal/storage"
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(artifactsCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded training runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List training runs, most recent first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show the per-epoch metrics of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "List stored model artifacts",
	RunE:  runArtifacts,
}

// RunSummary is one entry of runs list.
type RunSummary struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// RunDetail is the response for runs show.
type RunDetail struct {
	RunID  string       `json:"run_id"`
	Epochs []EpochEntry `json:"epochs"`
}

// EpochEntry is one epoch of runs show.
type EpochEntry struct {
	Epoch        int       `json:"epoch"`
	TrainLoss    float64   `json:"train_loss"`
	ValLoss      float64   `json:"val_loss"`
	BaselineDiff *float64  `json:"baseline_diff,omitempty"`
	LoggedAt     time.Time `json:"logged_at"`
}

func runRunsList(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer db.Close()

	runs, err := db.ListRuns(context.Background())
	if err != nil {
		exitWithError(ExitError, "listing runs: %v", err)
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, summarizeRun(r))
	}

	if humanOutput {
		if len(summaries) == 0 {
			outputHuman("No training runs recorded.\n")
			return nil
		}
		for _, s := range summaries {
			outputHuman("%s  %-8s  %s\n", s.ID, s.Status, s.StartedAt.Local().Format(time.DateTime))
		}
		return nil
	}
	return outputJSON(summaries)
}

// summarizeRun decodes the stored configuration. A malformed config is
// left out rather than failing the listing.
func summarizeRun(r storage.RunRecord) RunSummary {
	s := RunSummary{
		ID:         r.ID,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err == nil {
		s.Config = cfg
	}
	return s
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	runID := args[0]
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer db.Close()

	records, err := db.RunEpochs(context.Background(), runID)
	if err != nil {
		exitWithError(ExitError, "reading run %s: %v", runID, err)
	}
	if len(records) == 0 {
		exitWithError(ExitDataError, "no epochs recorded for run %s", runID)
	}

	detail := RunDetail{RunID: runID, Epochs: make([]EpochEntry, len(records))}
	for i, r := range records {
		detail.Epochs[i] = EpochEntry{
			Epoch:        r.Epoch,
			TrainLoss:    r.TrainLoss,
			ValLoss:      r.ValLoss,
			BaselineDiff: r.BaselineDiff,
			LoggedAt:     r.LoggedAt,
		}
	}

	if humanOutput {
		outputHuman("Run %s:\n", runID)
		for _, e := range detail.Epochs {
			line := fmt.Sprintf("  epoch %d  train %s  val %s",
				e.Epoch, formatRounded(e.TrainLoss, 6), formatRounded(e.ValLoss, 6))
			if e.BaselineDiff != nil {
				line += "  baseline diff " + formatRounded(*e.BaselineDiff, 4)
			}
			outputHuman("%s\n", line)
		}
		return nil
	}
	return outputJSON(detail)
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer db.Close()

	infos, err := artifact.NewSQLiteStore(db).List(context.Background())
	if err != nil {
		exitWithError(ExitError, "listing artifacts: %v", err)
	}

	if humanOutput {
		if len(infos) == 0 {
			outputHuman("No artifacts stored.\n")
			return nil
		}
		for _, a := range infos {
			outputHuman("%s  %s  v%d  %s  %s\n", a.Name, a.Role, a.Version, formatBytes(a.Size), truncateString(a.Digest, 12))
		}
		return nil
	}
	return outputJSON(infos)
}
