package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/matsen/twotower/internal/config"
	"github.com/matsen/twotower/internal/corpus"
	"github.com/matsen/twotower/internal/index"
	"github.com/matsen/twotower/internal/inference"
	"github.com/matsen/twotower/internal/projector"
)

var (
	indexNoProgress       bool
	indexFromFiles        bool
	indexFromTrainingData bool
)

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexInfoCmd)

	indexBuildCmd.Flags().BoolVar(&indexNoProgress, "no-progress", false, "Suppress progress output")
	indexBuildCmd.Flags().BoolVar(&indexFromFiles, "from-files", false, "Load tower weights from the data directory instead of the database")
	indexBuildCmd.Flags().BoolVar(&indexFromTrainingData, "from-training-data", false, "Index the documents referenced by the training data instead of the documents file")
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the document index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Encode every document into the index",
	Long: `Encode the document corpus with the trained document tower and store the
vectors in a cosine-space collection, replacing any previous contents.

Documents are deduplicated by reference. Documents with no known tokens are
skipped and counted.`,
	RunE: runIndexBuild,
}

var indexInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show index statistics",
	RunE:  runIndexInfo,
}

// IndexInfo is the response for index info.
type IndexInfo struct {
	Collection string      `json:"collection"`
	Space      index.Space `json:"space"`
	Documents  int         `json:"documents"`
	Dimensions int         `json:"dimensions"`
	SizeBytes  int64       `json:"size_bytes"`
	Path       string      `json:"path"`
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := mustLoadConfig()
	docs := mustLoadDocuments(cfg)
	lookup := mustLoadWordVectors(cfg)

	db := mustOpenDatabase(cfg)
	defer db.Close()
	doc := mustLoadTower(ctx, cfg, db, projector.RoleDoc, lookup.Dimensions(), indexFromFiles)

	builder := inference.NewBuilder(doc, lookup, index.Open(cfg.IndexPath()),
		inference.WithCollection(cfg.Index.Collection),
		inference.WithBatchSize(cfg.Index.BatchSize),
		inference.WithWorkers(cfg.Index.Workers),
	)
	if !indexNoProgress {
		builder.SetProgressReporter(inference.ProgressFunc(func(current, total int) {
			fmt.Fprintf(stderr, "Encoding batch %d of %d\n", current, total)
		}))
	}

	_, stats, err := builder.Build(ctx, docs)
	if err != nil {
		exitWithError(ExitError, "building index: %v", err)
	}

	if humanOutput {
		outputHuman("Index build complete:\n")
		outputHuman("  Documents indexed: %d\n", stats.DocsIndexed)
		if stats.Duplicates > 0 {
			outputHuman("  Duplicates removed: %d\n", stats.Duplicates)
		}
		if stats.DocsSkipped > 0 {
			outputHuman("  Documents skipped: %d (%s)\n", stats.DocsSkipped, stats.SkippedReason)
		}
		outputHuman("  Time elapsed: %s\n", formatDuration(stats.Duration))
		outputHuman("  Index size: %s\n", formatBytes(stats.IndexSizeBytes))
		return nil
	}
	return outputJSON(stats)
}

// mustLoadDocuments reads the corpus to index, exits on error.
func mustLoadDocuments(cfg *config.Config) []corpus.Document {
	if indexFromTrainingData {
		rows, err := corpus.ReadTrainingRowsFile(cfg.Resolve(cfg.TrainingData))
		if err != nil {
			exitWithError(ExitDataError, "reading training data: %v", err)
		}
		return corpus.DocumentsFromRows(rows)
	}
	docs, err := corpus.ReadDocumentsFile(cfg.Resolve(cfg.Documents))
	if err != nil {
		exitWithError(ExitDataError, "reading documents: %v", err)
	}
	return docs
}

func runIndexInfo(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	coll := mustLoadIndex(cfg)

	size, err := coll.Size()
	if err != nil {
		exitWithError(ExitError, "reading index size: %v", err)
	}
	info := IndexInfo{
		Collection: coll.Name(),
		Space:      coll.Space(),
		Documents:  coll.Len(),
		Dimensions: coll.Dimensions(),
		SizeBytes:  size,
		Path:       cfg.IndexPath(),
	}

	if humanOutput {
		outputHuman("Collection %s (%s):\n", info.Collection, info.Space)
		outputHuman("  Documents: %d\n", info.Documents)
		outputHuman("  Dimensions: %d\n", info.Dimensions)
		outputHuman("  Size: %s\n", formatBytes(info.SizeBytes))
		return nil
	}
	return outputJSON(info)
}
