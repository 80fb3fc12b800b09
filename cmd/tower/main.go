// Package main provides the tower CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/matsen/twotower/internal/artifact"
	"github.com/matsen/twotower/internal/config"
	"github.com/matsen/twotower/internal/embedding"
	"github.com/matsen/twotower/internal/index"
	"github.com/matsen/twotower/internal/inference"
	"github.com/matsen/twotower/internal/projector"
	"github.com/matsen/twotower/internal/storage"
	"github.com/matsen/twotower/internal/train"
	"github.com/matsen/twotower/internal/wordvec"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	configPath  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		fmt.Fprintf(stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tower",
	Short: "Two-tower neural retrieval",
	Long: `tower trains a query tower and a document tower on (query, document)
pairs and serves nearest-document search from a vector index.

Typical workflow:
  tower train          fit both towers and store the best weights
  tower index build    encode the document corpus into the index
  tower search QUERY   print the closest document references
  tower repl           interactive search prompt

Settings come from twotower.yml (or --config) with environment overrides.
All commands output JSON by default; use --human for readable output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env file is fine.
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $TWOTOWER_CONFIG or ./twotower.yml)")
	rootCmd.Version = Version
}

// mustLoadConfig loads configuration, exits on error.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	return cfg
}

// mustOpenDatabase opens the SQLite database, exits on error.
// The caller is responsible for calling Close() on the returned DB.
func mustOpenDatabase(cfg *config.Config) *storage.DB {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		exitWithError(ExitConfigError, "creating data directory: %v", err)
	}
	db, err := storage.OpenDB(cfg.DBPath())
	if err != nil {
		exitWithError(ExitError, "opening database: %v", err)
	}
	return db
}

// mustLoadWordVectors loads the word-vector table, exits on error.
func mustLoadWordVectors(cfg *config.Config) *wordvec.Table {
	path := cfg.Resolve(cfg.WordVectors)
	table, err := wordvec.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			exitWithError(ExitConfigError, "word vectors not found at %s\n\nSet word_vectors in %s.", path, config.ConfigFile)
		}
		exitWithError(ExitDataError, "loading word vectors: %v", err)
	}
	return table
}

// mustLoadTower loads trained weights for role, either from the artifact
// store or from the final weights file in the data directory. Exits on error.
func mustLoadTower(ctx context.Context, cfg *config.Config, db *storage.DB, role projector.Role, dim int, fromFile bool) *projector.Projector {
	towerCfg := cfg.Tower(role, dim)

	var (
		p   *projector.Projector
		err error
	)
	if fromFile {
		p, err = inference.LoadProjectorFile(train.FinalWeightsPath(cfg.DataDir, role), role, towerCfg)
	} else {
		p, err = inference.LoadProjector(ctx, artifact.NewSQLiteStore(db), role, towerCfg)
	}
	if err != nil {
		if errors.Is(err, artifact.ErrArtifactNotFound) || errors.Is(err, projector.ErrWeightsNotFound) {
			exitWithError(ExitConfigError, "%s tower weights not found\n\nRun 'tower train' first.", role)
		}
		exitWithError(ExitError, "loading %s tower: %v", role, err)
	}
	return p
}

// mustLoadIndex opens the document collection, exits on error.
func mustLoadIndex(cfg *config.Config) *index.Collection {
	coll, err := index.Open(cfg.IndexPath()).Collection(cfg.Index.Collection)
	if err != nil {
		if errors.Is(err, index.ErrCollectionNotFound) {
			exitWithError(ExitConfigError, "Index not found\n\nRun 'tower index build' to create the index.")
		}
		exitWithError(ExitError, "loading index: %v", err)
	}
	return coll
}

// newBaseline returns the provider the training diagnostic compares
// against.
func newBaseline(cfg *config.Config, lookup wordvec.Lookup) (embedding.Provider, error) {
	switch cfg.Baseline.Provider {
	case config.BaselineOllama:
		opts := []embedding.OllamaOption{}
		if cfg.Baseline.OllamaURL != "" {
			opts = append(opts, embedding.WithBaseURL(cfg.Baseline.OllamaURL))
		}
		if cfg.Baseline.Model != "" {
			opts = append(opts, embedding.WithModel(cfg.Baseline.Model), embedding.WithDimensions(0))
		}
		return embedding.NewOllamaProvider(opts...), nil
	case config.BaselineOpenAI:
		opts := []embedding.OpenAIOption{}
		if cfg.Baseline.Model != "" {
			opts = append(opts, embedding.WithOpenAIModel(cfg.Baseline.Model))
		}
		return embedding.NewOpenAIProvider(cfg.Baseline.APIKey, opts...)
	default:
		return embedding.NewMeanVectors(lookup), nil
	}
}

// mustValidateOllama checks that Ollama is running and has the model.
func mustValidateOllama(ctx context.Context, provider *embedding.OllamaProvider) {
	hasModel, err := provider.HasModel(ctx)
	if err != nil {
		exitWithError(ExitDataError, "Ollama is not running\n\nStart Ollama with 'ollama serve' or install from https://ollama.ai")
	}
	if !hasModel {
		exitWithError(ExitModelNotFound, "embedding model %q not found\n\nRun 'ollama pull %s' to download it.", provider.ModelName(), provider.ModelName())
	}
}
