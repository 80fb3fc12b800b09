// Package config handles project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/matsen/twotower/internal/inference"
	"github.com/matsen/twotower/internal/projector"
	"github.com/matsen/twotower/internal/train"
)

const (
	// ConfigFile is looked up in the working directory when no path is
	// given.
	ConfigFile = "twotower.yml"

	DefaultDataDir = "data"
	DBFile         = "twotower.db"
	IndexDir       = "index"

	TrainingDataFile  = "training-data.generated.csv"
	DocumentsFile     = "docs.generated.csv"
	SampleQueriesFile = "sample-queries.generated.csv"
	WordVectorsFile   = "word-vectors.generated.txt"
)

// Baseline providers for the training diagnostic.
const (
	BaselineWords  = "words"
	BaselineOllama = "ollama"
	BaselineOpenAI = "openai"
)

// Config is the effective project configuration.
type Config struct {
	DataDir       string `yaml:"data_dir" json:"data_dir"`
	WordVectors   string `yaml:"word_vectors" json:"word_vectors"`
	TrainingData  string `yaml:"training_data" json:"training_data"`
	Documents     string `yaml:"documents" json:"documents"`
	SampleQueries string `yaml:"sample_queries" json:"sample_queries"`

	Train    train.Config   `yaml:"train" json:"train"`
	Query    TowerConfig    `yaml:"query" json:"query"`
	Doc      TowerConfig    `yaml:"doc" json:"doc"`
	Index    IndexConfig    `yaml:"index" json:"index"`
	Baseline BaselineConfig `yaml:"baseline" json:"baseline"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// TowerConfig holds the sizes of one tower. The embedding size always
// comes from the word vectors.
type TowerConfig struct {
	Hidden  int     `yaml:"hidden" json:"hidden"`
	Output  int     `yaml:"output" json:"output"`
	Dropout float64 `yaml:"dropout" json:"dropout"`
}

// IndexConfig controls index building and search.
type IndexConfig struct {
	Collection string `yaml:"collection" json:"collection"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	Workers    int    `yaml:"workers" json:"workers"`
	K          int    `yaml:"k" json:"k"`
}

// BaselineConfig selects the provider the training diagnostic compares
// against.
type BaselineConfig struct {
	Provider  string `yaml:"provider" json:"provider"`
	Model     string `yaml:"model,omitempty" json:"model,omitempty"`
	OllamaURL string `yaml:"ollama_url,omitempty" json:"ollama_url,omitempty"`
	// APIKey is read from the environment only.
	APIKey string `yaml:"-" json:"-"`
}

// MetricsConfig selects where training metrics are sent. SQLite is always
// used.
type MetricsConfig struct {
	JSONL       bool   `yaml:"jsonl" json:"jsonl"`
	RedisAddr   string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisStream string `yaml:"redis_stream,omitempty" json:"redis_stream,omitempty"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		DataDir:       DefaultDataDir,
		WordVectors:   WordVectorsFile,
		TrainingData:  TrainingDataFile,
		Documents:     DocumentsFile,
		SampleQueries: SampleQueriesFile,
		Train:         train.DefaultConfig(),
		Query: TowerConfig{
			Hidden: projector.DefaultHiddenDimension,
			Output: projector.OutputDimension,
		},
		Doc: TowerConfig{
			Hidden:  projector.DefaultHiddenDimension,
			Output:  projector.OutputDimension,
			Dropout: projector.DefaultDocDropout,
		},
		Index: IndexConfig{
			Collection: inference.DefaultCollection,
			BatchSize:  inference.DefaultBuildBatchSize,
			K:          inference.DefaultK,
		},
		Baseline: BaselineConfig{
			Provider: BaselineWords,
		},
		Metrics: MetricsConfig{
			JSONL: true,
		},
	}
}

// Load reads configuration from path on top of the defaults and applies
// environment overrides. An empty path means $TWOTOWER_CONFIG, then
// ConfigFile in the working directory; a missing implicit file yields the
// defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = GetConfigValue(EnvConfig, ConfigFile)
		explicit = os.Getenv(EnvConfig) != ""
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv()
	cfg.DataDir = ExpandPath(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if err := c.Train.Validate(); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	for name, tc := range map[string]TowerConfig{"query": c.Query, "doc": c.Doc} {
		if tc.Hidden <= 0 || tc.Output <= 0 {
			return fmt.Errorf("%s: hidden and output sizes must be positive", name)
		}
		if tc.Dropout < 0 || tc.Dropout >= 1 {
			return fmt.Errorf("%s: dropout %v must be in [0, 1)", name, tc.Dropout)
		}
	}
	if c.Query.Output != c.Doc.Output {
		return fmt.Errorf("query and doc output sizes differ (%d, %d)", c.Query.Output, c.Doc.Output)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("index: batch_size must be positive, got %d", c.Index.BatchSize)
	}
	if c.Index.K <= 0 {
		return fmt.Errorf("index: k must be positive, got %d", c.Index.K)
	}
	switch c.Baseline.Provider {
	case BaselineWords, BaselineOllama, BaselineOpenAI:
	default:
		return fmt.Errorf("baseline: unknown provider %q (valid: words, ollama, openai)", c.Baseline.Provider)
	}
	return nil
}

// Tower returns the projector configuration of role for word vectors of
// embeddingDim dimensions.
func (c *Config) Tower(role projector.Role, embeddingDim int) projector.Config {
	tc := c.Query
	if role == projector.RoleDoc {
		tc = c.Doc
	}
	return projector.Config{
		Role:         role,
		EmbeddingDim: embeddingDim,
		HiddenDim:    tc.Hidden,
		OutputDim:    tc.Output,
		Dropout:      tc.Dropout,
	}
}

// TrainConfig returns the training configuration writing into the data
// directory.
func (c *Config) TrainConfig() train.Config {
	cfg := c.Train
	cfg.OutputDir = c.DataDir
	return cfg
}

// Resolve returns p relative to the data directory unless it is absolute.
func (c *Config) Resolve(p string) string {
	p = ExpandPath(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// DBPath returns the path to the SQLite database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DBFile)
}

// IndexPath returns the directory of the vector index.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, IndexDir)
}
