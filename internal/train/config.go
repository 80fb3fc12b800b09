// Package train fits the query and document towers on triplets with a
// cosine-distance margin ranking loss.
package train

import (
	"errors"
	"fmt"
)

// Reference hyperparameters.
const (
	DefaultEpochs            = 100
	DefaultLearningRate      = 0.0002
	DefaultWeightDecay       = 0.01
	DefaultMargin            = 0.2
	DefaultBatchSize         = 64
	DefaultEarlyStopAfter    = 3
	DefaultSeed              = 16
	DefaultTestFraction      = 0.2
	DefaultDiagnosticSamples = 100
)

// Errors returned by training.
var (
	ErrEmptyDataset  = errors.New("dataset has no usable triplets")
	ErrNonFiniteLoss = errors.New("validation loss is not finite")
)

// Config holds the training hyperparameters.
type Config struct {
	Epochs            int     `yaml:"epochs" json:"epochs"`
	LearningRate      float64 `yaml:"learning_rate" json:"learning_rate"`
	WeightDecay       float64 `yaml:"weight_decay" json:"weight_decay"`
	Margin            float64 `yaml:"margin" json:"margin"`
	BatchSize         int     `yaml:"batch_size" json:"batch_size"`
	EarlyStopAfter    int     `yaml:"early_stop_after" json:"early_stop_after"`
	Seed              int64   `yaml:"seed" json:"seed"`
	TestFraction      float64 `yaml:"test_fraction" json:"test_fraction"`
	Diagnostic        bool    `yaml:"diagnostic" json:"diagnostic"`
	DiagnosticSamples int     `yaml:"diagnostic_samples" json:"diagnostic_samples"`

	// OutputDir receives epoch checkpoints and the final weights files.
	OutputDir string `yaml:"-" json:"output_dir"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Epochs:            DefaultEpochs,
		LearningRate:      DefaultLearningRate,
		WeightDecay:       DefaultWeightDecay,
		Margin:            DefaultMargin,
		BatchSize:         DefaultBatchSize,
		EarlyStopAfter:    DefaultEarlyStopAfter,
		Seed:              DefaultSeed,
		TestFraction:      DefaultTestFraction,
		Diagnostic:        true,
		DiagnosticSamples: DefaultDiagnosticSamples,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.Epochs <= 0:
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning rate must be positive, got %v", c.LearningRate)
	case c.WeightDecay < 0:
		return fmt.Errorf("weight decay must not be negative, got %v", c.WeightDecay)
	case c.Margin < 0:
		return fmt.Errorf("margin must not be negative, got %v", c.Margin)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.EarlyStopAfter <= 0:
		return fmt.Errorf("early stop patience must be positive, got %d", c.EarlyStopAfter)
	case c.TestFraction <= 0 || c.TestFraction >= 1:
		return fmt.Errorf("test fraction must be in (0, 1), got %v", c.TestFraction)
	case c.Diagnostic && c.DiagnosticSamples <= 0:
		return fmt.Errorf("diagnostic samples must be positive, got %d", c.DiagnosticSamples)
	}
	return nil
}
