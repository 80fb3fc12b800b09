package train

import (
	"fmt"
	"path/filepath"

	"github.com/matsen/twotower/internal/projector"
)

const (
	epochWeightsDir = "epoch-weights"
	weightsSuffix   = ".generated.gob"
)

// EpochWeightsPath returns where the weights of role are checkpointed after
// an improving epoch. epoch is 1-based.
func EpochWeightsPath(dir string, role projector.Role, epoch int) string {
	return filepath.Join(dir, epochWeightsDir, fmt.Sprintf("%s-weights_epoch-%d%s", role, epoch, weightsSuffix))
}

// FinalWeightsPath returns where the best weights of role are written when
// training ends.
func FinalWeightsPath(dir string, role projector.Role) string {
	return filepath.Join(dir, role.ArtifactName()+weightsSuffix)
}

// saveCheckpoint writes both towers' weights for an improving epoch.
func saveCheckpoint(dir string, epoch int, query, doc projector.Weights) error {
	if err := projector.SaveWeights(EpochWeightsPath(dir, projector.RoleQuery, epoch), query); err != nil {
		return fmt.Errorf("checkpointing query tower: %w", err)
	}
	if err := projector.SaveWeights(EpochWeightsPath(dir, projector.RoleDoc, epoch), doc); err != nil {
		return fmt.Errorf("checkpointing doc tower: %w", err)
	}
	return nil
}
