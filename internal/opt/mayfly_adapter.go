package opt

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MinPopSize is the smallest population mayfly v0.1.0 accepts.
const MinPopSize = 20

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter. popSize is raised to
// MinPopSize when smaller.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  max(popSize, MinPopSize),
		seed:     seed,
	}
}

// Run executes the Mayfly optimization using the external library.
// The library takes scalar bounds, so every dimension must share them.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error) {
	if dim <= 0 {
		return nil, 0, errors.New("mayfly: dimension must be positive")
	}
	if len(lower) != dim || len(upper) != dim {
		return nil, 0, fmt.Errorf("mayfly: bounds have %d/%d entries for %d dimensions", len(lower), len(upper), dim)
	}
	for k := 1; k < dim; k++ {
		if lower[k] != lower[0] || upper[k] != upper[0] {
			return nil, 0, fmt.Errorf("mayfly: dimension %d has bounds [%g,%g], want uniform [%g,%g]", k, lower[k], upper[k], lower[0], upper[0])
		}
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower[0]
	config.UpperBound = upper[0]
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly: %w", err)
	}
	return result.GlobalBest.Position, result.GlobalBest.Cost, nil
}
