package model

import (
	"fmt"
	"math"
)

// DistanceMatrix is a square one-way distance table in km over the unified
// ordering [depots..., patients...]. Symmetry is not assumed.
type DistanceMatrix [][]float64

// DepotToPatient returns the distance from depot j to patient i.
func (m DistanceMatrix) DepotToPatient(numDepots, j, i int) float64 {
	return m[j][numDepots+i]
}

// Validate checks the shape of the matrix and the depot-to-patient block,
// the only block the model reads. Negative entries mean "no route" and are
// rejected rather than used as distances.
func (m DistanceMatrix) Validate(numDepots, numPatients int) error {
	n := numDepots + numPatients
	if len(m) != n {
		return &ConfigurationError{Field: "Distances", Reason: fmt.Sprintf("has %d rows, want %d", len(m), n)}
	}
	for r, row := range m {
		if len(row) != n {
			return &ConfigurationError{Field: "Distances", Reason: fmt.Sprintf("row %d has %d columns, want %d", r, len(row), n)}
		}
	}
	for j := 0; j < numDepots; j++ {
		for i := 0; i < numPatients; i++ {
			d := m[j][numDepots+i]
			switch {
			case math.IsNaN(d) || math.IsInf(d, 0):
				return &ConfigurationError{Field: "Distances", Reason: fmt.Sprintf("depot %d to patient %d is not finite", j, i)}
			case d < 0:
				return &ConfigurationError{Field: "Distances", Reason: fmt.Sprintf("depot %d has no route to patient %d", j, i)}
			}
		}
	}
	return nil
}
