package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	assert.Equal(t, []bool{false, true, true, false}, Decode([]float64{0.1, 0.5, 0.99, 0.4999}))
}

// hamming counts mismatches against a fixed target allocation.
func hamming(target []bool) func([]bool) float64 {
	return func(a []bool) float64 {
		var d float64
		for k := range target {
			if a[k] != target[k] {
				d++
			}
		}
		return d
	}
}

func TestSearchAllocationFindsTarget(t *testing.T) {
	target := []bool{true, false, true, true, false}
	alloc, cost, err := SearchAllocation(NewMayfly(60, 20, 7), len(target), hamming(target))
	require.NoError(t, err)

	assert.Equal(t, target, alloc)
	assert.Zero(t, cost)
}

func TestSearchAllocationEmpty(t *testing.T) {
	calls := 0
	alloc, cost, err := SearchAllocation(NewMayfly(10, 20, 1), 0, func(a []bool) float64 {
		calls++
		return 42
	})
	require.NoError(t, err)

	assert.Empty(t, alloc)
	assert.Equal(t, 42.0, cost)
	assert.Equal(t, 1, calls)
}
