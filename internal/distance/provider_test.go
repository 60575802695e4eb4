package distance

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	timesSquare  = Point{Lat: 40.7580, Lon: -73.9855}
	empireState  = Point{Lat: 40.7484, Lon: -73.9857}
	worldTrade   = Point{Lat: 40.7128, Lon: -74.0060}
	centralDepot = Point{Lat: 40.7628, Lon: -73.9680}
)

func TestHaversine(t *testing.T) {
	assert.Zero(t, Haversine(timesSquare, timesSquare))
	assert.InDelta(t, 1.07, Haversine(timesSquare, empireState), 0.02)
	assert.InDelta(t, Haversine(timesSquare, worldTrade), Haversine(worldTrade, timesSquare), 1e-9)

	// Paris to London, about 344 km.
	assert.InDelta(t, 344, Haversine(Point{48.8566, 2.3522}, Point{51.5074, -0.1278}), 2)
}

func TestBuildMatrixHaversine(t *testing.T) {
	depots := []Point{centralDepot}
	patients := []Point{timesSquare, empireState, worldTrade}

	m, err := BuildMatrix(context.Background(), HaversineProvider{Circuity: 1.3}, depots, patients)
	require.NoError(t, err)
	require.NoError(t, m.Validate(1, 3))

	assert.Len(t, m, 4)
	assert.Zero(t, m[2][2])
	assert.InDelta(t, 1.3*Haversine(centralDepot, worldTrade), m.DepotToPatient(1, 0, 2), 1e-9)
}

func TestHaversineHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := HaversineProvider{}.Matrix(ctx, []Point{timesSquare}, []Point{empireState})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.json")
	m, err := BuildMatrix(context.Background(), HaversineProvider{}, []Point{centralDepot}, []Point{timesSquare})
	require.NoError(t, err)

	require.NoError(t, Save(path, m))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
