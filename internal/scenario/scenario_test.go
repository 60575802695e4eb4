package scenario

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/hahplan/internal/distance"
	"github.com/cwbudde/hahplan/internal/model"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Patients)
	assert.Equal(t, 42, cfg.Beds)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
name: small
patients: 12
beds: 4
hospital_los: {min: 1, max: 2}
center: {lat: 52.52, lon: 13.405}
`))
	require.NoError(t, err)

	assert.Equal(t, "small", cfg.Name)
	assert.Equal(t, 12, cfg.Patients)
	assert.Equal(t, 4, cfg.Beds)
	assert.Equal(t, Range{Min: 1, Max: 2}, cfg.HospitalLOS)
	assert.Equal(t, 52.52, cfg.Center.Lat)
	assert.Equal(t, 0.85, cfg.EligibleRatio, "untouched fields keep defaults")
	assert.Equal(t, 12, cfg.Horizon)
}

func TestParseEmptyKeepsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "patients: 10\nwards: 3\n",
		"bad type":        "patients: many\n",
		"negative beds":   "beds: -1\n",
		"ratio":           "eligible_ratio: 1.5\n",
		"los order":       "home_los: {min: 5, max: 2}\n",
		"bundle count":    "bundles: 2\nbundles_per_patient: 3\n",
		"negative cost":   "holding_cost: -1\n",
		"negative bundle": "procure_base: 5\nprocure_step: -10\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: file\npatients: 7\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Patients)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func smallConfig() Config {
	cfg := Default()
	cfg.Name = "small"
	cfg.Patients = 20
	cfg.Horizon = 6
	cfg.Beds = 5
	cfg.Depots = 2
	return cfg
}

func TestGenerate(t *testing.T) {
	cfg := smallConfig()
	inst, err := Generate(cfg, rand.New(rand.NewSource(cfg.Seed)))
	require.NoError(t, err)

	p := inst.Params
	require.NoError(t, p.Validate())
	assert.Len(t, p.Patients, 20)
	assert.Len(t, p.Eligible(), 17, "int(20 * 0.85)")
	assert.Equal(t, []float64{50, 60, 70, 80, 90}, p.ProcureCost)
	assert.Equal(t, []float64{15, 15}, p.AvgDistance)
	assert.Len(t, inst.Depots, 2)
	assert.Len(t, inst.Patients, 20)

	for _, pt := range p.Patients {
		assert.GreaterOrEqual(t, pt.HospitalLOS, 3)
		assert.LessOrEqual(t, pt.HospitalLOS, 8)
		if !pt.Eligible {
			assert.Zero(t, pt.HomeLOS)
			continue
		}
		assert.GreaterOrEqual(t, pt.HomeLOS, 5)
		assert.LessOrEqual(t, pt.HomeLOS, 12)

		// Two bundles per day for every day of the home stay inside the horizon.
		for day := 0; day < cfg.Horizon; day++ {
			want := 0.0
			if day < pt.HomeLOS {
				want = 2
			}
			assert.Equal(t, want, p.Demand.DailyTotal(pt.ID, day))
		}
	}

	for _, pt := range append(inst.Depots, inst.Patients...) {
		assert.LessOrEqual(t, distance.Haversine(cfg.Center, pt), cfg.RadiusKm*1.01)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := smallConfig()
	a, err := Generate(cfg, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	b, err := Generate(cfg, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	c, err := Generate(cfg, rand.New(rand.NewSource(8)))
	require.NoError(t, err)

	assert.Equal(t, a.Params.Patients, b.Params.Patients)
	assert.Equal(t, a.Params.Demand.Keys(), b.Params.Demand.Keys())
	assert.Equal(t, a.Patients, b.Patients)
	assert.NotEqual(t, a.Patients, c.Patients)
}

func TestInstanceSaveLoad(t *testing.T) {
	cfg := smallConfig()
	inst, err := Generate(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "instance.json")
	require.NoError(t, inst.Save(path))

	loaded, err := LoadInstance(path)
	require.NoError(t, err)
	assert.Equal(t, inst.Config, loaded.Config)
	assert.Equal(t, inst.Params.Patients, loaded.Params.Patients)
	assert.Equal(t, inst.Params.Demand.Keys(), loaded.Params.Demand.Keys())
	assert.Equal(t, inst.Params.ProcureCost, loaded.Params.ProcureCost)
	assert.Equal(t, inst.Depots, loaded.Depots)
	assert.Equal(t, inst.Patients, loaded.Patients)
}

func TestLoadInstanceRejectsMismatch(t *testing.T) {
	cfg := smallConfig()
	inst, err := Generate(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	inst.Patients = inst.Patients[:3]

	path := filepath.Join(t.TempDir(), "instance.json")
	require.NoError(t, inst.Save(path))
	_, err = LoadInstance(path)
	assert.Error(t, err)
}
