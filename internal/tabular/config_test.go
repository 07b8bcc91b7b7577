package tabular

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/internal/partition"
	"github.com/go-sod/calib/internal/scaler"
)

func TestHiddenGrid_Decode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		value   string
		want    HiddenGrid
		wantErr bool
	}{
		{name: "single", value: "10", want: HiddenGrid{{10}}},
		{name: "many", value: "10; 20 ;10x5", want: HiddenGrid{{10}, {20}, {10, 5}}},
		{name: "trailing", value: "4x4;", want: HiddenGrid{{4, 4}}},
		{name: "empty", value: "", want: nil},
		{name: "zero", value: "10x0", wantErr: true},
		{name: "junk", value: "ten", wantErr: true},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			var got HiddenGrid
			err := got.Decode(test.value)
			if test.wantErr {
				assert.True(t, errors.Is(err, calerr.ErrConfiguration))
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Setenv("CALIB_TABULAR_INPUT", "data.csv")
	t.Setenv("CALIB_TABULAR_FEATURES", "a,b")
	t.Setenv("CALIB_TABULAR_TARGET", "y")
	t.Setenv("CALIB_TABULAR_RENAME", "Sensor A:a,Sensor B:b")

	var cfg Config
	require.NoError(t, envconfig.Process("", &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"a", "b"}, cfg.Features)
	assert.Equal(t, map[string]string{"Sensor A": "a", "Sensor B": "b"}, cfg.Rename)
	assert.Equal(t, partition.PolicyRandom, cfg.Split)
	assert.Equal(t, scaler.KindRobust, cfg.Scaler)
	assert.Equal(t, HiddenGrid{{10}, {20}, {10, 10}}, cfg.Hidden)
	assert.Equal(t, []float64{0.001, 0.01}, cfg.LearningRates)
	assert.Equal(t, []int{200, 500}, cfg.Epochs)
	assert.Len(t, cfg.Grid().Candidates(), 12)
}

func TestConfig_LoadGridFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "grid.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
hidden = [[8], [16, 8]]
epochs = [50]
target = "inclinometer"

[rename]
"Channel 1" = "acc_x"
`), 0o600))

	cfg := Config{
		GridFile:      path,
		Hidden:        HiddenGrid{{1}},
		LearningRates: []float64{0.5},
		Epochs:        []int{1},
		Target:        "y",
	}
	require.NoError(t, cfg.LoadGridFile())
	assert.Equal(t, HiddenGrid{{8}, {16, 8}}, cfg.Hidden)
	assert.Equal(t, []float64{0.5}, cfg.LearningRates)
	assert.Equal(t, []int{50}, cfg.Epochs)
	assert.Equal(t, "inclinometer", cfg.Target)
	assert.Equal(t, map[string]string{"Channel 1": "acc_x"}, cfg.Rename)

	require.NoError(t, os.WriteFile(path, []byte("hiden = [[8]]\n"), 0o600))
	assert.True(t, errors.Is(cfg.LoadGridFile(), calerr.ErrConfiguration))

	cfg.GridFile = filepath.Join(t.TempDir(), "missing.toml")
	assert.True(t, errors.Is(cfg.LoadGridFile(), calerr.ErrConfiguration))
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	valid := func() Config {
		return Config{
			Features:           []string{"a"},
			Target:             "y",
			TrainFraction:      0.7,
			TestFraction:       0.15,
			ValidationFraction: 0.15,
			Hidden:             HiddenGrid{{4}},
			LearningRates:      []float64{0.01},
			Epochs:             []int{10},
			BatchSize:          16,
			HistogramBins:      10,
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{name: "no_features", mutate: func(c *Config) { c.Features = nil }, target: calerr.ErrConfiguration},
		{name: "no_target", mutate: func(c *Config) { c.Target = "" }, target: calerr.ErrConfiguration},
		{name: "target_is_feature", mutate: func(c *Config) { c.Features = []string{"a", "y"} }, target: calerr.ErrConfiguration},
		{name: "fractions", mutate: func(c *Config) { c.TrainFraction = 0.9 }, target: calerr.ErrConfiguration},
		{name: "no_rates", mutate: func(c *Config) { c.LearningRates = nil }, target: calerr.ErrEmptySearchSpace},
		{name: "no_epochs", mutate: func(c *Config) { c.Epochs = nil }, target: calerr.ErrEmptySearchSpace},
		{name: "empty_layout", mutate: func(c *Config) { c.Hidden = HiddenGrid{{}} }, target: calerr.ErrConfiguration},
		{name: "batch", mutate: func(c *Config) { c.BatchSize = 0 }, target: calerr.ErrConfiguration},
		{name: "bins", mutate: func(c *Config) { c.HistogramBins = 0 }, target: calerr.ErrConfiguration},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			test.mutate(&cfg)
			assert.True(t, errors.Is(cfg.Validate(), test.target))
		})
	}
}
