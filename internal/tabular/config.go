package tabular

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/internal/model/optim"
	"github.com/go-sod/calib/internal/partition"
	"github.com/go-sod/calib/internal/scaler"
	"github.com/go-sod/calib/internal/search"
)

// HiddenGrid is a list of hidden layer layouts written as "10;20;10x5".
type HiddenGrid [][]int

// Decode implements envconfig.Decoder.
func (h *HiddenGrid) Decode(value string) error {
	var grid HiddenGrid
	for _, layout := range strings.Split(value, ";") {
		layout = strings.TrimSpace(layout)
		if layout == "" {
			continue
		}
		var widths []int
		for _, w := range strings.Split(layout, "x") {
			n, err := strconv.Atoi(strings.TrimSpace(w))
			if err != nil || n < 1 {
				return calerr.Configf("invalid hidden layout %q", layout)
			}
			widths = append(widths, n)
		}
		grid = append(grid, widths)
	}
	*h = grid
	return nil
}

type Config struct {
	InputPath string            `envconfig:"CALIB_TABULAR_INPUT" json:"input"`
	Sheet     string            `envconfig:"CALIB_TABULAR_SHEET" json:"sheet,omitempty"`
	Rename    map[string]string `envconfig:"CALIB_TABULAR_RENAME" json:"rename,omitempty"`
	Features  []string          `envconfig:"CALIB_TABULAR_FEATURES" json:"features"`
	Target    string            `envconfig:"CALIB_TABULAR_TARGET" json:"target"`

	TrainFraction      float64          `envconfig:"CALIB_TABULAR_TRAIN_FRACTION" default:"0.7" json:"train_fraction"`
	TestFraction       float64          `envconfig:"CALIB_TABULAR_TEST_FRACTION" default:"0.15" json:"test_fraction"`
	ValidationFraction float64          `envconfig:"CALIB_TABULAR_VALIDATION_FRACTION" default:"0.15" json:"validation_fraction"`
	Split              partition.Policy `envconfig:"CALIB_TABULAR_SPLIT" default:"RANDOM" json:"split"`
	Scaler             scaler.Kind      `envconfig:"CALIB_TABULAR_SCALER" default:"ROBUST" json:"scaler"`
	Seed               int64            `envconfig:"CALIB_TABULAR_SEED" default:"42" json:"seed"`

	Hidden        HiddenGrid `envconfig:"CALIB_TABULAR_HIDDEN" default:"10;20;10x10" json:"hidden"`
	LearningRates []float64  `envconfig:"CALIB_TABULAR_LEARNING_RATES" default:"0.001,0.01" json:"learning_rates"`
	Epochs        []int      `envconfig:"CALIB_TABULAR_EPOCHS" default:"200,500" json:"epochs"`
	BatchSize     int        `envconfig:"CALIB_TABULAR_BATCH_SIZE" default:"200" json:"batch_size"`
	Solver        optim.Kind `envconfig:"CALIB_TABULAR_SOLVER" default:"ADAM" json:"solver"`
	GridFile      string     `envconfig:"CALIB_TABULAR_GRID_FILE" json:"grid_file,omitempty"`

	PredictionsPath string `envconfig:"CALIB_TABULAR_PREDICTIONS" json:"predictions,omitempty"`
	PlotDir         string `envconfig:"CALIB_TABULAR_PLOT_DIR" json:"plot_dir,omitempty"`
	HistogramBins   int    `envconfig:"CALIB_TABULAR_HISTOGRAM_BINS" default:"30" json:"histogram_bins"`
	StoreModel      bool   `envconfig:"CALIB_TABULAR_STORE_MODEL" default:"true" json:"store_model"`
}

func (c *Config) Fractions() partition.Fractions {
	return partition.Fractions{Train: c.TrainFraction, Test: c.TestFraction, Validation: c.ValidationFraction}
}

func (c *Config) Grid() search.Grid {
	return search.Grid{Hidden: c.Hidden, LearningRates: c.LearningRates, Epochs: c.Epochs}
}

// fileConfig is the TOML layout of the grid file. Keys that are present
// replace the environment values.
type fileConfig struct {
	Hidden        [][]int           `toml:"hidden"`
	LearningRates []float64         `toml:"learning_rates"`
	Epochs        []int             `toml:"epochs"`
	Rename        map[string]string `toml:"rename"`
	Features      []string          `toml:"features"`
	Target        string            `toml:"target"`
}

// LoadGridFile merges the TOML grid file named by GridFile, if any.
func (c *Config) LoadGridFile() error {
	if c.GridFile == "" {
		return nil
	}
	var f fileConfig
	md, err := toml.DecodeFile(c.GridFile, &f)
	if err != nil {
		return calerr.Configf("read grid file %s: %v", c.GridFile, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return calerr.Configf("grid file %s: unknown keys %v", c.GridFile, undecoded)
	}
	if md.IsDefined("hidden") {
		c.Hidden = f.Hidden
	}
	if md.IsDefined("learning_rates") {
		c.LearningRates = f.LearningRates
	}
	if md.IsDefined("epochs") {
		c.Epochs = f.Epochs
	}
	if md.IsDefined("rename") {
		c.Rename = f.Rename
	}
	if md.IsDefined("features") {
		c.Features = f.Features
	}
	if md.IsDefined("target") {
		c.Target = f.Target
	}
	return nil
}

func (c *Config) Validate() error {
	if len(c.Features) == 0 {
		return calerr.Configf("at least one feature column is required")
	}
	if c.Target == "" {
		return calerr.Configf("target column is required")
	}
	for _, f := range c.Features {
		if f == c.Target {
			return calerr.Configf("target %q is also a feature", f)
		}
	}
	if err := c.Fractions().Validate(); err != nil {
		return err
	}
	if err := c.Grid().Validate(); err != nil {
		return err
	}
	for _, h := range c.Hidden {
		if len(h) == 0 {
			return calerr.Configf("empty hidden layout in %v", c.Hidden)
		}
	}
	if c.BatchSize < 1 {
		return calerr.Configf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.HistogramBins < 1 {
		return calerr.Configf("histogram bins must be positive, got %d", c.HistogramBins)
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("input=%s target=%s features=%v split=%s scaler=%s grid=%d candidates",
		c.InputPath, c.Target, c.Features, c.Split, c.Scaler, len(c.Grid().Candidates()))
}
