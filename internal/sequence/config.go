package sequence

import (
	"fmt"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/internal/model/optim"
	"github.com/go-sod/calib/internal/partition"
	"github.com/go-sod/calib/internal/scaler"
)

type Config struct {
	InputPath string            `envconfig:"CALIB_SEQUENCE_INPUT" json:"input"`
	Sheet     string            `envconfig:"CALIB_SEQUENCE_SHEET" json:"sheet,omitempty"`
	Rename    map[string]string `envconfig:"CALIB_SEQUENCE_RENAME" json:"rename,omitempty"`
	Inputs    []string          `envconfig:"CALIB_SEQUENCE_INPUTS" json:"inputs"`
	Outputs   []string          `envconfig:"CALIB_SEQUENCE_OUTPUTS" json:"outputs"`

	WindowLength       int              `envconfig:"CALIB_SEQUENCE_WINDOW" default:"50" json:"window"`
	TrainFraction      float64          `envconfig:"CALIB_SEQUENCE_TRAIN_FRACTION" default:"0.7" json:"train_fraction"`
	TestFraction       float64          `envconfig:"CALIB_SEQUENCE_TEST_FRACTION" default:"0.15" json:"test_fraction"`
	ValidationFraction float64          `envconfig:"CALIB_SEQUENCE_VALIDATION_FRACTION" default:"0.15" json:"validation_fraction"`
	Split              partition.Policy `envconfig:"CALIB_SEQUENCE_SPLIT" default:"CONTIGUOUS" json:"split"`
	Scaler             scaler.Kind      `envconfig:"CALIB_SEQUENCE_SCALER" default:"STANDARD" json:"scaler"`
	Seed               int64            `envconfig:"CALIB_SEQUENCE_SEED" default:"42" json:"seed"`

	Units        []int      `envconfig:"CALIB_SEQUENCE_UNITS" default:"64,32" json:"units"`
	LearningRate float64    `envconfig:"CALIB_SEQUENCE_LEARNING_RATE" default:"0.001" json:"learning_rate"`
	Epochs       int        `envconfig:"CALIB_SEQUENCE_EPOCHS" default:"50" json:"epochs"`
	BatchSize    int        `envconfig:"CALIB_SEQUENCE_BATCH_SIZE" default:"32" json:"batch_size"`
	Clip         float64    `envconfig:"CALIB_SEQUENCE_GRADIENT_CLIP" default:"5" json:"gradient_clip"`
	Solver       optim.Kind `envconfig:"CALIB_SEQUENCE_SOLVER" default:"ADAM" json:"solver"`

	PredictionsPath string `envconfig:"CALIB_SEQUENCE_PREDICTIONS" json:"predictions,omitempty"`
	PlotDir         string `envconfig:"CALIB_SEQUENCE_PLOT_DIR" json:"plot_dir,omitempty"`
	HistogramBins   int    `envconfig:"CALIB_SEQUENCE_HISTOGRAM_BINS" default:"30" json:"histogram_bins"`
	StoreModel      bool   `envconfig:"CALIB_SEQUENCE_STORE_MODEL" default:"true" json:"store_model"`
}

func (c *Config) Fractions() partition.Fractions {
	return partition.Fractions{Train: c.TrainFraction, Test: c.TestFraction, Validation: c.ValidationFraction}
}

func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return calerr.Configf("at least one input channel is required")
	}
	if len(c.Outputs) == 0 {
		return calerr.Configf("at least one output channel is required")
	}
	if c.WindowLength < 1 {
		return fmt.Errorf("window length %d: %w", c.WindowLength, calerr.ErrInvalidWindowConfiguration)
	}
	if c.HistogramBins < 1 {
		return calerr.Configf("histogram bins must be positive, got %d", c.HistogramBins)
	}
	return c.Fractions().Validate()
}

func (c *Config) String() string {
	return fmt.Sprintf("input=%s inputs=%v outputs=%v window=%d split=%s units=%v",
		c.InputPath, c.Inputs, c.Outputs, c.WindowLength, c.Split, c.Units)
}
