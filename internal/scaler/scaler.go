// Package scaler fits per-feature normalisation on the training partition and
// applies the frozen transform to every partition.
package scaler

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/pkg/math/vector"
)

type Kind string

const (
	KindStandard Kind = "STANDARD"
	KindRobust   Kind = "ROBUST"
)

// Decode implements envconfig.Decoder.
func (k *Kind) Decode(value string) error {
	switch Kind(value) {
	case KindStandard, KindRobust:
		*k = Kind(value)
		return nil
	default:
		return calerr.Configf("unknown scaler kind %q", value)
	}
}

// Scaler is a per-feature affine transform (x - location) / scale.
type Scaler struct {
	Kind     Kind      `json:"kind"`
	Location []float64 `json:"location"`
	Scale    []float64 `json:"scale"`
	Columns  []string  `json:"columns,omitempty"`
}

func New(kind Kind) (*Scaler, error) {
	switch kind {
	case KindStandard, KindRobust:
		return &Scaler{Kind: kind}, nil
	default:
		return nil, calerr.Configf("unknown scaler kind %q", kind)
	}
}

func (s *Scaler) Fitted() bool {
	return s.Location != nil
}

// Fit computes the statistics from rows. A scaler can only be fit once. A
// feature with zero scale is a configuration error.
func (s *Scaler) Fit(rows [][]float64) error {
	if s.Fitted() {
		return fmt.Errorf("scaler already fitted")
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return calerr.Configf("cannot fit scaler on an empty training partition")
	}
	nFeatures := len(rows[0])
	for i, row := range rows {
		if len(row) != nFeatures {
			return calerr.Configf("row %d has %d features, expected %d", i, len(row), nFeatures)
		}
	}

	location := make([]float64, nFeatures)
	scale := make([]float64, nFeatures)
	for j := 0; j < nFeatures; j++ {
		col := vector.Column(rows, j)
		switch s.Kind {
		case KindStandard:
			location[j], scale[j] = stat.PopMeanStdDev(col, nil)
		case KindRobust:
			location[j], scale[j] = col.Median(), col.IQR()
		default:
			return calerr.Configf("unknown scaler kind %q", s.Kind)
		}
		if scale[j] == 0 {
			return calerr.Configf("feature %s has zero scale", s.featureName(j))
		}
	}
	s.Location, s.Scale = location, scale
	return nil
}

func (s *Scaler) featureName(j int) string {
	if j < len(s.Columns) {
		return fmt.Sprintf("%q", s.Columns[j])
	}
	return fmt.Sprintf("#%d", j)
}

// Transform returns scaled copies of rows.
func (s *Scaler) Transform(rows [][]float64) ([][]float64, error) {
	return s.apply(rows, func(v, loc, scale float64) float64 { return (v - loc) / scale })
}

// Inverse maps scaled values back to the original units.
func (s *Scaler) Inverse(rows [][]float64) ([][]float64, error) {
	return s.apply(rows, func(v, loc, scale float64) float64 { return v*scale + loc })
}

// FitTransform fits on rows and returns them scaled.
func (s *Scaler) FitTransform(rows [][]float64) ([][]float64, error) {
	if err := s.Fit(rows); err != nil {
		return nil, err
	}
	return s.Transform(rows)
}

func (s *Scaler) apply(rows [][]float64, fn func(v, loc, scale float64) float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, fmt.Errorf("scaler is not fitted")
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.Location) {
			return nil, fmt.Errorf("row %d has %d features, scaler fitted on %d: %w",
				i, len(row), len(s.Location), calerr.ErrShapeMismatch)
		}
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = fn(v, s.Location[j], s.Scale[j])
		}
		out[i] = r
	}
	return out, nil
}
