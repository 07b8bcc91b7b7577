// Package metrics computes regression agreement statistics between predicted
// and ground-truth sequences.
package metrics

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/pkg/math/vector"
)

// Bundle is the fixed record of agreement statistics. R2 and Pearson are NaN
// when they are undefined; Degenerate is then set and Note says why.
type Bundle struct {
	N          int     `json:"n"`
	MSE        float64 `json:"mse"`
	RMSE       float64 `json:"rmse"`
	R2         float64 `json:"r2"`
	MAE        float64 `json:"mae"`
	Pearson    float64 `json:"pearson"`
	Degenerate bool    `json:"degenerate,omitempty"`
	Note       string  `json:"note,omitempty"`
}

func (b Bundle) String() string {
	s := fmt.Sprintf("n=%d mse=%.6g rmse=%.6g r2=%.6g mae=%.6g pearson=%.6g",
		b.N, b.MSE, b.RMSE, b.R2, b.MAE, b.Pearson)
	if b.Degenerate {
		s += " (" + b.Note + ")"
	}
	return s
}

// Compute reduces parallel prediction and truth sequences to a Bundle.
func Compute(pred, truth []float64) (Bundle, error) {
	if len(pred) == 0 || len(truth) == 0 {
		return Bundle{}, fmt.Errorf("empty sequence: %w", calerr.ErrShapeMismatch)
	}
	if len(pred) != len(truth) {
		return Bundle{}, fmt.Errorf("%d predictions for %d truth values: %w",
			len(pred), len(truth), calerr.ErrShapeMismatch)
	}

	residual, _ := vector.New(truth).Sub(pred)
	n := float64(len(truth))
	b := Bundle{N: len(truth)}
	b.MSE = floats.Dot(residual, residual) / n
	b.RMSE = math.Sqrt(b.MSE)
	b.MAE = floats.Norm(residual, 1) / n

	var notes []string
	truthVar := stat.PopVariance(truth, nil)
	predVar := stat.PopVariance(pred, nil)
	if truthVar == 0 {
		b.R2 = math.NaN()
		notes = append(notes, "r2 undefined: ground truth is constant")
	} else {
		b.R2 = stat.RSquaredFrom(pred, truth, nil)
	}
	if truthVar == 0 || predVar == 0 {
		b.Pearson = math.NaN()
		notes = append(notes, "pearson undefined: zero variance in "+zeroVarianceSide(truthVar, predVar))
	} else {
		b.Pearson = stat.Correlation(pred, truth, nil)
	}
	if len(notes) > 0 {
		b.Degenerate = true
		b.Note = strings.Join(notes, "; ")
	}
	return b, nil
}

func zeroVarianceSide(truthVar, predVar float64) string {
	switch {
	case truthVar == 0 && predVar == 0:
		return "truth and predictions"
	case truthVar == 0:
		return "truth"
	default:
		return "predictions"
	}
}

// ComputeColumns computes one bundle per output channel of row-major
// predictions and truth.
func ComputeColumns(pred, truth [][]float64) ([]Bundle, error) {
	if len(pred) == 0 || len(pred) != len(truth) {
		return nil, fmt.Errorf("%d prediction rows for %d truth rows: %w",
			len(pred), len(truth), calerr.ErrShapeMismatch)
	}
	width := len(truth[0])
	for i := range truth {
		if len(truth[i]) != width || len(pred[i]) != width {
			return nil, fmt.Errorf("row %d width differs: %w", i, calerr.ErrShapeMismatch)
		}
	}
	out := make([]Bundle, width)
	for j := 0; j < width; j++ {
		b, err := Compute(vector.Column(pred, j), vector.Column(truth, j))
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", j, err)
		}
		out[j] = b
	}
	return out, nil
}
