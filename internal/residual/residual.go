// Package residual summarises prediction errors and renders diagnostic plots.
package residual

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/pkg/math/vector"
)

// Residuals returns truth - pred element-wise.
func Residuals(pred, truth []float64) ([]float64, error) {
	if len(pred) != len(truth) || len(pred) == 0 {
		return nil, fmt.Errorf("%w: %d predictions for %d truth values", calerr.ErrShapeMismatch, len(pred), len(truth))
	}
	out := make([]float64, len(truth))
	floats.SubTo(out, truth, pred)
	return out, nil
}

type Summary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	P05    float64 `json:"p05"`
	P95    float64 `json:"p95"`
}

func (s Summary) String() string {
	return fmt.Sprintf("n=%d mean=%.4g std=%.4g min=%.4g p05=%.4g median=%.4g p95=%.4g max=%.4g",
		s.N, s.Mean, s.Std, s.Min, s.P05, s.Median, s.P95, s.Max)
}

// Summarize describes a residual sample. Std is the population deviation.
func Summarize(res []float64) Summary {
	if len(res) == 0 {
		nan := math.NaN()
		return Summary{Mean: nan, Std: nan, Min: nan, Max: nan, Median: nan, P05: nan, P95: nan}
	}
	v := vector.V(res)
	mean, std := stat.PopMeanStdDev(res, nil)
	return Summary{
		N:      len(res),
		Mean:   mean,
		Std:    std,
		Min:    v.Min(),
		Max:    v.Max(),
		Median: v.Median(),
		P05:    v.Percentile(5),
		P95:    v.Percentile(95),
	}
}

// Bin counts the residuals in [Lo, Hi). The last bin also holds its upper edge.
type Bin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Count int     `json:"count"`
}

// Histogram splits the residual range into equal-width bins.
func Histogram(res []float64, bins int) ([]Bin, error) {
	if bins < 1 {
		return nil, calerr.Configf("histogram needs at least one bin, got %d", bins)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: no residuals to bin", calerr.ErrShapeMismatch)
	}
	sorted := append([]float64(nil), res...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, hi)
	edges := append([]float64(nil), dividers...)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)

	out := make([]Bin, bins)
	for i := range out {
		out[i] = Bin{Lo: edges[i], Hi: edges[i+1], Count: int(counts[i])}
	}
	return out, nil
}
