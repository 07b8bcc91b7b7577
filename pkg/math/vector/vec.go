package vector

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

var ErrDimNotEqual = fmt.Errorf("vectors dimension is not equal")

// V is a single numeric channel, typically one column of an observation table.
type V []float64

func New(vec []float64) V {
	return vec
}

// Column copies column j of rows into a new vector.
func Column(rows [][]float64, j int) V {
	v := make(V, len(rows))
	for i := range rows {
		v[i] = rows[i][j]
	}
	return v
}

func (v V) Copy() V {
	var v1 = make(V, len(v))
	copy(v1, v)
	return v1
}

// Sub returns v - vec element-wise.
func (v V) Sub(vec V) (V, error) {
	if len(v) != len(vec) {
		return nil, ErrDimNotEqual
	}
	v1 := v.Copy()
	floats.Sub(v1, vec)
	return v1, nil
}

func (v V) Max() float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return floats.Max(v)
}

func (v V) Min() float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return floats.Min(v)
}

func (v V) Median() float64 {
	return v.Percentile(50)
}

// Percentile returns the p-th percentile (0 <= p <= 100) using linear
// interpolation between the closest ranks of the sorted channel, the same
// rule as numpy's default percentile method.
func (v V) Percentile(p float64) float64 {
	n := len(v)
	if n == 0 {
		return math.NaN()
	}
	v1 := v.Copy()
	sort.Float64s(v1)
	if p <= 0 {
		return v1[0]
	}
	if p >= 100 {
		return v1[n-1]
	}
	rank := p / 100 * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return v1[lower]
	}
	weight := rank - float64(lower)
	return v1[lower]*(1-weight) + v1[upper]*weight
}

// IQR is the distance between the 75th and 25th percentiles.
func (v V) IQR() float64 {
	return v.Percentile(75) - v.Percentile(25)
}
