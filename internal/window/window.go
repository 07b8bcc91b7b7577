// Package window builds sliding-window sequence datasets from time-ordered,
// already-normalised rows.
package window

import (
	"fmt"

	"github.com/go-sod/calib/internal/calerr"
)

// Set is a windowed dataset. X[i] holds input rows [i, i+T) and Y[i] holds the
// target row aligned to the last row of that window.
type Set struct {
	X      [][][]float64
	Y      [][]float64
	Length int
}

func (s *Set) Len() int {
	return len(s.X)
}

// Count is the number of windows of length t producible from n rows.
func Count(n, t int) int {
	if t < 1 || n < t {
		return 0
	}
	return n - t + 1
}

// Make builds N-T+1 windows of length t from inputs and their last-row
// targets.
func Make(inputs, targets [][]float64, t int) (*Set, error) {
	if len(inputs) != len(targets) {
		return nil, fmt.Errorf("%d input rows, %d target rows: %w",
			len(inputs), len(targets), calerr.ErrInvalidWindowConfiguration)
	}
	x, err := MakeInputs(inputs, t)
	if err != nil {
		return nil, err
	}
	if err := rectangular(targets); err != nil {
		return nil, fmt.Errorf("targets: %w", err)
	}
	y := make([][]float64, len(x))
	for i := range y {
		y[i] = append([]float64(nil), targets[i+t-1]...)
	}
	return &Set{X: x, Y: y, Length: t}, nil
}

// MakeInputs builds the input windows only, for prediction.
func MakeInputs(inputs [][]float64, t int) ([][][]float64, error) {
	if t < 1 {
		return nil, fmt.Errorf("window length %d: %w", t, calerr.ErrInvalidWindowConfiguration)
	}
	if len(inputs) < t {
		return nil, fmt.Errorf("window length %d exceeds %d rows: %w",
			t, len(inputs), calerr.ErrInvalidWindowConfiguration)
	}
	if err := rectangular(inputs); err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}

	n := Count(len(inputs), t)
	x := make([][][]float64, n)
	for i := 0; i < n; i++ {
		w := make([][]float64, t)
		for k := 0; k < t; k++ {
			w[k] = append([]float64(nil), inputs[i+k]...)
		}
		x[i] = w
	}
	return x, nil
}

// Concat appends the windows of sets into one set. All sets must share the
// same window length.
func Concat(sets ...*Set) (*Set, error) {
	out := &Set{}
	for _, s := range sets {
		if s == nil {
			continue
		}
		if out.Length == 0 {
			out.Length = s.Length
		}
		if s.Length != out.Length {
			return nil, fmt.Errorf("window lengths %d and %d: %w", out.Length, s.Length, calerr.ErrInvalidWindowConfiguration)
		}
		out.X = append(out.X, s.X...)
		out.Y = append(out.Y, s.Y...)
	}
	return out, nil
}

func rectangular(rows [][]float64) error {
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) != len(rows[0]) {
			return fmt.Errorf("row %d has %d values, row 0 has %d: %w",
				i, len(rows[i]), len(rows[0]), calerr.ErrInvalidWindowConfiguration)
		}
	}
	return nil
}
