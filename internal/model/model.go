// Package model defines the fit/predict capabilities the calibration
// pipelines train and evaluate.
package model

import (
	"encoding"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Regressor maps a batch of feature vectors onto scalar predictions.
type Regressor interface {
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
}

// SequenceRegressor maps a batch of (window, step, feature) sequences onto
// one output vector per window.
type SequenceRegressor interface {
	Fit(X [][][]float64, Y [][]float64) error
	Predict(X [][][]float64) ([][]float64, error)
}

// Persistent models serialise into an opaque blob.
type Persistent interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Chunks runs fn over [0, n) split into contiguous ranges, one goroutine per
// range. fn must only write to indices inside its own range.
func Chunks(n int, fn func(start, end int) error) error {
	if n == 0 {
		return nil
	}
	workers := runtime.GOMAXPROCS(0)
	size := (n + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < n; start += size {
		start, end := start, min(start+size, n)
		g.Go(func() error {
			return fn(start, end)
		})
	}
	return g.Wait()
}

// Dense copies rows into a new matrix.
func Dense(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	m := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, r := range rows {
		m.SetRow(i, r)
	}
	return m
}

// Layout places consecutive matrices and vectors over one flat buffer so an
// optimiser can step all parameters at once.
type Layout struct {
	size int
}

// Matrix reserves an r x c block.
func (l *Layout) Matrix(buf []float64, r, c int) *mat.Dense {
	m := mat.NewDense(r, c, buf[l.size:l.size+r*c])
	l.size += r * c
	return m
}

// Vector reserves n values.
func (l *Layout) Vector(buf []float64, n int) []float64 {
	v := buf[l.size : l.size+n]
	l.size += n
	return v
}

func (l *Layout) Size() int {
	return l.size
}
