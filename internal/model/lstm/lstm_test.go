package lstm

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/go-sod/calib/internal/calerr"
)

// sineWindows builds windows over a noisy sine where the label is the next
// value of a lagged copy of the input.
func sineWindows(n, steps int, seed int64) ([][][]float64, [][]float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][][]float64, n)
	Y := make([][]float64, n)
	for i := range X {
		phase := rng.Float64() * 2 * math.Pi
		w := make([][]float64, steps)
		for t := range w {
			w[t] = []float64{math.Sin(phase + 0.3*float64(t))}
		}
		X[i] = w
		Y[i] = []float64{0.5 * math.Sin(phase+0.3*float64(steps-1))}
	}
	return X, Y
}

func TestNetwork_GradientCheck(t *testing.T) {
	t.Parallel()
	n, err := New(WithUnits(3, 2))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	n.init(2, 2, rng)

	xs := make([]*mat.Dense, 4)
	for i := range xs {
		xs[i] = mat.NewDense(3, 2, nil)
		for r := 0; r < 3; r++ {
			xs[i].SetRow(r, []float64{rng.NormFloat64(), rng.NormFloat64()})
		}
	}
	y := mat.NewDense(3, 2, []float64{0.1, -0.2, 0.3, 0.4, -0.5, 0.6})

	grads := make([]float64, len(n.params))
	n.lossGrad(xs, y, grads)

	scratch := make([]float64, len(n.params))
	const h = 1e-6
	for i := range n.params {
		orig := n.params[i]
		n.params[i] = orig + h
		plus := n.lossGrad(xs, y, scratch)
		n.params[i] = orig - h
		minus := n.lossGrad(xs, y, scratch)
		n.params[i] = orig
		numeric := (plus - minus) / (2 * h)
		tol := 1e-6 + 1e-4*math.Max(math.Abs(numeric), math.Abs(grads[i]))
		assert.InDelta(t, numeric, grads[i], tol, "parameter %d", i)
	}
}

func TestNetwork_LossDecreases(t *testing.T) {
	t.Parallel()
	X, Y := sineWindows(64, 6, 1)
	n, err := New(WithUnits(8), WithLearningRate(0.01), WithEpochs(40), WithBatchSize(16), WithSeed(3))
	require.NoError(t, err)
	require.NoError(t, n.Fit(X, Y))

	curve := n.LossCurve()
	require.Len(t, curve, 40)
	assert.Less(t, curve[len(curve)-1], curve[0])

	pred, err := n.Predict(X)
	require.NoError(t, err)
	require.Len(t, pred, len(X))
	for _, p := range pred {
		assert.Len(t, p, 1)
	}
}

func TestNetwork_Deterministic(t *testing.T) {
	t.Parallel()
	X, Y := sineWindows(24, 4, 2)
	fit := func() [][]float64 {
		n, err := New(WithUnits(4, 3), WithEpochs(3), WithBatchSize(8), WithSeed(5))
		require.NoError(t, err)
		require.NoError(t, n.Fit(X, Y))
		pred, err := n.Predict(X)
		require.NoError(t, err)
		return pred
	}
	assert.Equal(t, fit(), fit())
}

func TestNetwork_PredictChunksMatchRows(t *testing.T) {
	t.Parallel()
	X, Y := sineWindows(37, 5, 3)
	n, err := New(WithUnits(4), WithEpochs(2), WithSeed(1))
	require.NoError(t, err)
	require.NoError(t, n.Fit(X, Y))
	all, err := n.Predict(X)
	require.NoError(t, err)
	for i := range X {
		one, err := n.Predict(X[i : i+1])
		require.NoError(t, err)
		assert.InDelta(t, one[0][0], all[i][0], 1e-12)
	}
}

func TestNetwork_MarshalBinary(t *testing.T) {
	t.Parallel()
	X, Y := sineWindows(16, 3, 4)
	n, err := New(WithUnits(5, 2), WithEpochs(2), WithSeed(8))
	require.NoError(t, err)
	require.NoError(t, n.Fit(X, Y))
	blob, err := n.MarshalBinary()
	require.NoError(t, err)

	restored := &Network{}
	require.NoError(t, restored.UnmarshalBinary(blob))
	want, _ := n.Predict(X)
	got, err := restored.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []int{5, 2}, restored.Units())

	_, err = (&Network{}).MarshalBinary()
	assert.Error(t, err)
	assert.Error(t, restored.UnmarshalBinary([]byte{1, 2, 3}))
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "no_layers", opts: []Option{WithUnits()}},
		{name: "zero_units", opts: []Option{WithUnits(0)}},
		{name: "zero_epochs", opts: []Option{WithEpochs(0)}},
		{name: "zero_batch", opts: []Option{WithBatchSize(0)}},
		{name: "zero_rate", opts: []Option{WithLearningRate(0)}},
		{name: "negative_clip", opts: []Option{WithClip(-1)}},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(test.opts...)
			assert.True(t, errors.Is(err, calerr.ErrConfiguration), "got %v", err)
		})
	}
}

func TestNetwork_FitPredictErrors(t *testing.T) {
	t.Parallel()
	n, err := New(WithUnits(2), WithEpochs(1))
	require.NoError(t, err)

	_, err = n.Predict([][][]float64{{{1}}})
	assert.True(t, errors.Is(err, calerr.ErrModelPredict))

	assert.True(t, errors.Is(n.Fit(nil, nil), calerr.ErrModelFit))
	ragged := [][][]float64{{{1}, {2}}, {{1}}}
	assert.True(t, errors.Is(n.Fit(ragged, [][]float64{{1}, {2}}), calerr.ErrModelFit))
	assert.True(t, errors.Is(n.Fit([][][]float64{{{1}}}, [][]float64{{1}, {2}}), calerr.ErrModelFit))

	require.NoError(t, n.Fit([][][]float64{{{1}, {2}}, {{3}, {4}}}, [][]float64{{1}, {2}}))
	_, err = n.Predict([][][]float64{{{1, 2}, {3, 4}}})
	assert.True(t, errors.Is(err, calerr.ErrModelPredict))
}

func TestNetwork_DivergedFitIsNotFitted(t *testing.T) {
	t.Parallel()
	n, err := New(WithUnits(3), WithEpochs(2), WithSeed(1))
	require.NoError(t, err)
	X, Y := sineWindows(16, 4, 1)
	require.NoError(t, n.Fit(X, Y))
	require.True(t, n.Fitted())

	huge := make([][]float64, len(Y))
	for i := range huge {
		huge[i] = []float64{1e200}
	}
	err = n.Fit(X, huge)
	assert.True(t, errors.Is(err, calerr.ErrModelFit), "got %v", err)
	assert.False(t, n.Fitted())
	_, err = n.Predict(X)
	assert.True(t, errors.Is(err, calerr.ErrModelPredict))
}
