package mlp

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/internal/model/optim"
)

func linearData(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		x0, x1 := 2*rng.Float64()-1, 2*rng.Float64()-1
		X[i] = []float64{x0, x1}
		y[i] = 2*x0 - x1 + 0.5
	}
	return X, y
}

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	return m
}

func TestNetwork_GradientCheck(t *testing.T) {
	t.Parallel()
	n, err := New(WithAlpha(0.01))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	sizes := []int{3, 4, 3, 2}
	n.init(sizes, rng)
	x, y := randomDense(rng, 5, 3), randomDense(rng, 5, 2)

	grads := make([]float64, len(n.params))
	gW, gb := bind(sizes, grads)
	n.lossGrad(x, y, gW, gb)

	scratch := make([]float64, len(n.params))
	sW, sb := bind(sizes, scratch)
	const h = 1e-6
	for i := range n.params {
		orig := n.params[i]
		n.params[i] = orig + h
		plus := n.lossGrad(x, y, sW, sb)
		n.params[i] = orig - h
		minus := n.lossGrad(x, y, sW, sb)
		n.params[i] = orig
		numeric := (plus - minus) / (2 * h)
		tol := 1e-6 + 1e-4*math.Max(math.Abs(numeric), math.Abs(grads[i]))
		assert.InDelta(t, numeric, grads[i], tol, "parameter %d", i)
	}
}

func TestNetwork_LearnsLinearMap(t *testing.T) {
	t.Parallel()
	X, y := linearData(256, 1)
	n, err := New(
		WithHidden(16),
		WithLearningRate(0.01),
		WithMaxEpochs(300),
		WithBatchSize(32),
		WithTolerance(0, 0),
		WithSeed(7),
	)
	require.NoError(t, err)
	require.NoError(t, n.Fit(X, y))

	curve := n.LossCurve()
	require.Len(t, curve, 300)
	assert.Less(t, curve[len(curve)-1], curve[0])

	Xt, yt := linearData(64, 2)
	pred, err := n.Predict(Xt)
	require.NoError(t, err)
	var sse float64
	for i := range pred {
		sse += (pred[i] - yt[i]) * (pred[i] - yt[i])
	}
	assert.Less(t, math.Sqrt(sse/float64(len(pred))), 0.1)
}

func TestNetwork_Deterministic(t *testing.T) {
	t.Parallel()
	X, y := linearData(64, 3)
	fit := func() []float64 {
		n, err := New(WithHidden(8, 4), WithLearningRate(0.01), WithMaxEpochs(20), WithBatchSize(16), WithSeed(11))
		require.NoError(t, err)
		require.NoError(t, n.Fit(X, y))
		pred, err := n.Predict(X)
		require.NoError(t, err)
		return pred
	}
	assert.Equal(t, fit(), fit())
}

func TestNetwork_EarlyStopping(t *testing.T) {
	t.Parallel()
	X, y := linearData(32, 4)
	n, err := New(WithHidden(4), WithMaxEpochs(1000), WithTolerance(10, 3), WithSeed(1))
	require.NoError(t, err)
	require.NoError(t, n.Fit(X, y))
	assert.Len(t, n.LossCurve(), 4)
}

func TestNetwork_PredictChunksMatchRows(t *testing.T) {
	t.Parallel()
	X, y := linearData(97, 5)
	n, err := New(WithHidden(5), WithMaxEpochs(5), WithSeed(2), WithSolver(optim.KindSGD), WithLearningRate(0.05))
	require.NoError(t, err)
	require.NoError(t, n.Fit(X, y))
	all, err := n.Predict(X)
	require.NoError(t, err)
	for i := range X {
		one, err := n.Predict(X[i : i+1])
		require.NoError(t, err)
		assert.InDelta(t, one[0], all[i], 1e-12)
	}
}

func TestNetwork_MarshalBinary(t *testing.T) {
	t.Parallel()
	X, y := linearData(40, 6)
	n, err := New(WithHidden(6, 3), WithMaxEpochs(10), WithSeed(9))
	require.NoError(t, err)
	require.NoError(t, n.Fit(X, y))
	blob, err := n.MarshalBinary()
	require.NoError(t, err)

	restored := &Network{}
	require.NoError(t, restored.UnmarshalBinary(blob))
	want, _ := n.Predict(X)
	got, err := restored.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []int{6, 3}, restored.Hidden())

	_, err = (&Network{}).MarshalBinary()
	assert.Error(t, err)
	assert.Error(t, restored.UnmarshalBinary([]byte("garbage")))
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "no_hidden", opts: []Option{WithHidden()}},
		{name: "zero_width", opts: []Option{WithHidden(4, 0)}},
		{name: "zero_epochs", opts: []Option{WithMaxEpochs(0)}},
		{name: "zero_batch", opts: []Option{WithBatchSize(0)}},
		{name: "negative_rate", opts: []Option{WithLearningRate(-1)}},
		{name: "negative_alpha", opts: []Option{WithAlpha(-1)}},
		{name: "unknown_solver", opts: []Option{WithSolver("LBFGS")}},
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
	n, err := New(WithHidden(2), WithMaxEpochs(1))
	require.NoError(t, err)

	_, err = n.Predict([][]float64{{1, 2}})
	assert.True(t, errors.Is(err, calerr.ErrModelPredict))

	assert.True(t, errors.Is(n.Fit([][]float64{{1}, {2}}, []float64{1}), calerr.ErrModelFit))
	assert.True(t, errors.Is(n.Fit(nil, nil), calerr.ErrModelFit))
	assert.True(t, errors.Is(n.Fit([][]float64{{1, 2}, {1}}, []float64{1, 2}), calerr.ErrModelFit))

	require.NoError(t, n.Fit([][]float64{{1, 2}, {3, 4}}, []float64{1, 2}))
	_, err = n.Predict([][]float64{{1, 2, 3}})
	assert.True(t, errors.Is(err, calerr.ErrModelPredict))
}

func TestNetwork_DivergedFitIsNotFitted(t *testing.T) {
	t.Parallel()
	n, err := New(WithHidden(3), WithMaxEpochs(3), WithSeed(1))
	require.NoError(t, err)
	X, y := linearData(20, 1)
	require.NoError(t, n.Fit(X, y))
	require.True(t, n.Fitted())

	huge := make([]float64, len(y))
	for i := range huge {
		huge[i] = 1e200
	}
	err = n.Fit(X, huge)
	assert.True(t, errors.Is(err, calerr.ErrModelFit), "got %v", err)
	assert.False(t, n.Fitted())
	_, err = n.Predict(X)
	assert.True(t, errors.Is(err, calerr.ErrModelPredict))
}
