// Package mlp is a feed-forward regressor: ReLU hidden layers, a linear output
// layer and squared-error loss with L2 regularisation, trained in mini-batches.
package mlp

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/go-sod/calib/internal/calerr"
	"github.com/go-sod/calib/internal/model"
	"github.com/go-sod/calib/internal/model/optim"
)

var (
	_ model.Regressor  = (*Network)(nil)
	_ model.Persistent = (*Network)(nil)
)

const (
	defaultBatchSize = 200
	// number of epochs without sufficient loss improvement before stopping
	defaultPatience = 10
)

type Option func(*Network)

func WithHidden(widths ...int) Option {
	return func(n *Network) {
		n.opts.hidden = append([]int(nil), widths...)
	}
}

func WithLearningRate(lr float64) Option {
	return func(n *Network) {
		n.opts.learningRate = lr
	}
}

func WithMaxEpochs(epochs int) Option {
	return func(n *Network) {
		n.opts.maxEpochs = epochs
	}
}

func WithBatchSize(size int) Option {
	return func(n *Network) {
		n.opts.batchSize = size
	}
}

func WithSeed(seed int64) Option {
	return func(n *Network) {
		n.opts.seed = seed
	}
}

func WithAlpha(alpha float64) Option {
	return func(n *Network) {
		n.opts.alpha = alpha
	}
}

func WithSolver(kind optim.Kind) Option {
	return func(n *Network) {
		n.opts.solver = kind
	}
}

// WithTolerance stops training once the epoch loss has not improved by tol
// for patience consecutive epochs. A zero tolerance disables early stopping.
func WithTolerance(tol float64, patience int) Option {
	return func(n *Network) {
		n.opts.tol = tol
		n.opts.patience = patience
	}
}

type options struct {
	hidden       []int
	learningRate float64
	maxEpochs    int
	batchSize    int
	seed         int64
	alpha        float64
	solver       optim.Kind
	tol          float64
	patience     int
}

var defaultOptions = options{
	hidden:       []int{100},
	learningRate: 0.001,
	maxEpochs:    200,
	batchSize:    defaultBatchSize,
	alpha:        0.0001,
	solver:       optim.KindAdam,
	tol:          1e-4,
	patience:     defaultPatience,
}

func New(opts ...Option) (*Network, error) {
	n := &Network{opts: defaultOptions}
	for _, f := range opts {
		f(n)
	}
	if len(n.opts.hidden) == 0 {
		return nil, calerr.Configf("at least one hidden layer is required")
	}
	for _, w := range n.opts.hidden {
		if w < 1 {
			return nil, calerr.Configf("hidden layer width must be positive, got %v", n.opts.hidden)
		}
	}
	if n.opts.maxEpochs < 1 {
		return nil, calerr.Configf("max epochs must be positive, got %d", n.opts.maxEpochs)
	}
	if n.opts.batchSize < 1 {
		return nil, calerr.Configf("batch size must be positive, got %d", n.opts.batchSize)
	}
	if n.opts.alpha < 0 {
		return nil, calerr.Configf("alpha must be non-negative, got %v", n.opts.alpha)
	}
	if _, err := optim.New(n.opts.solver, n.opts.learningRate); err != nil {
		return nil, err
	}
	return n, nil
}

// Network is not safe for concurrent Fit; Predict may be called concurrently
// once Fit has returned.
type Network struct {
	opts options

	sizes   []int
	params  []float64
	weights []*mat.Dense
	biases  [][]float64
	loss    []float64
}

func (n *Network) Hidden() []int {
	return append([]int(nil), n.opts.hidden...)
}

// LossCurve is the mean training loss of every completed epoch.
func (n *Network) LossCurve() []float64 {
	return append([]float64(nil), n.loss...)
}

func (n *Network) Fitted() bool {
	return n.params != nil
}

// Fit trains a fresh network on X and y. Repeated fits with the same seed and
// data produce identical parameters.
func (n *Network) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%w: %d rows for %d targets", calerr.ErrModelFit, len(X), len(y))
	}
	Y := make([][]float64, len(y))
	for i, v := range y {
		Y[i] = []float64{v}
	}
	return n.FitMulti(X, Y)
}

// FitMulti trains on multi-output targets.
func (n *Network) FitMulti(X, Y [][]float64) error {
	if len(X) == 0 || len(X) != len(Y) {
		return fmt.Errorf("%w: %d rows for %d targets", calerr.ErrModelFit, len(X), len(Y))
	}
	if err := rectangular(X); err != nil {
		return fmt.Errorf("%w: inputs: %v", calerr.ErrModelFit, err)
	}
	if err := rectangular(Y); err != nil {
		return fmt.Errorf("%w: targets: %v", calerr.ErrModelFit, err)
	}
	if len(X[0]) == 0 || len(Y[0]) == 0 {
		return fmt.Errorf("%w: empty feature or target vector", calerr.ErrModelFit)
	}

	opt, err := optim.New(n.opts.solver, n.opts.learningRate)
	if err != nil {
		return fmt.Errorf("%w: %v", calerr.ErrModelFit, err)
	}
	rng := rand.New(rand.NewSource(n.opts.seed))
	sizes := append([]int{len(X[0])}, n.opts.hidden...)
	sizes = append(sizes, len(Y[0]))
	n.init(sizes, rng)

	grads := make([]float64, len(n.params))
	gW, gb := bind(sizes, grads)
	batch := min(n.opts.batchSize, len(X))
	order := make([]int, len(X))
	for i := range order {
		order[i] = i
	}

	best, stale := math.Inf(1), 0
	n.loss = n.loss[:0]
	for epoch := 0; epoch < n.opts.maxEpochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		total := 0.0
		for start := 0; start < len(order); start += batch {
			idx := order[start:min(start+batch, len(order))]
			xb, yb := gather(X, idx), gather(Y, idx)
			total += n.lossGrad(xb, yb, gW, gb) * float64(len(idx))
			opt.Step(n.params, grads)
		}
		epochLoss := total / float64(len(order))
		if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
			n.params, n.weights, n.biases = nil, nil, nil
			return fmt.Errorf("%w: loss diverged at epoch %d", calerr.ErrModelFit, epoch)
		}
		n.loss = append(n.loss, epochLoss)

		if n.opts.tol <= 0 {
			continue
		}
		if epochLoss > best-n.opts.tol {
			stale++
		} else {
			stale = 0
		}
		if epochLoss < best {
			best = epochLoss
		}
		if stale >= n.opts.patience {
			break
		}
	}
	return nil
}

func (n *Network) init(sizes []int, rng *rand.Rand) {
	n.sizes = sizes
	n.params = make([]float64, paramCount(sizes))
	n.weights, n.biases = bind(sizes, n.params)
	for l, w := range n.weights {
		bound := math.Sqrt(6 / float64(sizes[l]+sizes[l+1]))
		raw := w.RawMatrix().Data
		for i := range raw {
			raw[i] = (2*rng.Float64() - 1) * bound
		}
		for i := range n.biases[l] {
			n.biases[l][i] = (2*rng.Float64() - 1) * bound
		}
	}
}

func paramCount(sizes []int) int {
	total := 0
	for l := 1; l < len(sizes); l++ {
		total += sizes[l-1]*sizes[l] + sizes[l]
	}
	return total
}

func bind(sizes []int, buf []float64) ([]*mat.Dense, [][]float64) {
	var (
		layout  model.Layout
		weights []*mat.Dense
		biases  [][]float64
	)
	for l := 1; l < len(sizes); l++ {
		weights = append(weights, layout.Matrix(buf, sizes[l-1], sizes[l]))
		biases = append(biases, layout.Vector(buf, sizes[l]))
	}
	return weights, biases
}

// forward returns the activations of every layer (input first) and the
// pre-activations of every non-input layer.
func (n *Network) forward(x *mat.Dense) (acts, pre []*mat.Dense) {
	rows, _ := x.Dims()
	acts = append(acts, x)
	a := x
	last := len(n.weights) - 1
	for l, w := range n.weights {
		_, out := w.Dims()
		z := mat.NewDense(rows, out, nil)
		z.Mul(a, w)
		for i := 0; i < rows; i++ {
			floats.Add(z.RawRowView(i), n.biases[l])
		}
		pre = append(pre, z)
		if l == last {
			a = z
		} else {
			h := mat.NewDense(rows, out, nil)
			h.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, z)
			a = h
		}
		acts = append(acts, a)
	}
	return acts, pre
}

// lossGrad returns the regularised batch loss and writes its gradient into
// gW and gb.
func (n *Network) lossGrad(x, y *mat.Dense, gW []*mat.Dense, gb [][]float64) float64 {
	acts, pre := n.forward(x)
	rows, cols := y.Dims()
	batch := float64(rows)

	delta := mat.NewDense(rows, cols, nil)
	delta.Sub(acts[len(acts)-1], y)
	raw := delta.RawMatrix().Data
	loss := 0.5 * floats.Dot(raw, raw) / batch
	delta.Scale(1/batch, delta)

	for l := len(n.weights) - 1; l >= 0; l-- {
		gW[l].Mul(acts[l].T(), delta)
		if n.opts.alpha > 0 {
			gW[l].Add(gW[l], scaled(n.weights[l], n.opts.alpha/batch))
			w := n.weights[l].RawMatrix().Data
			loss += 0.5 * n.opts.alpha * floats.Dot(w, w) / batch
		}
		for j := range gb[l] {
			gb[l][j] = mat.Sum(delta.ColView(j))
		}
		if l == 0 {
			break
		}
		prev := mat.NewDense(rows, n.sizes[l], nil)
		prev.Mul(delta, n.weights[l].T())
		z := pre[l-1]
		prev.Apply(func(i, j int, v float64) float64 {
			if z.At(i, j) > 0 {
				return v
			}
			return 0
		}, prev)
		delta = prev
	}
	return loss
}

func scaled(m *mat.Dense, s float64) *mat.Dense {
	var out mat.Dense
	out.Scale(s, m)
	return &out
}

// Predict returns one scalar per row. Rows are evaluated in parallel chunks.
func (n *Network) Predict(X [][]float64) ([]float64, error) {
	out, err := n.PredictMulti(X)
	if err != nil {
		return nil, err
	}
	if n.sizes[len(n.sizes)-1] != 1 {
		return nil, fmt.Errorf("%w: network has %d outputs", calerr.ErrModelPredict, n.sizes[len(n.sizes)-1])
	}
	y := make([]float64, len(out))
	for i := range out {
		y[i] = out[i][0]
	}
	return y, nil
}

func (n *Network) PredictMulti(X [][]float64) ([][]float64, error) {
	if !n.Fitted() {
		return nil, fmt.Errorf("%w: network is not fitted", calerr.ErrModelPredict)
	}
	for i, row := range X {
		if len(row) != n.sizes[0] {
			return nil, fmt.Errorf("%w: row %d has %d features, expected %d",
				calerr.ErrModelPredict, i, len(row), n.sizes[0])
		}
	}
	out := make([][]float64, len(X))
	err := model.Chunks(len(X), func(start, end int) error {
		acts, _ := n.forward(model.Dense(X[start:end]))
		last := acts[len(acts)-1]
		for i := start; i < end; i++ {
			out[i] = mat.Row(nil, i-start, last)
		}
		return nil
	})
	return out, err
}

type snapshot struct {
	Sizes  []int
	Params []float64
	Loss   []float64
	Hidden []int
}

func (n *Network) MarshalBinary() ([]byte, error) {
	if !n.Fitted() {
		return nil, fmt.Errorf("network is not fitted")
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot{
		Sizes:  n.sizes,
		Params: n.params,
		Loss:   n.loss,
		Hidden: n.opts.hidden,
	}); err != nil {
		return nil, fmt.Errorf("encode network: %w", err)
	}
	return buf.Bytes(), nil
}

func (n *Network) UnmarshalBinary(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode network: %w", err)
	}
	if len(s.Sizes) < 2 || paramCount(s.Sizes) != len(s.Params) {
		return fmt.Errorf("decode network: %d parameters for layer sizes %v", len(s.Params), s.Sizes)
	}
	n.sizes, n.params, n.loss = s.Sizes, s.Params, s.Loss
	n.opts.hidden = s.Hidden
	n.weights, n.biases = bind(n.sizes, n.params)
	return nil
}

func gather(rows [][]float64, idx []int) *mat.Dense {
	m := mat.NewDense(len(idx), len(rows[0]), nil)
	for k, i := range idx {
		m.SetRow(k, rows[i])
	}
	return m
}

func rectangular(rows [][]float64) error {
	for i := range rows {
		if len(rows[i]) != len(rows[0]) {
			return fmt.Errorf("row %d has %d values, row 0 has %d", i, len(rows[i]), len(rows[0]))
		}
	}
	return nil
}
