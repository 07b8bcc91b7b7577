// Package lstm is a stacked LSTM sequence regressor. Each window is read step
// by step through every recurrent layer and the last hidden state of the top
// layer feeds a dense head that emits one output vector per window.
package lstm

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
	_ model.SequenceRegressor = (*Network)(nil)
	_ model.Persistent        = (*Network)(nil)
)

type Option func(*Network)

// WithUnits sets the hidden size of every recurrent layer, bottom first.
func WithUnits(units ...int) Option {
	return func(n *Network) {
		n.opts.units = append([]int(nil), units...)
	}
}

func WithLearningRate(lr float64) Option {
	return func(n *Network) {
		n.opts.learningRate = lr
	}
}

func WithEpochs(epochs int) Option {
	return func(n *Network) {
		n.opts.epochs = epochs
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

func WithSolver(kind optim.Kind) Option {
	return func(n *Network) {
		n.opts.solver = kind
	}
}

// WithClip rescales the gradient whenever its L2 norm exceeds clip. Zero
// disables clipping.
func WithClip(clip float64) Option {
	return func(n *Network) {
		n.opts.clip = clip
	}
}

type options struct {
	units        []int
	learningRate float64
	epochs       int
	batchSize    int
	seed         int64
	solver       optim.Kind
	clip         float64
}

var defaultOptions = options{
	units:        []int{64, 32},
	learningRate: 0.001,
	epochs:       50,
	batchSize:    32,
	solver:       optim.KindAdam,
	clip:         5,
}

func New(opts ...Option) (*Network, error) {
	n := &Network{opts: defaultOptions}
	for _, f := range opts {
		f(n)
	}
	if len(n.opts.units) == 0 {
		return nil, calerr.Configf("at least one recurrent layer is required")
	}
	for _, u := range n.opts.units {
		if u < 1 {
			return nil, calerr.Configf("layer units must be positive, got %v", n.opts.units)
		}
	}
	if n.opts.epochs < 1 {
		return nil, calerr.Configf("epochs must be positive, got %d", n.opts.epochs)
	}
	if n.opts.batchSize < 1 {
		return nil, calerr.Configf("batch size must be positive, got %d", n.opts.batchSize)
	}
	if n.opts.clip < 0 {
		return nil, calerr.Configf("gradient clip must be non-negative, got %v", n.opts.clip)
	}
	if _, err := optim.New(n.opts.solver, n.opts.learningRate); err != nil {
		return nil, err
	}
	return n, nil
}

type layer struct {
	in, hidden int
	// gate order in the 4*hidden columns: input, forget, cell, output
	wx *mat.Dense
	wh *mat.Dense
	b  []float64
}

type Network struct {
	opts options

	features int
	outputs  int
	params   []float64
	layers   []layer
	wy       *mat.Dense
	by       []float64
	loss     []float64
}

func (n *Network) Units() []int {
	return append([]int(nil), n.opts.units...)
}

func (n *Network) LossCurve() []float64 {
	return append([]float64(nil), n.loss...)
}

func (n *Network) Fitted() bool {
	return n.params != nil
}

func bind(features int, units []int, outputs int, buf []float64) ([]layer, *mat.Dense, []float64) {
	var layout model.Layout
	layers := make([]layer, len(units))
	in := features
	for l, h := range units {
		layers[l] = layer{
			in:     in,
			hidden: h,
			wx:     layout.Matrix(buf, in, 4*h),
			wh:     layout.Matrix(buf, h, 4*h),
			b:      layout.Vector(buf, 4*h),
		}
		in = h
	}
	wy := layout.Matrix(buf, in, outputs)
	by := layout.Vector(buf, outputs)
	return layers, wy, by
}

func paramCount(features int, units []int, outputs int) int {
	total, in := 0, features
	for _, h := range units {
		total += in*4*h + h*4*h + 4*h
		in = h
	}
	return total + in*outputs + outputs
}

func (n *Network) init(features, outputs int, rng *rand.Rand) {
	n.features, n.outputs = features, outputs
	n.params = make([]float64, paramCount(features, n.opts.units, outputs))
	n.layers, n.wy, n.by = bind(features, n.opts.units, outputs, n.params)
	for _, ly := range n.layers {
		bound := 1 / math.Sqrt(float64(ly.hidden))
		uniform(rng, ly.wx.RawMatrix().Data, bound)
		uniform(rng, ly.wh.RawMatrix().Data, bound)
		uniform(rng, ly.b, bound)
		for j := ly.hidden; j < 2*ly.hidden; j++ {
			ly.b[j] += 1
		}
	}
	top := n.opts.units[len(n.opts.units)-1]
	uniform(rng, n.wy.RawMatrix().Data, math.Sqrt(6/float64(top+outputs)))
}

func uniform(rng *rand.Rand, data []float64, bound float64) {
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * bound
	}
}

// step caches one time step of one layer for backpropagation.
type step struct {
	gates *mat.Dense
	cPrev *mat.Dense
	hPrev *mat.Dense
	tanhC *mat.Dense
	h     *mat.Dense
}

type trace struct {
	inputs [][]*mat.Dense
	steps  [][]step
	out    *mat.Dense
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// forward runs a batch given as one (batch x features) matrix per time step.
func (n *Network) forward(xs []*mat.Dense) *trace {
	batch, _ := xs[0].Dims()
	tr := &trace{
		inputs: make([][]*mat.Dense, len(n.layers)),
		steps:  make([][]step, len(n.layers)),
	}
	input := xs
	for l, ly := range n.layers {
		hs := ly.hidden
		hPrev := mat.NewDense(batch, hs, nil)
		cPrev := mat.NewDense(batch, hs, nil)
		steps := make([]step, len(xs))
		outs := make([]*mat.Dense, len(xs))
		for t := range xs {
			z := mat.NewDense(batch, 4*hs, nil)
			z.Mul(input[t], ly.wx)
			var zh mat.Dense
			zh.Mul(hPrev, ly.wh)
			z.Add(z, &zh)

			c := mat.NewDense(batch, hs, nil)
			tc := mat.NewDense(batch, hs, nil)
			h := mat.NewDense(batch, hs, nil)
			for b := 0; b < batch; b++ {
				row := z.RawRowView(b)
				floats.Add(row, ly.b)
				for j := 0; j < hs; j++ {
					i := sigmoid(row[j])
					f := sigmoid(row[hs+j])
					g := math.Tanh(row[2*hs+j])
					o := sigmoid(row[3*hs+j])
					row[j], row[hs+j], row[2*hs+j], row[3*hs+j] = i, f, g, o

					cv := f*cPrev.At(b, j) + i*g
					tcv := math.Tanh(cv)
					c.Set(b, j, cv)
					tc.Set(b, j, tcv)
					h.Set(b, j, o*tcv)
				}
			}
			steps[t] = step{gates: z, cPrev: cPrev, hPrev: hPrev, tanhC: tc, h: h}
			outs[t] = h
			hPrev, cPrev = h, c
		}
		tr.inputs[l] = input
		tr.steps[l] = steps
		input = outs
	}

	last := input[len(input)-1]
	out := mat.NewDense(batch, n.outputs, nil)
	out.Mul(last, n.wy)
	for b := 0; b < batch; b++ {
		floats.Add(out.RawRowView(b), n.by)
	}
	tr.out = out
	return tr
}

// lossGrad returns the batch loss and overwrites grads with its gradient.
func (n *Network) lossGrad(xs []*mat.Dense, y *mat.Dense, grads []float64) float64 {
	for i := range grads {
		grads[i] = 0
	}
	gLayers, gWy, gBy := bind(n.features, n.opts.units, n.outputs, grads)

	tr := n.forward(xs)
	batch, outputs := y.Dims()
	delta := mat.NewDense(batch, outputs, nil)
	delta.Sub(tr.out, y)
	raw := delta.RawMatrix().Data
	loss := 0.5 * floats.Dot(raw, raw) / float64(batch)
	delta.Scale(1/float64(batch), delta)

	top := len(n.layers) - 1
	steps := len(xs)
	gWy.Mul(tr.steps[top][steps-1].h.T(), delta)
	colSum(delta, gBy)

	dOut := make([]*mat.Dense, steps)
	dTop := mat.NewDense(batch, n.layers[top].hidden, nil)
	dTop.Mul(delta, n.wy.T())
	dOut[steps-1] = dTop

	for l := top; l >= 0; l-- {
		ly, gl := n.layers[l], gLayers[l]
		hs := ly.hidden
		dhNext := mat.NewDense(batch, hs, nil)
		dcNext := mat.NewDense(batch, hs, nil)
		dBelow := make([]*mat.Dense, steps)
		for t := steps - 1; t >= 0; t-- {
			s := tr.steps[l][t]
			dz := mat.NewDense(batch, 4*hs, nil)
			for b := 0; b < batch; b++ {
				gate := s.gates.RawRowView(b)
				dzr := dz.RawRowView(b)
				for j := 0; j < hs; j++ {
					dh := dhNext.At(b, j)
					if dOut[t] != nil {
						dh += dOut[t].At(b, j)
					}
					i, f, g, o := gate[j], gate[hs+j], gate[2*hs+j], gate[3*hs+j]
					tc := s.tanhC.At(b, j)

					dc := dcNext.At(b, j) + dh*o*(1-tc*tc)
					dcNext.Set(b, j, dc*f)

					dzr[j] = dc * g * i * (1 - i)
					dzr[hs+j] = dc * s.cPrev.At(b, j) * f * (1 - f)
					dzr[2*hs+j] = dc * i * (1 - g*g)
					dzr[3*hs+j] = dh * tc * o * (1 - o)
				}
			}

			var gx, gh mat.Dense
			gx.Mul(tr.inputs[l][t].T(), dz)
			gl.wx.Add(gl.wx, &gx)
			gh.Mul(s.hPrev.T(), dz)
			gl.wh.Add(gl.wh, &gh)
			for j := range gl.b {
				gl.b[j] += mat.Sum(dz.ColView(j))
			}

			next := mat.NewDense(batch, hs, nil)
			next.Mul(dz, ly.wh.T())
			dhNext = next
			if l > 0 {
				dx := mat.NewDense(batch, ly.in, nil)
				dx.Mul(dz, ly.wx.T())
				dBelow[t] = dx
			}
		}
		dOut = dBelow
	}
	return loss
}

func colSum(m *mat.Dense, dst []float64) {
	for j := range dst {
		dst[j] = mat.Sum(m.ColView(j))
	}
}

// Fit trains a fresh network on windows X and one target vector per window.
func (n *Network) Fit(X [][][]float64, Y [][]float64) error {
	steps, features, err := shape(X)
	if err != nil {
		return fmt.Errorf("%w: %v", calerr.ErrModelFit, err)
	}
	if len(Y) != len(X) {
		return fmt.Errorf("%w: %d windows for %d targets", calerr.ErrModelFit, len(X), len(Y))
	}
	outputs := len(Y[0])
	for i := range Y {
		if len(Y[i]) != outputs || outputs == 0 {
			return fmt.Errorf("%w: target %d has %d values", calerr.ErrModelFit, i, len(Y[i]))
		}
	}

	opt, err := optim.New(n.opts.solver, n.opts.learningRate)
	if err != nil {
		return fmt.Errorf("%w: %v", calerr.ErrModelFit, err)
	}
	rng := rand.New(rand.NewSource(n.opts.seed))
	n.init(features, outputs, rng)

	grads := make([]float64, len(n.params))
	batch := min(n.opts.batchSize, len(X))
	order := make([]int, len(X))
	for i := range order {
		order[i] = i
	}
	n.loss = n.loss[:0]
	for epoch := 0; epoch < n.opts.epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		total := 0.0
		for start := 0; start < len(order); start += batch {
			idx := order[start:min(start+batch, len(order))]
			xs := stepMatrices(X, idx, steps, features)
			yb := mat.NewDense(len(idx), outputs, nil)
			for k, i := range idx {
				yb.SetRow(k, Y[i])
			}
			total += n.lossGrad(xs, yb, grads) * float64(len(idx))
			if n.opts.clip > 0 {
				if norm := floats.Norm(grads, 2); norm > n.opts.clip {
					floats.Scale(n.opts.clip/norm, grads)
				}
			}
			opt.Step(n.params, grads)
		}
		epochLoss := total / float64(len(order))
		if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
			n.params, n.layers = nil, nil
			return fmt.Errorf("%w: loss diverged at epoch %d", calerr.ErrModelFit, epoch)
		}
		n.loss = append(n.loss, epochLoss)
	}
	return nil
}

// Predict returns one output vector per window. Windows are evaluated in
// parallel chunks.
func (n *Network) Predict(X [][][]float64) ([][]float64, error) {
	if !n.Fitted() {
		return nil, fmt.Errorf("%w: network is not fitted", calerr.ErrModelPredict)
	}
	if len(X) == 0 {
		return nil, nil
	}
	steps, features, err := shape(X)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", calerr.ErrModelPredict, err)
	}
	if features != n.features {
		return nil, fmt.Errorf("%w: windows have %d features, expected %d", calerr.ErrModelPredict, features, n.features)
	}
	out := make([][]float64, len(X))
	err = model.Chunks(len(X), func(start, end int) error {
		idx := make([]int, end-start)
		for k := range idx {
			idx[k] = start + k
		}
		tr := n.forward(stepMatrices(X, idx, steps, features))
		for k, i := range idx {
			out[i] = mat.Row(nil, k, tr.out)
		}
		return nil
	})
	return out, err
}

// stepMatrices lays the selected windows out as one matrix per time step.
func stepMatrices(X [][][]float64, idx []int, steps, features int) []*mat.Dense {
	xs := make([]*mat.Dense, steps)
	for t := range xs {
		m := mat.NewDense(len(idx), features, nil)
		for k, i := range idx {
			m.SetRow(k, X[i][t])
		}
		xs[t] = m
	}
	return xs
}

func shape(X [][][]float64) (steps, features int, err error) {
	if len(X) == 0 || len(X[0]) == 0 || len(X[0][0]) == 0 {
		return 0, 0, fmt.Errorf("empty window batch")
	}
	steps, features = len(X[0]), len(X[0][0])
	for i, w := range X {
		if len(w) != steps {
			return 0, 0, fmt.Errorf("window %d has %d steps, expected %d", i, len(w), steps)
		}
		for t, row := range w {
			if len(row) != features {
				return 0, 0, fmt.Errorf("window %d step %d has %d features, expected %d", i, t, len(row), features)
			}
		}
	}
	return steps, features, nil
}

type snapshot struct {
	Features int
	Outputs  int
	Units    []int
	Params   []float64
	Loss     []float64
}

func (n *Network) MarshalBinary() ([]byte, error) {
	if !n.Fitted() {
		return nil, fmt.Errorf("network is not fitted")
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot{
		Features: n.features,
		Outputs:  n.outputs,
		Units:    n.opts.units,
		Params:   n.params,
		Loss:     n.loss,
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
	if len(s.Units) == 0 || paramCount(s.Features, s.Units, s.Outputs) != len(s.Params) {
		return fmt.Errorf("decode network: %d parameters for units %v", len(s.Params), s.Units)
	}
	n.opts.units = s.Units
	n.features, n.outputs = s.Features, s.Outputs
	n.params, n.loss = s.Params, s.Loss
	n.layers, n.wy, n.by = bind(n.features, n.opts.units, n.outputs, n.params)
	return nil
}
