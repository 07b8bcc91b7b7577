// Package optim holds first-order optimisers that update a flat parameter
// buffer in place.
package optim

import (
	"math"

	"github.com/go-sod/calib/internal/calerr"
)

type Kind string

const (
	KindAdam Kind = "ADAM"
	KindSGD  Kind = "SGD"
)

// Decode implements envconfig.Decoder.
func (k *Kind) Decode(value string) error {
	switch Kind(value) {
	case KindAdam, KindSGD:
		*k = Kind(value)
		return nil
	default:
		return calerr.Configf("unknown optimizer %q", value)
	}
}

type Optimizer interface {
	Step(params, grads []float64)
}

func New(kind Kind, lr float64) (Optimizer, error) {
	if lr <= 0 || math.IsNaN(lr) || math.IsInf(lr, 0) {
		return nil, calerr.Configf("learning rate must be positive, got %v", lr)
	}
	switch kind {
	case KindAdam:
		return NewAdam(lr), nil
	case KindSGD:
		return NewSGD(lr), nil
	default:
		return nil, calerr.Configf("unknown optimizer %q", kind)
	}
}

// SGD is plain stochastic gradient descent.
type SGD struct{ LearningRate float64 }

func NewSGD(lr float64) *SGD { return &SGD{LearningRate: lr} }

func (o *SGD) Step(params, grads []float64) {
	for i := range params {
		params[i] -= o.LearningRate * grads[i]
	}
}

// Adam keeps bias-corrected first and second moment estimates per parameter.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	m, v []float64
	t    int
}

func NewAdam(lr float64) *Adam {
	return &Adam{LearningRate: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

func (o *Adam) Step(params, grads []float64) {
	if len(o.m) != len(params) {
		o.m = make([]float64, len(params))
		o.v = make([]float64, len(params))
		o.t = 0
	}
	o.t++
	lr := o.LearningRate * math.Sqrt(1-math.Pow(o.Beta2, float64(o.t))) / (1 - math.Pow(o.Beta1, float64(o.t)))
	for i, g := range grads {
		o.m[i] = o.Beta1*o.m[i] + (1-o.Beta1)*g
		o.v[i] = o.Beta2*o.v[i] + (1-o.Beta2)*g*g
		params[i] -= lr * o.m[i] / (math.Sqrt(o.v[i]) + o.Epsilon)
	}
}
