package compute

import (
	"fmt"
	"math"
)

// Optimizer applies the gradients accumulated by the model's last
// training-mode Forward. Only the train-pass runner ever calls Step.
type Optimizer interface {
	Step() error
	LearningRate() float64
	SetLearningRate(lr float64)
}

// NewOptimizer builds the optimizer for a validated id.
func NewOptimizer(name string, model *Model, lr float64) (Optimizer, error) {
	switch name {
	case "adam":
		return newAdam(model, lr), nil
	case "rmsprop":
		return newRMSprop(model, lr), nil
	default:
		return nil, fmt.Errorf("unsupported optimizer %q", name)
	}
}

type adam struct {
	model *Model
	lr    float64

	beta1, beta2 float64
	eps          float64
	t            int
	mW, vW       []float64
	mB, vB       float64
}

func newAdam(model *Model, lr float64) *adam {
	n := len(model.weights)
	return &adam{
		model: model,
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		mW:    make([]float64, n),
		vW:    make([]float64, n),
	}
}

func (a *adam) Step() error {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))

	m := a.model
	for i, g := range m.gradW {
		a.mW[i] = a.beta1*a.mW[i] + (1-a.beta1)*g
		a.vW[i] = a.beta2*a.vW[i] + (1-a.beta2)*g*g
		m.weights[i] -= a.lr * (a.mW[i] / c1) / (math.Sqrt(a.vW[i]/c2) + a.eps)
	}
	a.mB = a.beta1*a.mB + (1-a.beta1)*m.gradB
	a.vB = a.beta2*a.vB + (1-a.beta2)*m.gradB*m.gradB
	m.bias -= a.lr * (a.mB / c1) / (math.Sqrt(a.vB/c2) + a.eps)
	return nil
}

func (a *adam) LearningRate() float64 {
	return a.lr
}

func (a *adam) SetLearningRate(lr float64) {
	a.lr = lr
}

type rmsprop struct {
	model *Model
	lr    float64

	alpha float64
	eps   float64
	sqW   []float64
	sqB   float64
}

func newRMSprop(model *Model, lr float64) *rmsprop {
	return &rmsprop{
		model: model,
		lr:    lr,
		alpha: 0.99,
		eps:   1e-8,
		sqW:   make([]float64, len(model.weights)),
	}
}

func (r *rmsprop) Step() error {
	m := r.model
	for i, g := range m.gradW {
		r.sqW[i] = r.alpha*r.sqW[i] + (1-r.alpha)*g*g
		m.weights[i] -= r.lr * g / (math.Sqrt(r.sqW[i]) + r.eps)
	}
	r.sqB = r.alpha*r.sqB + (1-r.alpha)*m.gradB*m.gradB
	m.bias -= r.lr * m.gradB / (math.Sqrt(r.sqB) + r.eps)
	return nil
}

func (r *rmsprop) LearningRate() float64 {
	return r.lr
}

func (r *rmsprop) SetLearningRate(lr float64) {
	r.lr = lr
}
