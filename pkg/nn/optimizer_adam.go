package nn

import (
	"math"

	"happyml/pkg/tensor"
)

// AdamOptimizer implements the standard bias-corrected Adam update. No
// adam_optimizer.hpp survived the retrieval filter that produced
// original_source/ (only referenced by optimizer_factory.hpp), so this is
// built directly from spec §4.4's formula rather than a specific source
// file: β1=0.9, β2=0.999, ε=1e-8.
type AdamOptimizer struct {
	lr, biasLR   float64
	beta1, beta2 float64
	epsilon      float64
	nextID       int
	timeStep     map[int]int

	firstMoment  map[int]tensor.Tensor
	secondMoment map[int]tensor.Tensor
}

func NewAdamOptimizer(lr, biasLR float64) *AdamOptimizer {
	return &AdamOptimizer{
		lr: lr, biasLR: biasLR,
		beta1: 0.9, beta2: 0.999, epsilon: 1e-8,
		timeStep:     map[int]int{},
		firstMoment:  map[int]tensor.Tensor{},
		secondMoment: map[int]tensor.Tensor{},
	}
}

func (o *AdamOptimizer) RegisterWeights() int { id := o.nextID; o.nextID++; return id }
func (o *AdamOptimizer) RegisterBias() int    { id := o.nextID; o.nextID++; return id }

func (o *AdamOptimizer) UpdateWeights(id int, current, gradient tensor.Tensor) (tensor.Tensor, error) {
	return o.update(id, current, gradient, o.lr)
}

func (o *AdamOptimizer) UpdateBias(id int, current, gradient tensor.Tensor) (tensor.Tensor, error) {
	return o.update(id, current, gradient, o.biasLR)
}

func (o *AdamOptimizer) update(id int, current, gradient tensor.Tensor, lr float64) (tensor.Tensor, error) {
	shape := current.Shape()
	o.timeStep[id]++
	t := float64(o.timeStep[id])

	m, ok := o.firstMoment[id]
	if !ok {
		m = tensor.NewUniformTensor(shape, 0)
	}
	v, ok := o.secondMoment[id]
	if !ok {
		v = tensor.NewUniformTensor(shape, 0)
	}

	beta1, beta2 := float32(o.beta1), float32(o.beta2)
	newM := tensor.NewF32Tensor(elementwiseApply(shape, m, gradient, func(prev, g float32) float32 {
		return beta1*prev + (1-beta1)*g
	}))
	newV := tensor.NewF32Tensor(elementwiseApply(shape, v, gradient, func(prev, g float32) float32 {
		return beta2*prev + (1-beta2)*g*g
	}))
	o.firstMoment[id] = newM
	o.secondMoment[id] = newV

	biasCorrection1 := 1 - math.Pow(o.beta1, t)
	biasCorrection2 := 1 - math.Pow(o.beta2, t)
	epsilon := float32(o.epsilon)
	lrf := float32(lr)
	bc1 := float32(biasCorrection1)
	bc2 := float32(biasCorrection2)

	result := tensor.NewFromFunctionTensor(shape, func(r, c, ch int) float32 {
		mHat := newM.ValueAt(r, c, ch) / bc1
		vHat := newV.ValueAt(r, c, ch) / bc2
		return current.ValueAt(r, c, ch) - lrf*mHat/(float32(math.Sqrt(float64(vHat)))+epsilon)
	})
	return result, nil
}

func (o *AdamOptimizer) LearningRate() float64     { return o.lr }
func (o *AdamOptimizer) BiasLearningRate() float64 { return o.biasLR }
