package nn

import (
	"math"

	"happyml/pkg/tensor"
)

// SGDMOptimizer is SGD with momentum and an optional DEMON-style adaptive
// learning rate decay. Grounded on
// original_source/src/ml/sgdm_optimizer.hpp.
type SGDMOptimizer struct {
	lr, biasLR     float64
	useDecay       bool
	nextID         int
	momentumFactor float64
	beta1, beta2   float64
	epsilon        float64
	timeStep       int

	weightMomentum map[int]tensor.Tensor
	biasMomentum   map[int]tensor.Tensor
}

const (
	demonMinLR = 1e-5
	demonMaxLR = 1e-1
)

func NewSGDMOptimizer(lr, biasLR float64, useDecayMomentum bool) *SGDMOptimizer {
	return &SGDMOptimizer{
		lr: lr, biasLR: biasLR, useDecay: useDecayMomentum,
		momentumFactor: 0.9, beta1: 0.9, beta2: 0.999, epsilon: 1e-8,
		weightMomentum: map[int]tensor.Tensor{},
		biasMomentum:   map[int]tensor.Tensor{},
	}
}

func (o *SGDMOptimizer) RegisterWeights() int { id := o.nextID; o.nextID++; return id }
func (o *SGDMOptimizer) RegisterBias() int    { id := o.nextID; o.nextID++; return id }

func (o *SGDMOptimizer) UpdateWeights(id int, current, gradient tensor.Tensor) (tensor.Tensor, error) {
	o.timeStep++
	newMomentum := o.advanceMomentum(o.weightMomentum, id, current.Shape(), gradient, o.lr)
	updated := elementwiseApply(current.Shape(), current, newMomentum, func(w, m float32) float32 { return w - m })
	if o.useDecay {
		o.lr = o.demonAdjustedLearningRate(o.weightMomentum)
	}
	return updated, nil
}

func (o *SGDMOptimizer) UpdateBias(id int, current, gradient tensor.Tensor) (tensor.Tensor, error) {
	o.timeStep++
	newMomentum := o.advanceMomentum(o.biasMomentum, id, current.Shape(), gradient, o.biasLR)
	updated := elementwiseApply(current.Shape(), current, newMomentum, func(b, m float32) float32 { return b - m })
	if o.useDecay {
		o.biasLR = o.demonAdjustedLearningRate(o.biasMomentum)
	}
	return updated, nil
}

func (o *SGDMOptimizer) advanceMomentum(store map[int]tensor.Tensor, id int, shape tensor.Shape, gradient tensor.Tensor, lr float64) tensor.Tensor {
	prev, ok := store[id]
	if !ok {
		prev = tensor.NewUniformTensor(shape, 0)
	}
	momentumFactor := float32(o.momentumFactor)
	lrf := float32(lr)
	next := elementwiseApply(shape, prev, gradient, func(m, g float32) float32 {
		return m*momentumFactor + g*lrf
	})
	materialized := tensor.NewF32Tensor(next)
	store[id] = materialized
	return materialized
}

// demonAdjustedLearningRate reproduces SGDMOptimizer::calculateDemonAdjustedLearnRate.
func (o *SGDMOptimizer) demonAdjustedLearningRate(store map[int]tensor.Tensor) float64 {
	mAverage := arithmeticMeanOfAll(store)

	beta1Pow := math.Pow(o.beta1, float64(o.timeStep))
	inverseComplementBeta1 := clamp(1.0/(1.0-beta1Pow), demonMinLR, demonMaxLR)
	mHatAverage := mAverage * inverseComplementBeta1

	beta2Pow := math.Pow(o.beta2, float64(o.timeStep))
	inverseComplementBeta2 := 1.0 / (1.0 - beta2Pow)
	vHatAverage := mAverage * mAverage * inverseComplementBeta2

	demon := mHatAverage / (math.Sqrt(vHatAverage) + o.epsilon)
	return clamp(demon, demonMinLR, demonMaxLR)
}

func arithmeticMeanOfAll(store map[int]tensor.Tensor) float64 {
	if len(store) == 0 {
		return 0
	}
	var sum float64
	for _, t := range store {
		sum += arithmeticMean(t)
	}
	return sum / float64(len(store))
}

// arithmeticMean computes a running average over all cells, accumulating
// sequentially to avoid the overflow a naive sum could hit on large
// tensors, grounded on original_source/src/types/tensor.hpp's
// arithmeticMean().
func arithmeticMean(t tensor.Tensor) float64 {
	s := t.Shape()
	var avg float64
	index := 0
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				index++
				avg += (float64(t.ValueAt(r, c, ch)) - avg) / float64(index)
			}
		}
	}
	return avg
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (o *SGDMOptimizer) LearningRate() float64     { return o.lr }
func (o *SGDMOptimizer) BiasLearningRate() float64 { return o.biasLR }
