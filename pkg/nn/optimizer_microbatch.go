package nn

import "happyml/pkg/tensor"

// MicroBatchOptimizer is plain SGD: new = current - lr*gradient. Grounded
// on original_source/src/ml/mbgd_optimizer.hpp's update formula.
type MicroBatchOptimizer struct {
	lr        float64
	biasLR    float64
	nextID    int
}

// NewMicroBatchOptimizer builds a plain-SGD optimizer. biasLR defaults to
// lr/10 when not explicitly set (pass 0 to take the default).
func NewMicroBatchOptimizer(lr, biasLR float64) *MicroBatchOptimizer {
	if biasLR == 0 {
		biasLR = lr / 10
	}
	return &MicroBatchOptimizer{lr: lr, biasLR: biasLR}
}

func (o *MicroBatchOptimizer) RegisterWeights() int { o.nextID++; return o.nextID }
func (o *MicroBatchOptimizer) RegisterBias() int    { o.nextID++; return o.nextID }

func (o *MicroBatchOptimizer) UpdateWeights(_ int, current, gradient tensor.Tensor) (tensor.Tensor, error) {
	return scaleAndSubtract(current, gradient, o.lr), nil
}

func (o *MicroBatchOptimizer) UpdateBias(_ int, current, gradient tensor.Tensor) (tensor.Tensor, error) {
	return scaleAndSubtract(current, gradient, o.biasLR), nil
}

func (o *MicroBatchOptimizer) LearningRate() float64     { return o.lr }
func (o *MicroBatchOptimizer) BiasLearningRate() float64 { return o.biasLR }
