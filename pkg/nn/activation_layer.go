package nn

import (
	"happyml/internal/happymlerr"
	"happyml/pkg/tensor"
)

// ActivationLayer applies an ActivationFunction elementwise. Grounded on
// original_source/src/ml/layers/activation_layer.hpp.
type ActivationLayer struct {
	Label       string
	fn          ActivationFunction
	outputShape tensor.Shape
}

func NewActivationLayer(label string, fn ActivationFunction, outputShape tensor.Shape) *ActivationLayer {
	return &ActivationLayer{Label: label, fn: fn, outputShape: outputShape}
}

func (l *ActivationLayer) OutputShape() tensor.Shape { return l.outputShape }

func (l *ActivationLayer) Forward(inputs []tensor.Tensor, forTraining bool, state *TrainingState) (tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, happymlerr.Shapef("ActivationLayer: expected exactly one input, got %d", len(inputs))
	}
	if forTraining {
		state.Push(inputs[0])
	}
	return l.fn.Activate(inputs[0]), nil
}

// Backward averages the activation's derivative across every queued input
// of the batch and elementwise-multiplies the result by the incoming error.
// Grounded on the source's queue-drain loop: each batched input's derivative
// contributes equally, not the derivative of the averaged input.
func (l *ActivationLayer) Backward(outputError tensor.Tensor, state *TrainingState) ([]tensor.Tensor, error) {
	if len(state.QueuedInputs) < 1 {
		return nil, happymlerr.Shapef("ActivationLayer.Backward called without queued inputs")
	}
	n := len(state.QueuedInputs)
	avgDerivative := l.fn.Derivative(state.QueuedInputs[0])
	for i := 1; i < n; i++ {
		next := l.fn.Derivative(state.QueuedInputs[i])
		added, err := tensor.Add(avgDerivative, next)
		if err != nil {
			return nil, err
		}
		avgDerivative = added
	}
	if n > 1 {
		avgDerivative = tensor.NewF32Tensor(tensor.MulScalar(avgDerivative, 1.0/float32(n)))
	}
	inputError, err := tensor.ElementWiseMultiply(avgDerivative, outputError)
	if err != nil {
		return nil, err
	}
	return []tensor.Tensor{inputError}, nil
}
