package nn

import (
	"fmt"
	"os"
	"path/filepath"

	"happyml/internal/happymlerr"
	"happyml/pkg/tensor"
)

// FullyConnectedLayer computes input · W. Grounded on
// original_source/src/ml/layers/fully_connected_layer.hpp.
type FullyConnectedLayer struct {
	Label          string
	weights        tensor.Tensor
	registrationID int
	bits           int
	mixedPrecision float32
	optimizer      Optimizer
	outputShape    tensor.Shape
}

func mixedPrecisionScale(bits int) float32 {
	switch bits {
	case 32:
		return 0.5
	case 16:
		return 2.0
	default:
		return 3.0
	}
}

func NewFullyConnectedLayer(label string, inputSize, outputSize, bits int, optimizer Optimizer, seed uint64) *FullyConnectedLayer {
	weightsShape := tensor.Shape{Rows: inputSize, Cols: outputSize, Channels: 1}
	return &FullyConnectedLayer{
		Label:          label,
		weights:        tensor.NewF32Tensor(tensor.NewXavierTensor(weightsShape, seed)),
		registrationID: optimizer.RegisterWeights(),
		bits:           bits,
		mixedPrecision: mixedPrecisionScale(bits),
		optimizer:      optimizer,
		outputShape:    tensor.Shape{Rows: 1, Cols: outputSize, Channels: 1},
	}
}

func (l *FullyConnectedLayer) OutputShape() tensor.Shape { return l.outputShape }

func (l *FullyConnectedLayer) Forward(inputs []tensor.Tensor, forTraining bool, state *TrainingState) (tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, happymlerr.Shapef("FullyConnectedLayer: expected exactly one input, got %d", len(inputs))
	}
	if forTraining {
		state.Push(inputs[0])
	}
	return tensor.MatMul(inputs[0], l.weights)
}

func (l *FullyConnectedLayer) Backward(outputError tensor.Tensor, state *TrainingState) ([]tensor.Tensor, error) {
	if len(state.QueuedInputs) < 1 {
		return nil, happymlerr.Shapef("FullyConnectedLayer.Backward called without queued inputs")
	}
	avgInput := state.AverageQueued()

	weightsT := tensor.Transpose(l.weights)
	inputErrorView, err := tensor.MatMul(outputError, weightsT)
	if err != nil {
		return nil, err
	}
	inputError := tensor.NewF32Tensor(inputErrorView)

	inputT := tensor.Transpose(avgInput)
	weightsErrorView, err := tensor.MatMul(inputT, outputError)
	if err != nil {
		return nil, err
	}
	adjustedWeightsError := tensor.MulScalar(weightsErrorView, l.mixedPrecision)

	adjustedWeights, err := l.optimizer.UpdateWeights(l.registrationID, l.weights, adjustedWeightsError)
	if err != nil {
		return nil, err
	}
	l.weights, err = tensor.Materialize(adjustedWeights, l.bits)
	if err != nil {
		return nil, err
	}

	return []tensor.Tensor{inputError}, nil
}

func (l *FullyConnectedLayer) SaveParams(dir string, vertexID int) error {
	path := filepath.Join(dir, fmt.Sprintf("%d_full.tensor", vertexID))
	f, err := os.Create(path)
	if err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "create weights file", err)
	}
	defer f.Close()
	return l.weights.Save(f)
}

func (l *FullyConnectedLayer) LoadParams(dir string, vertexID int) error {
	path := filepath.Join(dir, fmt.Sprintf("%d_full.tensor", vertexID))
	f, err := os.Open(path)
	if err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "open weights file", err)
	}
	defer f.Close()
	loaded, err := tensor.LoadTensor(f, l.bits)
	if err != nil {
		return err
	}
	if !loaded.Shape().Equal(l.weights.Shape()) {
		return happymlerr.Shapef("FullyConnectedLayer: loaded weights shape %+v != expected %+v", loaded.Shape(), l.weights.Shape())
	}
	l.weights = loaded
	return nil
}
