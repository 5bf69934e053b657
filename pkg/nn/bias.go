package nn

import (
	"fmt"
	"os"
	"path/filepath"

	"happyml/internal/happymlerr"
	"happyml/pkg/tensor"
)

// BiasLayer computes input + b. Grounded on
// original_source/src/ml/layers/bias_layer.hpp, with one deliberate
// deviation: the source computes a scaled, batch-divided
// "adjusted_bias_error" and then never uses it, passing the raw
// output_error to the optimizer instead (a bug). This implementation uses
// the scaled gradient it computes, matching the distilled spec's own
// description of the bias layer's backward pass (see DESIGN.md).
type BiasLayer struct {
	Label          string
	bias           tensor.Tensor
	registrationID int
	bits           int
	lrScale        float32
	optimizer      Optimizer
	batchSize      int
}

// biasLearningRateScale mirrors the source's bit-width-dependent scaling:
// 32-bit always damps by 0.1; 16-bit scales up by 2.0 and 8-bit by 3.0
// only when the optimizer's learning rate is below an empirical threshold
// (0.45 and 0.3), otherwise they pass through at 1.0.
func biasLearningRateScale(bits int, learningRate float64) float32 {
	switch bits {
	case 32:
		return 0.1
	case 16:
		if learningRate < 0.45 {
			return 2.0
		}
		return 1.0
	default:
		if learningRate < 0.3 {
			return 3.0
		}
		return 1.0
	}
}

func NewBiasLayer(label string, outputShape tensor.Shape, bits int, optimizer Optimizer, seed uint64) *BiasLayer {
	return &BiasLayer{
		Label:          label,
		bias:           tensor.NewF32Tensor(tensor.NewXavierTensor(outputShape, seed)),
		registrationID: optimizer.RegisterBias(),
		bits:           bits,
		lrScale:        biasLearningRateScale(bits, optimizer.LearningRate()),
		optimizer:      optimizer,
	}
}

func (l *BiasLayer) OutputShape() tensor.Shape { return l.bias.Shape() }

func (l *BiasLayer) Forward(inputs []tensor.Tensor, forTraining bool, _ *TrainingState) (tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, happymlerr.Shapef("BiasLayer: expected exactly one input, got %d", len(inputs))
	}
	if forTraining {
		l.batchSize++
	}
	view, err := tensor.Add(inputs[0], l.bias)
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (l *BiasLayer) Backward(outputError tensor.Tensor, _ *TrainingState) ([]tensor.Tensor, error) {
	batchSize := l.batchSize
	if batchSize < 1 {
		batchSize = 1
	}
	adjustedBiasError := tensor.MulScalar(outputError, l.lrScale/float32(batchSize))

	adjustedBias, err := l.optimizer.UpdateBias(l.registrationID, l.bias, adjustedBiasError)
	if err != nil {
		return nil, err
	}
	l.bias, err = tensor.Materialize(adjustedBias, l.bits)
	if err != nil {
		return nil, err
	}
	l.batchSize = 0

	// Partial derivative of bias is 1: the original error flows through
	// unchanged.
	return []tensor.Tensor{outputError}, nil
}

func (l *BiasLayer) SaveParams(dir string, vertexID int) error {
	path := filepath.Join(dir, fmt.Sprintf("%d_bias.tensor", vertexID))
	f, err := os.Create(path)
	if err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "create bias file", err)
	}
	defer f.Close()
	return l.bias.Save(f)
}

func (l *BiasLayer) LoadParams(dir string, vertexID int) error {
	path := filepath.Join(dir, fmt.Sprintf("%d_bias.tensor", vertexID))
	f, err := os.Open(path)
	if err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "open bias file", err)
	}
	defer f.Close()
	loaded, err := tensor.LoadTensor(f, l.bits)
	if err != nil {
		return err
	}
	if !loaded.Shape().Equal(l.bias.Shape()) {
		return happymlerr.Shapef("BiasLayer: loaded bias shape %+v != expected %+v", loaded.Shape(), l.bias.Shape())
	}
	l.bias = loaded
	return nil
}
