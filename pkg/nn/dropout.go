package nn

import (
	"fmt"
	"os"
	"path/filepath"

	"happyml/internal/happymlerr"
	"happyml/pkg/tensor"
)

// DropoutLayer zeroes a random fraction of its input during training and
// rescales by 1/(1-rate) at inference. Grounded on
// original_source/src/ml/layers/dropout_layer.hpp: a fresh uniform-random
// mask is drawn each forward call from a monotonically advancing seed
// sequence, so the mask is never reused across batches but is saved so a
// reloaded model can reproduce the sequence's position.
type DropoutLayer struct {
	Label        string
	rate         float32
	forwardScale float32
	outputShape  tensor.Shape
	baseSeed     uint64
	seedSeq      uint64
	mask         tensor.Tensor
}

func NewDropoutLayer(label string, outputShape tensor.Shape, rate float32, seed uint64) (*DropoutLayer, error) {
	if rate < 0.0 || rate > 1.0 {
		return nil, happymlerr.Configf("DropoutLayer: rate must be between 0 and 1, got %v", rate)
	}
	return &DropoutLayer{
		Label:        label,
		rate:         rate,
		forwardScale: 1.0 / (1.0 - rate),
		outputShape:  outputShape,
		baseSeed:     seed,
	}, nil
}

func (l *DropoutLayer) OutputShape() tensor.Shape { return l.outputShape }

func (l *DropoutLayer) Forward(inputs []tensor.Tensor, forTraining bool, _ *TrainingState) (tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, happymlerr.Shapef("DropoutLayer: expected exactly one input, got %d", len(inputs))
	}
	shape := inputs[0].Shape()
	if !forTraining {
		scaled, err := tensor.ElementWiseMultiply(inputs[0], tensor.NewUniformTensor(shape, l.forwardScale))
		if err != nil {
			return nil, err
		}
		return scaled, nil
	}
	l.seedSeq++
	random := tensor.NewRandomTensor(shape, 0.0, 1.0, l.baseSeed+l.seedSeq)
	ones := tensor.NewUniformTensor(shape, 1.0)
	zeros := tensor.NewUniformTensor(shape, 0.0)
	mask, err := tensor.MaskedSelect(random, ones, zeros, l.rate)
	if err != nil {
		return nil, err
	}
	l.mask = tensor.NewF32Tensor(mask)
	dropped, err := tensor.ElementWiseMultiply(inputs[0], l.mask)
	if err != nil {
		return nil, err
	}
	return dropped, nil
}

func (l *DropoutLayer) Backward(outputError tensor.Tensor, _ *TrainingState) ([]tensor.Tensor, error) {
	if l.mask == nil {
		return nil, happymlerr.Shapef("DropoutLayer.Backward called without a forward mask")
	}
	inputError, err := tensor.ElementWiseMultiply(outputError, l.mask)
	if err != nil {
		return nil, err
	}
	return []tensor.Tensor{inputError}, nil
}

func (l *DropoutLayer) SaveParams(dir string, vertexID int) error {
	path := filepath.Join(dir, fmt.Sprintf("%d_dropout.tensor", vertexID))
	f, err := os.Create(path)
	if err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "create dropout seed file", err)
	}
	defer f.Close()
	seedTensor := tensor.NewUniformTensor(tensor.Shape{Rows: 1, Cols: 1, Channels: 1}, float32(l.seedSeq))
	return tensor.NewF32Tensor(seedTensor).Save(f)
}

func (l *DropoutLayer) LoadParams(dir string, vertexID int) error {
	path := filepath.Join(dir, fmt.Sprintf("%d_dropout.tensor", vertexID))
	f, err := os.Open(path)
	if err != nil {
		return happymlerr.Wrap(happymlerr.ErrIO, "open dropout seed file", err)
	}
	defer f.Close()
	loaded, err := tensor.LoadTensor(f, 32)
	if err != nil {
		return err
	}
	l.seedSeq = uint64(loaded.ValueAt(0, 0, 0))
	return nil
}
