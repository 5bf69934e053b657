package nn

import (
	"happyml/internal/happymlerr"
	"happyml/pkg/tensor"
)

// FlattenLayer reshapes its input to a single row on the way forward and
// restores the recorded shape on the way back. Grounded on
// original_source/src/ml/layers/flatten_layer.hpp, including its
// single-row passthrough optimization (a 1-row, 1-channel input is already
// flat, so forward/backward skip the view entirely).
type FlattenLayer struct {
	Label           string
	originalRows    int
	originalCols    int
	originalChannel int
}

func NewFlattenLayer(label string) *FlattenLayer {
	return &FlattenLayer{Label: label}
}

func (l *FlattenLayer) OutputShape() tensor.Shape {
	return tensor.Shape{Rows: 1, Cols: l.originalRows * l.originalCols * l.originalChannel, Channels: 1}
}

func (l *FlattenLayer) Forward(inputs []tensor.Tensor, forTraining bool, state *TrainingState) (tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, happymlerr.Shapef("FlattenLayer: expected exactly one input, got %d", len(inputs))
	}
	s := inputs[0].Shape()
	l.originalRows, l.originalCols, l.originalChannel = s.Rows, s.Cols, s.Channels
	if s.Rows == 1 && s.Channels == 1 {
		return inputs[0], nil
	}
	return tensor.FlattenToRow(inputs[0]), nil
}

func (l *FlattenLayer) Backward(outputError tensor.Tensor, _ *TrainingState) ([]tensor.Tensor, error) {
	s := outputError.Shape()
	if s.Rows == l.originalRows && s.Cols == l.originalCols && s.Channels == l.originalChannel {
		return []tensor.Tensor{outputError}, nil
	}
	if l.originalChannel == 1 {
		reshaped, err := tensor.Reshape(outputError, l.originalRows, l.originalCols)
		if err != nil {
			return nil, err
		}
		return []tensor.Tensor{reshaped}, nil
	}
	// The flattened row interleaves channels in (channel, row, col) order,
	// which Reshape (a per-channel view) cannot undo; unflatten directly.
	rows, cols := l.originalRows, l.originalCols
	restored := tensor.NewFromFunctionTensor(
		tensor.Shape{Rows: rows, Cols: cols, Channels: l.originalChannel},
		func(r, c, ch int) float32 {
			return outputError.ValueAt(0, ch*rows*cols+r*cols+c, 0)
		})
	return []tensor.Tensor{restored}, nil
}
