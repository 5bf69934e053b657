package nn

import (
	"happyml/internal/happymlerr"
	"happyml/pkg/tensor"
)

// ConcatenateWideLayer joins two or more same-row, same-channel tensors
// side by side along columns. Grounded on
// original_source/src/ml/layers/concatenate_wide_layer.hpp.
type ConcatenateWideLayer struct {
	Label       string
	inputShapes []tensor.Shape
	outputShape tensor.Shape
}

func NewConcatenateWideLayer(label string, inputShapes []tensor.Shape) (*ConcatenateWideLayer, error) {
	if len(inputShapes) < 2 {
		return nil, happymlerr.Shapef("ConcatenateWideLayer: need at least 2 input shapes, got %d", len(inputShapes))
	}
	rows := inputShapes[0].Rows
	channels := inputShapes[0].Channels
	combinedCols := 0
	for _, s := range inputShapes {
		if s.Rows != rows {
			return nil, happymlerr.Shapef("ConcatenateWideLayer: all input shapes must have the same rows, got %d and %d", rows, s.Rows)
		}
		if s.Channels != channels {
			return nil, happymlerr.Shapef("ConcatenateWideLayer: all input shapes must have the same channels, got %d and %d", channels, s.Channels)
		}
		combinedCols += s.Cols
	}
	return &ConcatenateWideLayer{
		Label:       label,
		inputShapes: inputShapes,
		outputShape: tensor.Shape{Rows: rows, Cols: combinedCols, Channels: channels},
	}, nil
}

func (l *ConcatenateWideLayer) OutputShape() tensor.Shape { return l.outputShape }

func (l *ConcatenateWideLayer) Forward(inputs []tensor.Tensor, _ bool, _ *TrainingState) (tensor.Tensor, error) {
	if len(inputs) < 2 {
		return nil, happymlerr.Shapef("ConcatenateWideLayer: need at least 2 inputs, got %d", len(inputs))
	}
	result, err := tensor.ConcatWide(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	var combined tensor.Tensor = result
	for i := 2; i < len(inputs); i++ {
		combined, err = tensor.ConcatWide(combined, inputs[i])
		if err != nil {
			return nil, err
		}
	}
	return combined, nil
}

// Backward splits the incoming error back into one window per input,
// preserving the insertion order recorded in inputShapes.
func (l *ConcatenateWideLayer) Backward(outputError tensor.Tensor, _ *TrainingState) ([]tensor.Tensor, error) {
	errors := make([]tensor.Tensor, 0, len(l.inputShapes))
	start := 0
	for _, s := range l.inputShapes {
		window, err := tensor.Window(outputError, start, start+s.Cols)
		if err != nil {
			return nil, err
		}
		errors = append(errors, window)
		start += s.Cols
	}
	return errors, nil
}
