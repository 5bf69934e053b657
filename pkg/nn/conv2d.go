package nn

import (
	"fmt"
	"os"
	"path/filepath"

	"happyml/internal/happymlerr"
	"happyml/pkg/tensor"
)

// Conv2DValidLayer is a 2-D valid-cross-correlation convolution with one
// weight tensor per output filter, each shaped (kernelSize, kernelSize,
// inputChannels). Grounded on
// original_source/src/ml/layers/convolution_2d_valid_layer.hpp.
type Conv2DValidLayer struct {
	Label          string
	weights        []tensor.Tensor
	registrationID int
	bits           int
	mixedPrecision float32
	inputShape     tensor.Shape
	outputShape    tensor.Shape
	kernelSize     int
	optimizer      Optimizer
}

func NewConv2DValidLayer(label string, inputShape tensor.Shape, filters, kernelSize, bits int, optimizer Optimizer, seed uint64) *Conv2DValidLayer {
	weights := make([]tensor.Tensor, filters)
	kernelShape := tensor.Shape{Rows: kernelSize, Cols: kernelSize, Channels: inputShape.Channels}
	for f := 0; f < filters; f++ {
		weights[f] = tensor.NewF32Tensor(tensor.NewRandomTensor(kernelShape, -0.5, 0.5, seed+uint64(f)))
	}
	return &Conv2DValidLayer{
		Label:          label,
		weights:        weights,
		registrationID: optimizer.RegisterWeights(),
		bits:           bits,
		mixedPrecision: mixedPrecisionScale(bits),
		inputShape:     inputShape,
		outputShape:    tensor.Shape{Rows: inputShape.Rows - kernelSize + 1, Cols: inputShape.Cols - kernelSize + 1, Channels: filters},
		kernelSize:     kernelSize,
		optimizer:      optimizer,
	}
}

func (l *Conv2DValidLayer) OutputShape() tensor.Shape { return l.outputShape }

func (l *Conv2DValidLayer) Forward(inputs []tensor.Tensor, forTraining bool, state *TrainingState) (tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, happymlerr.Shapef("Conv2DValidLayer: expected exactly one input, got %d", len(inputs))
	}
	if forTraining {
		state.Push(inputs[0])
	}
	return tensor.Conv2DValidCrossCorrelation(inputs[0], l.weights)
}

// Backward computes the input gradient as the sum, across filters, of the
// full convolution of that filter's output-error channel against each of
// the filter's input-channel kernels, and the weight gradient as the valid
// cross-correlation of the averaged input channel against the same
// output-error channel. Accumulated directly into dense slices rather than
// through SumToChannel-style views, since each (filter, input channel) pair
// contributes to a different channel of a wider tensor than either operand
// alone describes.
func (l *Conv2DValidLayer) Backward(outputError tensor.Tensor, state *TrainingState) ([]tensor.Tensor, error) {
	if len(state.QueuedInputs) < 1 {
		return nil, happymlerr.Shapef("Conv2DValidLayer.Backward called without queued inputs")
	}
	avgInput := state.AverageQueued()

	filters := l.outputShape.Channels
	inputDepth := l.inputShape.Channels
	inputError := make([]float32, l.inputShape.Rows*l.inputShape.Cols*inputDepth)

	newWeights := make([]tensor.Tensor, filters)
	for f := 0; f < filters; f++ {
		outputErrorF := tensor.ChannelPick(outputError, f)

		weightGradient := make([]float32, l.kernelSize*l.kernelSize*inputDepth)
		for c := 0; c < inputDepth; c++ {
			weightKernel := tensor.ChannelPick(l.weights[f], c)
			fullConv, err := tensor.Conv2DFullConvolution(outputErrorF, []tensor.Tensor{weightKernel})
			if err != nil {
				return nil, err
			}
			for r := 0; r < l.inputShape.Rows; r++ {
				for cc := 0; cc < l.inputShape.Cols; cc++ {
					inputError[c*l.inputShape.Rows*l.inputShape.Cols+r*l.inputShape.Cols+cc] += fullConv.ValueAt(r, cc, 0)
				}
			}

			inputChannelC := tensor.ChannelPick(avgInput, c)
			validCorr, err := tensor.Conv2DValidCrossCorrelation(inputChannelC, []tensor.Tensor{outputErrorF})
			if err != nil {
				return nil, err
			}
			for kr := 0; kr < l.kernelSize; kr++ {
				for kc := 0; kc < l.kernelSize; kc++ {
					weightGradient[c*l.kernelSize*l.kernelSize+kr*l.kernelSize+kc] += validCorr.ValueAt(kr, kc, 0)
				}
			}
		}

		kernelShape := tensor.Shape{Rows: l.kernelSize, Cols: l.kernelSize, Channels: inputDepth}
		weightGradientTensor := tensor.NewFromFunctionTensor(kernelShape, func(r, c, ch int) float32 {
			return weightGradient[ch*l.kernelSize*l.kernelSize+r*l.kernelSize+c]
		})
		adjustedWeightGradient := tensor.MulScalar(weightGradientTensor, l.mixedPrecision)
		adjustedWeights, err := l.optimizer.UpdateWeights(l.registrationID, l.weights[f], adjustedWeightGradient)
		if err != nil {
			return nil, err
		}
		newWeights[f], err = tensor.Materialize(adjustedWeights, l.bits)
		if err != nil {
			return nil, err
		}
	}
	l.weights = newWeights

	inputShape := l.inputShape
	result := tensor.NewFromFunctionTensor(inputShape, func(r, c, ch int) float32 {
		return inputError[ch*inputShape.Rows*inputShape.Cols+r*inputShape.Cols+c]
	})
	return []tensor.Tensor{result}, nil
}

func (l *Conv2DValidLayer) SaveParams(dir string, vertexID int) error {
	for f, w := range l.weights {
		path := filepath.Join(dir, fmt.Sprintf("%d_c2dv_%d.tensor", vertexID, f))
		file, err := os.Create(path)
		if err != nil {
			return happymlerr.Wrap(happymlerr.ErrIO, "create conv2d filter file", err)
		}
		err = w.Save(file)
		file.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Conv2DValidLayer) LoadParams(dir string, vertexID int) error {
	for f := range l.weights {
		path := filepath.Join(dir, fmt.Sprintf("%d_c2dv_%d.tensor", vertexID, f))
		file, err := os.Open(path)
		if err != nil {
			return happymlerr.Wrap(happymlerr.ErrIO, "open conv2d filter file", err)
		}
		loaded, err := tensor.LoadTensor(file, l.bits)
		file.Close()
		if err != nil {
			return err
		}
		if !loaded.Shape().Equal(l.weights[f].Shape()) {
			return happymlerr.Shapef("Conv2DValidLayer: loaded filter %d shape %+v != expected %+v", f, loaded.Shape(), l.weights[f].Shape())
		}
		l.weights[f] = loaded
	}
	return nil
}
