package nn

import (
	"math"

	"happyml/internal/happymlerr"
	"happyml/pkg/tensor"
)

// LossFunction is the scalar cost over per-sample errors. calculateError is
// the per-sample error view; calculateTotalError sums those errors across a
// batch; Compute reduces the total error to a reportable scalar; and
// PartialDerivative is the gradient that actually drives backward.
// Grounded on original_source/src/ml/loss.hpp.
type LossFunction interface {
	CalculateError(truth, prediction tensor.Tensor) (tensor.Tensor, error)
	CalculateTotalError(truths, predictions []tensor.Tensor) (tensor.Tensor, error)
	Compute(totalError tensor.Tensor) float32
	PartialDerivative(totalError tensor.Tensor, batchSize float32) tensor.Tensor
}

// baseLoss supplies the shared CalculateTotalError accumulation (sequential,
// oldest-to-newest, per spec §9's accumulation-order decision) to every
// concrete loss so only CalculateError/Compute/PartialDerivative vary.
type baseLoss struct {
	calcError func(truth, prediction tensor.Tensor) (tensor.Tensor, error)
}

func (b baseLoss) CalculateError(truth, prediction tensor.Tensor) (tensor.Tensor, error) {
	return b.calcError(truth, prediction)
}

func (b baseLoss) CalculateTotalError(truths, predictions []tensor.Tensor) (tensor.Tensor, error) {
	if len(truths) != len(predictions) {
		return nil, happymlerr.Shapef("CalculateTotalError: %d truths but %d predictions", len(truths), len(predictions))
	}
	if len(truths) == 0 {
		return nil, happymlerr.Shapef("CalculateTotalError: empty batch")
	}
	total, err := b.calcError(truths[0], predictions[0])
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(truths); i++ {
		next, err := b.calcError(truths[i], predictions[i])
		if err != nil {
			return nil, err
		}
		total, err = tensor.Add(total, next)
		if err != nil {
			return nil, err
		}
	}
	return tensor.NewF32Tensor(total), nil
}

// MSELoss is mean squared error: per-sample error is prediction - truth.
type MSELoss struct{ baseLoss }

func NewMSELoss() *MSELoss {
	return &MSELoss{baseLoss{calcError: func(truth, prediction tensor.Tensor) (tensor.Tensor, error) {
		return tensor.Subtract(prediction, truth)
	}}}
}

func (l *MSELoss) Compute(totalError tensor.Tensor) float32 {
	s := totalError.Shape()
	var sum float32
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				v := totalError.ValueAt(r, c, ch)
				sum += v * v
			}
		}
	}
	return sum / float32(s.Elements())
}

func (l *MSELoss) PartialDerivative(totalError tensor.Tensor, batchSize float32) tensor.Tensor {
	return tensor.MulScalar(totalError, 2.0/batchSize)
}

// BinaryCrossEntropyLoss is the standard binary cross entropy: per-sample
// error is prediction - truth (the derivative of BCE w.r.t. a sigmoid
// pre-activation collapses to this form, matching the source's reuse of
// TensorMinusTensorView for every loss it offers).
type BinaryCrossEntropyLoss struct{ baseLoss }

func NewBinaryCrossEntropyLoss() *BinaryCrossEntropyLoss {
	return &BinaryCrossEntropyLoss{baseLoss{calcError: func(truth, prediction tensor.Tensor) (tensor.Tensor, error) {
		return tensor.Subtract(prediction, truth)
	}}}
}

func (l *BinaryCrossEntropyLoss) Compute(totalError tensor.Tensor) float32 {
	s := totalError.Shape()
	const eps = 1e-7
	var sum float32
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				e := totalError.ValueAt(r, c, ch)
				p := correctClassProbability(e)
				sum += -float32(math.Log(float64(p) + eps))
			}
		}
	}
	return sum / float32(s.Elements())
}

// correctClassProbability maps an accumulated (prediction - truth) error
// cell to the probability the model assigned to the correct class. The
// error's magnitude is the mass given to the wrong side whichever way the
// truth points: truth=1 yields v = p-1 (so p = 1+v with v <= 0) and
// truth=0 yields v = p (so the correct-class probability is 1-v). Both
// collapse to 1-|v|, clamped away from 0 and 1 before the log.
func correctClassProbability(v float32) float32 {
	if v < 0 {
		v = -v
	}
	p := 1 - v
	if p < 1e-7 {
		return 1e-7
	}
	if p > 1-1e-7 {
		return 1 - 1e-7
	}
	return p
}

func (l *BinaryCrossEntropyLoss) PartialDerivative(totalError tensor.Tensor, batchSize float32) tensor.Tensor {
	return tensor.MulScalar(totalError, 1.0/batchSize)
}

// CategoricalCrossEntropyLoss is cross entropy over a softmax row; the
// per-sample error reduces to prediction - truth (one-hot) just like BCE.
type CategoricalCrossEntropyLoss struct{ baseLoss }

func NewCategoricalCrossEntropyLoss() *CategoricalCrossEntropyLoss {
	return &CategoricalCrossEntropyLoss{baseLoss{calcError: func(truth, prediction tensor.Tensor) (tensor.Tensor, error) {
		return tensor.Subtract(prediction, truth)
	}}}
}

func (l *CategoricalCrossEntropyLoss) Compute(totalError tensor.Tensor) float32 {
	s := totalError.Shape()
	const eps = 1e-7
	var sum float32
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				e := totalError.ValueAt(r, c, ch)
				p := correctClassProbability(e)
				sum += -float32(math.Log(float64(p) + eps))
			}
		}
	}
	return sum / float32(s.Rows*s.Channels)
}

func (l *CategoricalCrossEntropyLoss) PartialDerivative(totalError tensor.Tensor, batchSize float32) tensor.Tensor {
	return tensor.MulScalar(totalError, 1.0/batchSize)
}

// LossByName resolves the exact enum literals used by the on-disk network
// config format (spec §6 / original_source/src/ml/enums.hpp's LossType,
// extended with the two cross-entropy variants the spec adds).
func LossByName(name string) (LossFunction, error) {
	switch name {
	case "mse":
		return NewMSELoss(), nil
	case "binaryCrossEntropy":
		return NewBinaryCrossEntropyLoss(), nil
	case "categoricalCrossEntropy":
		return NewCategoricalCrossEntropyLoss(), nil
	default:
		return nil, happymlerr.Configf("unknown loss function %q", name)
	}
}

// LossName is the inverse of LossByName, used when serializing a network's
// config.
func LossName(l LossFunction) (string, error) {
	switch l.(type) {
	case *MSELoss:
		return "mse", nil
	case *BinaryCrossEntropyLoss:
		return "binaryCrossEntropy", nil
	case *CategoricalCrossEntropyLoss:
		return "categoricalCrossEntropy", nil
	default:
		return "", happymlerr.Configf("unknown loss function implementation %T", l)
	}
}
