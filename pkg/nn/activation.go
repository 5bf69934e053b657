package nn

import (
	"math"

	"happyml/internal/happymlerr"
	"happyml/pkg/tensor"
)

// ActivationFunction computes a value-transform and its derivative, each
// with respect to the pre-activation input. Grounded on
// original_source/src/ml/activation.hpp and the activators/ directory.
type ActivationFunction interface {
	Activate(input tensor.Tensor) tensor.Tensor
	Derivative(input tensor.Tensor) tensor.Tensor
}

type reluActivation struct{}

func (reluActivation) Activate(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "relu", func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

func (reluActivation) Derivative(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "relu'", func(v float32) float32 {
		if v > 0 {
			return 1
		}
		return 0
	})
}

type leakyReLUActivation struct{}

func (leakyReLUActivation) Activate(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "leaky", func(v float32) float32 {
		if v < 0 {
			return 0.01 * v
		}
		return v
	})
}

func (leakyReLUActivation) Derivative(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "leaky'", func(v float32) float32 {
		if v < 0 {
			return 0.01
		}
		return 1
	})
}

func sigmoidOf(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(v))))
}

type sigmoidActivation struct{}

func (sigmoidActivation) Activate(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "sigmoid", sigmoidOf)
}

func (sigmoidActivation) Derivative(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "sigmoid'", func(v float32) float32 {
		s := sigmoidOf(v)
		return s * (1 - s)
	})
}

func sigmoidApproxOf(v float32) float32 {
	return 0.5 * ((v / (1 + float32(math.Abs(float64(v))))) + 1)
}

type sigmoidApproxActivation struct{}

func (sigmoidApproxActivation) Activate(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "sigmoidApprox", sigmoidApproxOf)
}

func (sigmoidApproxActivation) Derivative(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "sigmoidApprox'", func(v float32) float32 {
		s := sigmoidApproxOf(v)
		return s * (1 - s)
	})
}

type tanhActivation struct{}

func (tanhActivation) Activate(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "tanh", func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

func (tanhActivation) Derivative(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "tanh'", func(v float32) float32 {
		th := float32(math.Tanh(float64(v)))
		return 1 - th*th
	})
}

func tanhApproxOf(v float32) float32 {
	sigmoid := float32(1.0 / (1.0 + math.Exp(-2*float64(v))))
	return 2*sigmoid - 1
}

type tanhApproxActivation struct{}

func (tanhApproxActivation) Activate(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "tanhApprox", tanhApproxOf)
}

func (tanhApproxActivation) Derivative(input tensor.Tensor) tensor.Tensor {
	return tensor.ValueTransform(input, "tanhApprox'", func(v float32) float32 {
		th := tanhApproxOf(v)
		return 1 - th*th
	})
}

type linearActivation struct{}

func (linearActivation) Activate(input tensor.Tensor) tensor.Tensor { return input }

func (linearActivation) Derivative(input tensor.Tensor) tensor.Tensor {
	return tensor.NewUniformTensor(input.Shape(), 1.0)
}

// softmaxActivation is row-wise softmax with the standard max-subtraction
// stability trick, so a row of all -Inf produces a uniform row rather than
// NaN (spec boundary behavior). Grounded on the distilled spec's §5
// description; no dedicated source file survived retrieval (enums.hpp only
// names the "softmax" literal), so the stable formula is implemented
// directly.
type softmaxActivation struct{}

func (softmaxActivation) Activate(input tensor.Tensor) tensor.Tensor {
	return newSoftmaxView(input)
}

func (softmaxActivation) Derivative(input tensor.Tensor) tensor.Tensor {
	sm := newSoftmaxView(input)
	return tensor.ValueTransform(sm, "softmax'", func(v float32) float32 {
		return v * (1 - v)
	})
}

// newSoftmaxView computes a stable row-wise softmax, materialized eagerly
// since each cell depends on the whole row rather than a single operand
// cell: a lazy per-cell ValueAt would recompute the row's max/sum on every
// call. A row of all -Inf yields a uniform row instead of NaN (spec
// boundary behavior): its -Inf max is replaced by 0, so every exponent
// is 0 and the zero-sum branch writes 1/cols into each cell.
func newSoftmaxView(input tensor.Tensor) tensor.Tensor {
	s := input.Shape()
	out := make([]float32, s.Rows*s.Cols*s.Channels)
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			rowMax := float32(math.Inf(-1))
			for c := 0; c < s.Cols; c++ {
				if v := input.ValueAt(r, c, ch); v > rowMax {
					rowMax = v
				}
			}
			if math.IsInf(float64(rowMax), -1) {
				rowMax = 0
			}
			var sum float32
			exps := make([]float32, s.Cols)
			for c := 0; c < s.Cols; c++ {
				v := input.ValueAt(r, c, ch)
				shifted := v - rowMax
				if math.IsInf(float64(shifted), -1) || math.IsNaN(float64(shifted)) {
					shifted = float32(math.Inf(-1))
				}
				e := float32(math.Exp(float64(shifted)))
				exps[c] = e
				sum += e
			}
			if sum == 0 {
				uniform := 1.0 / float32(s.Cols)
				for c := 0; c < s.Cols; c++ {
					out[ch*s.Rows*s.Cols+r*s.Cols+c] = uniform
				}
				continue
			}
			for c := 0; c < s.Cols; c++ {
				out[ch*s.Rows*s.Cols+r*s.Cols+c] = exps[c] / sum
			}
		}
	}
	return tensor.NewFromFunctionTensor(s, func(r, c, ch int) float32 {
		return out[ch*s.Rows*s.Cols+r*s.Cols+c]
	})
}

// ActivationByName resolves the exact enum literals used by the on-disk
// network config format (original_source/src/ml/enums.hpp).
func ActivationByName(name string) (ActivationFunction, error) {
	switch name {
	case "relu":
		return reluActivation{}, nil
	case "leaky":
		return leakyReLUActivation{}, nil
	case "sigmoid":
		return sigmoidActivation{}, nil
	case "sigmoidApprox":
		return sigmoidApproxActivation{}, nil
	case "tanh":
		return tanhActivation{}, nil
	case "tanhApprox":
		return tanhApproxActivation{}, nil
	case "linear":
		return linearActivation{}, nil
	case "softmax":
		return softmaxActivation{}, nil
	default:
		return nil, happymlerr.Configf("unknown activation function %q", name)
	}
}
