package tensor

import (
	"math"

	"happyml/internal/happymlerr"
)

// HasInvalidValues scans every cell for NaN or Inf. Numeric errors are
// never caught by the engine itself; callers wrap forward passes with this
// when debugging a diverging model.
func HasInvalidValues(t Tensor) bool {
	s := t.Shape()
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				v := float64(t.ValueAt(r, c, ch))
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return true
				}
			}
		}
	}
	return false
}

// estimateBias scans biases from 15 down to 4 and returns the first, and so
// the largest (finest-resolution), bias whose representable range covers
// [min,max], mirroring original_source's estimateBias, which scans the same
// descending range and falls back to 4 when nothing covers the observed
// values.
func estimateBias(min, max float32) int {
	for bias := 15; bias >= 4; bias-- {
		biasMin, biasMax := quarterRange(bias)
		if biasMin <= min && biasMax >= max {
			return bias
		}
	}
	return 4
}

// scanRange walks every cell once to find (min, max), needed before
// choosing an 8-bit bias.
func scanRange(t Tensor) (min, max float32) {
	s := t.Shape()
	first := true
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				v := t.ValueAt(r, c, ch)
				if first {
					min, max = v, v
					first = false
					continue
				}
				if v < min {
					min = v
				}
				if v > max {
					max = v
				}
			}
		}
	}
	return min, max
}

// Materialize converts a tensor (view or leaf) into a materialized leaf at
// the requested bit width. 32 is a pass-through if t is already
// materialized at 32 bits; otherwise it is copied. 16 produces an F16Tensor.
// 8 scans the tensor's range once, picks a covering bias, and produces a
// Q8Tensor.
func Materialize(t Tensor, bits int) (Tensor, error) {
	switch bits {
	case 32:
		if f32, ok := t.(*F32Tensor); ok {
			return f32, nil
		}
		return NewF32Tensor(t), nil
	case 16:
		return NewF16Tensor(t), nil
	case 8:
		min, max := scanRange(t)
		bias := estimateBias(min, max)
		return NewQ8Tensor(t, bias), nil
	default:
		return nil, happymlerr.Shapef("unsupported bit width %d (want 32, 16, or 8)", bits)
	}
}
