package nn

import "happyml/pkg/tensor"

// ComputeBinaryAccuracy scores predictions against single-output samples by
// rounding every output cell to 0/1 and requiring an exact match with the
// expected tensor. Grounded on the original accuracy helpers consumed by
// the hyperband configuration evaluator.
func (net *Network) ComputeBinaryAccuracy(samples []Sample) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	correct := 0
	for _, sample := range samples {
		predictions, err := net.Predict(sample.Given)
		if err != nil {
			return 0, err
		}
		match := true
		for o, pred := range predictions {
			expected := sample.Expected[o]
			s := pred.Shape()
			for ch := 0; ch < s.Channels && match; ch++ {
				for r := 0; r < s.Rows && match; r++ {
					for c := 0; c < s.Cols && match; c++ {
						got := float32(0)
						if pred.ValueAt(r, c, ch) >= 0.5 {
							got = 1
						}
						want := float32(0)
						if expected.ValueAt(r, c, ch) >= 0.5 {
							want = 1
						}
						if got != want {
							match = false
						}
					}
				}
			}
		}
		if match {
			correct++
		}
	}
	return float64(correct) / float64(len(samples)), nil
}

// ComputeCategoricalAccuracy scores predictions by comparing each output
// row's argmax against the expected tensor's argmax.
func (net *Network) ComputeCategoricalAccuracy(samples []Sample) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	correct := 0
	for _, sample := range samples {
		predictions, err := net.Predict(sample.Given)
		if err != nil {
			return 0, err
		}
		match := true
		for o, pred := range predictions {
			if argmaxRow(pred) != argmaxRow(sample.Expected[o]) {
				match = false
				break
			}
		}
		if match {
			correct++
		}
	}
	return float64(correct) / float64(len(samples)), nil
}

func argmaxRow(t tensor.Tensor) int {
	s := t.Shape()
	best := 0
	bestValue := t.ValueAt(0, 0, 0)
	for c := 1; c < s.Cols; c++ {
		if v := t.ValueAt(0, c, 0); v > bestValue {
			best = c
			bestValue = v
		}
	}
	return best
}
