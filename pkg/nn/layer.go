// Package nn implements the neural-network dataflow engine: layers,
// optimizers, a DAG-based network graph with forward/backward traversal,
// loss functions, and an exit strategy governing training termination.
package nn

import "happyml/pkg/tensor"

// TrainingState is the per-batch mutable state a layer needs during
// backward (queued per-sample inputs, current batch size). It is owned by
// the driver and passed explicitly into layers rather than hidden as
// mutable layer state, so layers stay otherwise pure.
type TrainingState struct {
	QueuedInputs []tensor.Tensor
	BatchSize    int
}

func (s *TrainingState) Reset() {
	s.QueuedInputs = s.QueuedInputs[:0]
	s.BatchSize = 0
}

func (s *TrainingState) Push(t tensor.Tensor) {
	s.QueuedInputs = append(s.QueuedInputs, t)
}

// AverageQueued computes the arithmetic mean of the queued inputs,
// accumulating sequentially oldest-to-newest (spec §9's open question on
// accumulation order, resolved explicitly to keep results reproducible).
func (s *TrainingState) AverageQueued() tensor.Tensor {
	if len(s.QueuedInputs) == 0 {
		return nil
	}
	sum := s.QueuedInputs[0]
	for i := 1; i < len(s.QueuedInputs); i++ {
		added, err := tensor.Add(sum, s.QueuedInputs[i])
		if err != nil {
			panic(err)
		}
		sum = added
	}
	return tensor.MulScalar(sum, 1.0/float32(len(s.QueuedInputs)))
}

// Layer is the forward/backward operator contract shared by every layer
// kind. Layers that own parameters also implement ParameterLayer.
type Layer interface {
	Forward(inputs []tensor.Tensor, forTraining bool, state *TrainingState) (tensor.Tensor, error)
	Backward(outputError tensor.Tensor, state *TrainingState) ([]tensor.Tensor, error)
	OutputShape() tensor.Shape
}

// ParameterLayer is implemented by layers with persistent parameter
// tensors (fully connected, bias, 2-D convolution, dropout's mask seed).
// SaveParams/LoadParams take the vertex's own directory; each layer decides
// its own file name(s) within it (<id>_full.tensor, <id>_bias.tensor,
// <id>_c2dv_<filter>.tensor, <id>_dropout.tensor per spec §6).
type ParameterLayer interface {
	Layer
	SaveParams(dir string, vertexID int) error
	LoadParams(dir string, vertexID int) error
}
