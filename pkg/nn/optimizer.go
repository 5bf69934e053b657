package nn

import "happyml/pkg/tensor"

// Optimizer is the common contract shared by all three optimizer variants:
// each layer registers once at construction to obtain a stable id, then
// asks for updated weight/bias tensors on every backward pass. Optimizer
// state lives for the training session only; it is never persisted.
type Optimizer interface {
	RegisterWeights() int
	RegisterBias() int
	UpdateWeights(id int, current, gradient tensor.Tensor) (tensor.Tensor, error)
	UpdateBias(id int, current, gradient tensor.Tensor) (tensor.Tensor, error)
	LearningRate() float64
	BiasLearningRate() float64
}

func elementwiseApply(shape tensor.Shape, a, b tensor.Tensor, fn func(x, y float32) float32) tensor.Tensor {
	return tensor.NewFromFunctionTensor(shape, func(r, c, ch int) float32 {
		return fn(a.ValueAt(r, c, ch), b.ValueAt(r, c, ch))
	})
}

func scaleAndSubtract(current, gradient tensor.Tensor, lr float64) tensor.Tensor {
	shape := current.Shape()
	return elementwiseApply(shape, current, gradient, func(cur, grad float32) float32 {
		return cur - float32(lr)*grad
	})
}
