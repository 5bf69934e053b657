package tensor

import (
	"fmt"
	"io"
	"math"
)

// RandomTensor is a procedural leaf: value_at(r,c,ch) is derived purely from
// shape, seed, and cell position, so it never allocates storage and is
// re-entrant across callers.
type RandomTensor struct {
	shape    Shape
	min, max float32
	seed     uint64
}

func NewRandomTensor(shape Shape, min, max float32, seed uint64) *RandomTensor {
	return &RandomTensor{shape: shape, min: min, max: max, seed: seed}
}

func (t *RandomTensor) Shape() Shape { return t.shape }

func (t *RandomTensor) ValueAt(row, col, channel int) float32 {
	s := newDeterministicStream(t.seed, seedFor(t.shape, row, col, channel))
	return s.uniform(t.min, t.max)
}

func (t *RandomTensor) Materialized() bool     { return false }
func (t *RandomTensor) Plan() string           { return fmt.Sprintf("Random{%v,%v}", t.min, t.max) }
func (t *RandomTensor) Contains(o Tensor) bool  { return containsDefault(t, o) }
func (t *RandomTensor) Save(w io.Writer) error  { return SaveTensor(t, w) }

// XavierTensor generates Xavier-initialized weights: uniform in
// [-sqrt(2/(rows+cols))/2, +sqrt(2/(rows+cols))/2], keyed on (shape, seed).
type XavierTensor struct {
	shape Shape
	seed  uint64
	bound float32
}

func NewXavierTensor(shape Shape, seed uint64) *XavierTensor {
	bound := float32(math.Sqrt(2.0/float64(shape.Rows+shape.Cols))) / 2
	return &XavierTensor{shape: shape, seed: seed, bound: bound}
}

func (t *XavierTensor) Shape() Shape { return t.shape }

func (t *XavierTensor) ValueAt(row, col, channel int) float32 {
	s := newDeterministicStream(t.seed, seedFor(t.shape, row, col, channel))
	return s.uniform(-t.bound, t.bound)
}

func (t *XavierTensor) Materialized() bool    { return false }
func (t *XavierTensor) Plan() string          { return fmt.Sprintf("Xavier{%v}", t.bound) }
func (t *XavierTensor) Contains(o Tensor) bool { return containsDefault(t, o) }
func (t *XavierTensor) Save(w io.Writer) error { return SaveTensor(t, w) }

// UniformTensor returns a constant value at every cell.
type UniformTensor struct {
	shape Shape
	value float32
}

func NewUniformTensor(shape Shape, value float32) *UniformTensor {
	return &UniformTensor{shape: shape, value: value}
}

func (t *UniformTensor) Shape() Shape                   { return t.shape }
func (t *UniformTensor) ValueAt(_, _, _ int) float32    { return t.value }
func (t *UniformTensor) Materialized() bool             { return false }
func (t *UniformTensor) Plan() string                   { return fmt.Sprintf("Uniform{%v}", t.value) }
func (t *UniformTensor) Contains(o Tensor) bool          { return containsDefault(t, o) }
func (t *UniformTensor) Save(w io.Writer) error          { return SaveTensor(t, w) }

// IdentityTensor is a square matrix with 1s on the diagonal and 0s
// elsewhere, in a single channel.
type IdentityTensor struct {
	size int
}

func NewIdentityTensor(size int) *IdentityTensor {
	return &IdentityTensor{size: size}
}

func (t *IdentityTensor) Shape() Shape { return Shape{Rows: t.size, Cols: t.size, Channels: 1} }

func (t *IdentityTensor) ValueAt(row, col, _ int) float32 {
	if row == col {
		return 1
	}
	return 0
}

func (t *IdentityTensor) Materialized() bool    { return false }
func (t *IdentityTensor) Plan() string           { return fmt.Sprintf("Identity{%d}", t.size) }
func (t *IdentityTensor) Contains(o Tensor) bool { return containsDefault(t, o) }
func (t *IdentityTensor) Save(w io.Writer) error { return SaveTensor(t, w) }

// FromFunctionTensor wraps an arbitrary pure (row,col,channel)->float32
// function as a tensor leaf.
type FromFunctionTensor struct {
	shape Shape
	fn    func(row, col, channel int) float32
}

func NewFromFunctionTensor(shape Shape, fn func(row, col, channel int) float32) *FromFunctionTensor {
	return &FromFunctionTensor{shape: shape, fn: fn}
}

func (t *FromFunctionTensor) Shape() Shape { return t.shape }
func (t *FromFunctionTensor) ValueAt(row, col, channel int) float32 {
	return t.fn(row, col, channel)
}
func (t *FromFunctionTensor) Materialized() bool    { return false }
func (t *FromFunctionTensor) Plan() string           { return "FromFunction" }
func (t *FromFunctionTensor) Contains(o Tensor) bool { return containsDefault(t, o) }
func (t *FromFunctionTensor) Save(w io.Writer) error { return SaveTensor(t, w) }
