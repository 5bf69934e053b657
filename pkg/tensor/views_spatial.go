package tensor

import (
	"fmt"
	"io"
	"math"

	"happyml/internal/happymlerr"
)

// ZeroPadView independently pads top/bottom/left/right with zeros.
type ZeroPadView struct {
	unaryView
	top, bottom, left, right int
}

func ZeroPad(t Tensor, top, bottom, left, right int) *ZeroPadView {
	return &ZeroPadView{unaryView{t}, top, bottom, left, right}
}
func (v *ZeroPadView) Shape() Shape {
	s := v.operand.Shape()
	return Shape{Rows: s.Rows + v.top + v.bottom, Cols: s.Cols + v.left + v.right, Channels: s.Channels}
}
func (v *ZeroPadView) ValueAt(r, c, ch int) float32 {
	s := v.operand.Shape()
	or, oc := r-v.top, c-v.left
	if or < 0 || or >= s.Rows || oc < 0 || oc >= s.Cols {
		return 0
	}
	return v.operand.ValueAt(or, oc, ch)
}
func (v *ZeroPadView) Plan() string {
	return fmt.Sprintf("ZeroPad{%d,%d,%d,%d}(%s)", v.top, v.bottom, v.left, v.right, v.operand.Plan())
}
func (v *ZeroPadView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *ZeroPadView) Save(w io.Writer) error { return SaveTensor(v, w) }

// WindowView exposes a column subrange [start, end) of the operand.
type WindowView struct {
	unaryView
	start, end int
}

func Window(t Tensor, start, end int) (*WindowView, error) {
	s := t.Shape()
	if start < 0 || end > s.Cols || start >= end {
		return nil, happymlerr.Shapef("window: invalid range [%d,%d) for %d columns", start, end, s.Cols)
	}
	return &WindowView{unaryView{t}, start, end}, nil
}
func (v *WindowView) Shape() Shape {
	s := v.operand.Shape()
	return Shape{Rows: s.Rows, Cols: v.end - v.start, Channels: s.Channels}
}
func (v *WindowView) ValueAt(r, c, ch int) float32 { return v.operand.ValueAt(r, c+v.start, ch) }
func (v *WindowView) Plan() string {
	return fmt.Sprintf("Window{%d,%d}(%s)", v.start, v.end, v.operand.Plan())
}
func (v *WindowView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *WindowView) Save(w io.Writer) error { return SaveTensor(v, w) }

// ConcatWideView column-concatenates two tensors with identical rows and
// channels.
type ConcatWideView struct {
	binaryView
	leftCols int
}

func ConcatWide(a, b Tensor) (*ConcatWideView, error) {
	sa, sb := a.Shape(), b.Shape()
	if sa.Rows != sb.Rows {
		return nil, happymlerr.Shapef("concat-wide: row mismatch %d vs %d", sa.Rows, sb.Rows)
	}
	if sa.Channels != sb.Channels {
		return nil, happymlerr.Shapef("concat-wide: channel mismatch %d vs %d", sa.Channels, sb.Channels)
	}
	return &ConcatWideView{binaryView{a, b}, sa.Cols}, nil
}
func (v *ConcatWideView) Shape() Shape {
	sa, sb := v.left.Shape(), v.right.Shape()
	return Shape{Rows: sa.Rows, Cols: sa.Cols + sb.Cols, Channels: sa.Channels}
}
func (v *ConcatWideView) ValueAt(r, c, ch int) float32 {
	if c < v.leftCols {
		return v.left.ValueAt(r, c, ch)
	}
	return v.right.ValueAt(r, c-v.leftCols, ch)
}
func (v *ConcatWideView) Plan() string {
	return fmt.Sprintf("ConcatWide(%s, %s)", v.left.Plan(), v.right.Plan())
}
func (v *ConcatWideView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *ConcatWideView) Save(w io.Writer) error { return SaveTensor(v, w) }

// Conv2DValidCrossCorrelationView computes, per output filter, the sum over
// input channels of a valid (no padding) 2-D cross-correlation between the
// input and that filter's per-channel kernel. out.rows = in.rows -
// kernel.rows + 1, same for cols. Kernels are given as a slice of tensors,
// one per filter, each shaped (kRows, kCols, inChannels).
type Conv2DValidCrossCorrelationView struct {
	input   Tensor
	kernels []Tensor
}

func Conv2DValidCrossCorrelation(input Tensor, kernels []Tensor) (*Conv2DValidCrossCorrelationView, error) {
	is := input.Shape()
	if len(kernels) == 0 {
		return nil, happymlerr.Shapef("conv2d valid: no filters supplied")
	}
	ks := kernels[0].Shape()
	if ks.Rows > is.Rows || ks.Cols > is.Cols {
		return nil, happymlerr.Shapef("conv2d valid: kernel %dx%d larger than input %dx%d", ks.Rows, ks.Cols, is.Rows, is.Cols)
	}
	if ks.Channels != is.Channels {
		return nil, happymlerr.Shapef("conv2d valid: kernel channels %d != input channels %d", ks.Channels, is.Channels)
	}
	return &Conv2DValidCrossCorrelationView{input, kernels}, nil
}

func (v *Conv2DValidCrossCorrelationView) Shape() Shape {
	is, ks := v.input.Shape(), v.kernels[0].Shape()
	return Shape{Rows: is.Rows - ks.Rows + 1, Cols: is.Cols - ks.Cols + 1, Channels: len(v.kernels)}
}
func (v *Conv2DValidCrossCorrelationView) Materialized() bool { return false }
func (v *Conv2DValidCrossCorrelationView) Operands() []Tensor {
	ops := append([]Tensor{v.input}, v.kernels...)
	return ops
}
func (v *Conv2DValidCrossCorrelationView) ValueAt(r, c, filter int) float32 {
	kernel := v.kernels[filter]
	ks := kernel.Shape()
	var sum float32
	for ch := 0; ch < ks.Channels; ch++ {
		for kr := 0; kr < ks.Rows; kr++ {
			for kc := 0; kc < ks.Cols; kc++ {
				sum += v.input.ValueAt(r+kr, c+kc, ch) * kernel.ValueAt(kr, kc, ch)
			}
		}
	}
	return sum
}
func (v *Conv2DValidCrossCorrelationView) Plan() string {
	return fmt.Sprintf("Conv2DValidCrossCorrelation{filters=%d}(%s)", len(v.kernels), v.input.Plan())
}
func (v *Conv2DValidCrossCorrelationView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *Conv2DValidCrossCorrelationView) Save(w io.Writer) error { return SaveTensor(v, w) }

// Conv2DFullCrossCorrelation zero-pads the input by round((K-1)/2) on each
// side, then runs a valid cross-correlation, used by the convolution
// layer's backward pass to compute input error via full convolution
// (pairing this with a 180-rotated kernel).
func Conv2DFullCrossCorrelation(input Tensor, kernels []Tensor) (*Conv2DValidCrossCorrelationView, error) {
	ks := kernels[0].Shape()
	padRows := int(math.Round(float64(ks.Rows-1) / 2))
	padCols := int(math.Round(float64(ks.Cols-1) / 2))
	padded := ZeroPad(input, padRows, padRows, padCols, padCols)
	return Conv2DValidCrossCorrelation(padded, kernels)
}

// Conv2DFullConvolution is full cross-correlation performed against a
// 180-degree-rotated kernel, i.e. true convolution.
func Conv2DFullConvolution(input Tensor, kernels []Tensor) (*Conv2DValidCrossCorrelationView, error) {
	rotated := make([]Tensor, len(kernels))
	for i, k := range kernels {
		rotated[i] = Rotate180(k)
	}
	return Conv2DFullCrossCorrelation(input, rotated)
}
