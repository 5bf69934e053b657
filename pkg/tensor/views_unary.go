package tensor

import (
	"fmt"
	"io"
	"math"

	"happyml/internal/happymlerr"
)

// unaryView is embedded by every single-operand view to share Materialized/
// Contains/Save/Operands plumbing.
type unaryView struct {
	operand Tensor
}

func (v unaryView) Materialized() bool   { return false }
func (v unaryView) Operands() []Tensor   { return []Tensor{v.operand} }

// AddScalarView adds a constant to every cell.
type AddScalarView struct {
	unaryView
	scalar float32
}

func AddScalar(t Tensor, scalar float32) *AddScalarView {
	return &AddScalarView{unaryView{t}, scalar}
}
func (v *AddScalarView) Shape() Shape { return v.operand.Shape() }
func (v *AddScalarView) ValueAt(r, c, ch int) float32 {
	return v.operand.ValueAt(r, c, ch) + v.scalar
}
func (v *AddScalarView) Plan() string           { return fmt.Sprintf("AddScalar{%v}(%s)", v.scalar, v.operand.Plan()) }
func (v *AddScalarView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *AddScalarView) Save(w io.Writer) error { return SaveTensor(v, w) }

// MulScalarView multiplies every cell by a constant.
type MulScalarView struct {
	unaryView
	scalar float32
}

func MulScalar(t Tensor, scalar float32) *MulScalarView {
	return &MulScalarView{unaryView{t}, scalar}
}
func (v *MulScalarView) Shape() Shape { return v.operand.Shape() }
func (v *MulScalarView) ValueAt(r, c, ch int) float32 {
	return v.operand.ValueAt(r, c, ch) * v.scalar
}
func (v *MulScalarView) Plan() string           { return fmt.Sprintf("MulScalar{%v}(%s)", v.scalar, v.operand.Plan()) }
func (v *MulScalarView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *MulScalarView) Save(w io.Writer) error { return SaveTensor(v, w) }

// PowView raises every cell to a constant power.
type PowView struct {
	unaryView
	exponent float32
}

func Pow(t Tensor, exponent float32) *PowView { return &PowView{unaryView{t}, exponent} }
func (v *PowView) Shape() Shape                { return v.operand.Shape() }
func (v *PowView) ValueAt(r, c, ch int) float32 {
	return float32(math.Pow(float64(v.operand.ValueAt(r, c, ch)), float64(v.exponent)))
}
func (v *PowView) Plan() string           { return fmt.Sprintf("Pow{%v}(%s)", v.exponent, v.operand.Plan()) }
func (v *PowView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *PowView) Save(w io.Writer) error { return SaveTensor(v, w) }

// LogView computes the natural log of every cell. Non-positive inputs
// propagate NaN/-Inf per the spec's numeric-error policy: not caught here.
type LogView struct{ unaryView }

func Log(t Tensor) *LogView { return &LogView{unaryView{t}} }
func (v *LogView) Shape() Shape { return v.operand.Shape() }
func (v *LogView) ValueAt(r, c, ch int) float32 {
	return float32(math.Log(float64(v.operand.ValueAt(r, c, ch))))
}
func (v *LogView) Plan() string           { return fmt.Sprintf("Log(%s)", v.operand.Plan()) }
func (v *LogView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *LogView) Save(w io.Writer) error { return SaveTensor(v, w) }

// Log2View computes log base 2 of every cell.
type Log2View struct{ unaryView }

func Log2(t Tensor) *Log2View { return &Log2View{unaryView{t}} }
func (v *Log2View) Shape() Shape { return v.operand.Shape() }
func (v *Log2View) ValueAt(r, c, ch int) float32 {
	return float32(math.Log2(float64(v.operand.ValueAt(r, c, ch))))
}
func (v *Log2View) Plan() string           { return fmt.Sprintf("Log2(%s)", v.operand.Plan()) }
func (v *Log2View) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *Log2View) Save(w io.Writer) error { return SaveTensor(v, w) }

// RoundView rounds every cell to the nearest integer.
type RoundView struct{ unaryView }

func Round(t Tensor) *RoundView { return &RoundView{unaryView{t}} }
func (v *RoundView) Shape() Shape { return v.operand.Shape() }
func (v *RoundView) ValueAt(r, c, ch int) float32 {
	return float32(math.Round(float64(v.operand.ValueAt(r, c, ch))))
}
func (v *RoundView) Plan() string           { return fmt.Sprintf("Round(%s)", v.operand.Plan()) }
func (v *RoundView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *RoundView) Save(w io.Writer) error { return SaveTensor(v, w) }

// Rotate180View rotates each channel's 2-D plane 180 degrees (reverses both
// row and column order). Its own rotation is an involution.
type Rotate180View struct{ unaryView }

func Rotate180(t Tensor) *Rotate180View { return &Rotate180View{unaryView{t}} }
func (v *Rotate180View) Shape() Shape   { return v.operand.Shape() }
func (v *Rotate180View) ValueAt(r, c, ch int) float32 {
	s := v.operand.Shape()
	return v.operand.ValueAt(s.Rows-1-r, s.Cols-1-c, ch)
}
func (v *Rotate180View) Plan() string           { return fmt.Sprintf("Rotate180(%s)", v.operand.Plan()) }
func (v *Rotate180View) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *Rotate180View) Save(w io.Writer) error { return SaveTensor(v, w) }

// ClipView clamps every cell to [min, max].
type ClipView struct {
	unaryView
	min, max float32
}

func Clip(t Tensor, min, max float32) *ClipView { return &ClipView{unaryView{t}, min, max} }
func (v *ClipView) Shape() Shape                 { return v.operand.Shape() }
func (v *ClipView) ValueAt(r, c, ch int) float32 {
	val := v.operand.ValueAt(r, c, ch)
	if val < v.min {
		return v.min
	}
	if val > v.max {
		return v.max
	}
	return val
}
func (v *ClipView) Plan() string           { return fmt.Sprintf("Clip{%v,%v}(%s)", v.min, v.max, v.operand.Plan()) }
func (v *ClipView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *ClipView) Save(w io.Writer) error { return SaveTensor(v, w) }

// ValueTransformView applies an arbitrary pure f32->f32 function to every
// cell (used by activation layers to wrap their forward transform as a
// view without materializing).
type ValueTransformView struct {
	unaryView
	fn    func(float32) float32
	label string
}

func ValueTransform(t Tensor, label string, fn func(float32) float32) *ValueTransformView {
	return &ValueTransformView{unaryView{t}, fn, label}
}
func (v *ValueTransformView) Shape() Shape { return v.operand.Shape() }
func (v *ValueTransformView) ValueAt(r, c, ch int) float32 {
	return v.fn(v.operand.ValueAt(r, c, ch))
}
func (v *ValueTransformView) Plan() string {
	return fmt.Sprintf("ValueTransform{%s}(%s)", v.label, v.operand.Plan())
}
func (v *ValueTransformView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *ValueTransformView) Save(w io.Writer) error { return SaveTensor(v, w) }

// ReshapeView reinterprets the same per-channel elements at a new row/col
// layout. Channel count and elements-per-channel must match; violation
// fails at construction.
type ReshapeView struct {
	unaryView
	rows, cols int
}

func Reshape(t Tensor, rows, cols int) (*ReshapeView, error) {
	s := t.Shape()
	if rows*cols != s.ElementsPerChannel() {
		return nil, happymlerr.Shapef(
			"reshape: %d*%d != %d*%d (rows*cols must match per channel)", rows, cols, s.Rows, s.Cols)
	}
	return &ReshapeView{unaryView{t}, rows, cols}, nil
}
func (v *ReshapeView) Shape() Shape {
	return Shape{Rows: v.rows, Cols: v.cols, Channels: v.operand.Shape().Channels}
}
func (v *ReshapeView) ValueAt(r, c, ch int) float32 {
	flat := r*v.cols + c
	s := v.operand.Shape()
	origRow := flat / s.Cols
	origCol := flat % s.Cols
	return v.operand.ValueAt(origRow, origCol, ch)
}
func (v *ReshapeView) Plan() string {
	return fmt.Sprintf("Reshape{%d,%d}(%s)", v.rows, v.cols, v.operand.Plan())
}
func (v *ReshapeView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *ReshapeView) Save(w io.Writer) error { return SaveTensor(v, w) }

// FlattenToRowView exposes the operand's full contents, every channel
// included, as a single row in a single channel, in (channel, row, col)
// order. Requesting any other row or channel is a caller error (panics,
// since it indicates a contract violation rather than a recoverable
// failure).
type FlattenToRowView struct{ unaryView }

func FlattenToRow(t Tensor) *FlattenToRowView { return &FlattenToRowView{unaryView{t}} }
func (v *FlattenToRowView) Shape() Shape {
	s := v.operand.Shape()
	return Shape{Rows: 1, Cols: s.Elements(), Channels: 1}
}
func (v *FlattenToRowView) ValueAt(row, col, ch int) float32 {
	if row != 0 || ch != 0 {
		panic("FlattenToRowView: row vector has only a single row and channel")
	}
	s := v.operand.Shape()
	perChannel := s.ElementsPerChannel()
	rem := col % perChannel
	return v.operand.ValueAt(rem/s.Cols, rem%s.Cols, col/perChannel)
}
func (v *FlattenToRowView) Plan() string           { return fmt.Sprintf("FlattenToRow(%s)", v.operand.Plan()) }
func (v *FlattenToRowView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *FlattenToRowView) Save(w io.Writer) error { return SaveTensor(v, w) }

// TransposeView swaps rows and columns, preserving channels.
type TransposeView struct{ unaryView }

func Transpose(t Tensor) *TransposeView { return &TransposeView{unaryView{t}} }
func (v *TransposeView) Shape() Shape {
	s := v.operand.Shape()
	return Shape{Rows: s.Cols, Cols: s.Rows, Channels: s.Channels}
}
func (v *TransposeView) ValueAt(r, c, ch int) float32 { return v.operand.ValueAt(c, r, ch) }
func (v *TransposeView) Plan() string                 { return fmt.Sprintf("Transpose(%s)", v.operand.Plan()) }
func (v *TransposeView) Contains(o Tensor) bool        { return containsDefault(v, o) }
func (v *TransposeView) Save(w io.Writer) error        { return SaveTensor(v, w) }

// ChannelPickView extracts one channel, exposed as channel 0 of the result.
type ChannelPickView struct {
	unaryView
	channel int
}

func ChannelPick(t Tensor, channel int) *ChannelPickView {
	return &ChannelPickView{unaryView{t}, channel}
}
func (v *ChannelPickView) Shape() Shape {
	s := v.operand.Shape()
	return Shape{Rows: s.Rows, Cols: s.Cols, Channels: 1}
}
func (v *ChannelPickView) ValueAt(r, c, _ int) float32 {
	return v.operand.ValueAt(r, c, v.channel)
}
func (v *ChannelPickView) Plan() string {
	return fmt.Sprintf("ChannelPick{%d}(%s)", v.channel, v.operand.Plan())
}
func (v *ChannelPickView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *ChannelPickView) Save(w io.Writer) error { return SaveTensor(v, w) }

// DiagonalView resolves the spec's open question on TensorDiagonalView's two
// shape regimes: a single-row operand produces a square matrix with that
// row as its diagonal and zeros elsewhere; any other operand produces a
// single row taken from its own main diagonal, offset by `offset`.
type DiagonalView struct {
	unaryView
	offset int
}

func Diagonal(t Tensor, offset int) *DiagonalView { return &DiagonalView{unaryView{t}, offset} }

func (v *DiagonalView) Shape() Shape {
	s := v.operand.Shape()
	if s.Rows == 1 {
		return Shape{Rows: s.Cols, Cols: s.Cols, Channels: s.Channels}
	}
	return Shape{Rows: 1, Cols: s.Rows - v.offset, Channels: s.Channels}
}

func (v *DiagonalView) ValueAt(r, c, ch int) float32 {
	s := v.operand.Shape()
	if s.Rows == 1 {
		if r != c {
			return 0
		}
		return v.operand.ValueAt(0, r, ch)
	}
	return v.operand.ValueAt(c+v.offset, c+v.offset, ch)
}
func (v *DiagonalView) Plan() string           { return fmt.Sprintf("Diagonal{%d}(%s)", v.offset, v.operand.Plan()) }
func (v *DiagonalView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *DiagonalView) Save(w io.Writer) error { return SaveTensor(v, w) }
