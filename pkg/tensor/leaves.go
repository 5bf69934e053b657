package tensor

import (
	"fmt"
	"io"
)

// F32Tensor stores values at full 32-bit precision: an exact copy of the
// source's f32 contract, no conversion loss.
type F32Tensor struct {
	shape  Shape
	values []float32 // (channel, row, col) order
}

// NewF32Tensor materializes any tensor at 32-bit precision.
func NewF32Tensor(src Tensor) *F32Tensor {
	s := src.Shape()
	values := make([]float32, s.Elements())
	i := 0
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				values[i] = src.ValueAt(r, c, ch)
				i++
			}
		}
	}
	return &F32Tensor{shape: s, values: values}
}

// F32FromRows builds a materialized 32-bit tensor directly from row-major
// float data, one channel.
func F32FromRows(rows [][]float32) *F32Tensor {
	r := len(rows)
	c := 0
	if r > 0 {
		c = len(rows[0])
	}
	values := make([]float32, r*c)
	i := 0
	for _, row := range rows {
		for _, v := range row {
			values[i] = v
			i++
		}
	}
	return &F32Tensor{shape: Shape{Rows: r, Cols: c, Channels: 1}, values: values}
}

func (t *F32Tensor) Shape() Shape { return t.shape }

func (t *F32Tensor) index(row, col, channel int) int {
	return channel*t.shape.ElementsPerChannel() + row*t.shape.Cols + col
}

func (t *F32Tensor) ValueAt(row, col, channel int) float32 {
	return t.values[t.index(row, col, channel)]
}

func (t *F32Tensor) Materialized() bool { return true }
func (t *F32Tensor) Plan() string {
	return fmt.Sprintf("F32Tensor{%d,%d,%d}", t.shape.Rows, t.shape.Cols, t.shape.Channels)
}
func (t *F32Tensor) Contains(o Tensor) bool { return containsDefault(t, o) }
func (t *F32Tensor) Save(w io.Writer) error { return SaveTensor(t, w) }

// F16Tensor stores values at half precision (correct IEEE-like binary16,
// not the source's truncating conversion).
type F16Tensor struct {
	shape  Shape
	values []half16
}

func NewF16Tensor(src Tensor) *F16Tensor {
	s := src.Shape()
	values := make([]half16, s.Elements())
	i := 0
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				values[i] = floatToHalf(src.ValueAt(r, c, ch))
				i++
			}
		}
	}
	return &F16Tensor{shape: s, values: values}
}

func (t *F16Tensor) Shape() Shape { return t.shape }

func (t *F16Tensor) index(row, col, channel int) int {
	return channel*t.shape.ElementsPerChannel() + row*t.shape.Cols + col
}

func (t *F16Tensor) ValueAt(row, col, channel int) float32 {
	return halfToFloat(t.values[t.index(row, col, channel)])
}

func (t *F16Tensor) Materialized() bool { return true }
func (t *F16Tensor) Plan() string {
	return fmt.Sprintf("F16Tensor{%d,%d,%d}", t.shape.Rows, t.shape.Cols, t.shape.Channels)
}
func (t *F16Tensor) Contains(o Tensor) bool { return containsDefault(t, o) }
func (t *F16Tensor) Save(w io.Writer) error { return SaveTensor(t, w) }

// Q8Tensor stores values at 8-bit "quarter float" precision with a
// per-tensor bias chosen to fit the tensor's observed dynamic range.
type Q8Tensor struct {
	shape  Shape
	bias   int
	values []quarter8
}

func NewQ8Tensor(src Tensor, bias int) *Q8Tensor {
	s := src.Shape()
	values := make([]quarter8, s.Elements())
	i := 0
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				values[i] = floatToQuarter(src.ValueAt(r, c, ch), bias)
				i++
			}
		}
	}
	return &Q8Tensor{shape: s, bias: bias, values: values}
}

func (t *Q8Tensor) Shape() Shape { return t.shape }
func (t *Q8Tensor) Bias() int    { return t.bias }

func (t *Q8Tensor) index(row, col, channel int) int {
	return channel*t.shape.ElementsPerChannel() + row*t.shape.Cols + col
}

func (t *Q8Tensor) ValueAt(row, col, channel int) float32 {
	return quarterToFloat(t.values[t.index(row, col, channel)], t.bias)
}

func (t *Q8Tensor) Materialized() bool { return true }
func (t *Q8Tensor) Plan() string {
	return fmt.Sprintf("Q8Tensor{%d,%d,%d,bias=%d}", t.shape.Rows, t.shape.Cols, t.shape.Channels, t.bias)
}
func (t *Q8Tensor) Contains(o Tensor) bool { return containsDefault(t, o) }
func (t *Q8Tensor) Save(w io.Writer) error { return SaveTensor(t, w) }

// PixelTensor stores clamp(v,0,1)*255 as a u8; reads return u8/255. Used
// for image-like tensors where values are known to lie in [0,1].
type PixelTensor struct {
	shape  Shape
	values []uint8
}

func NewPixelTensor(src Tensor) *PixelTensor {
	s := src.Shape()
	values := make([]uint8, s.Elements())
	i := 0
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				v := src.ValueAt(r, c, ch)
				if v < 0 {
					v = 0
				} else if v > 1 {
					v = 1
				}
				values[i] = uint8(v * 255)
				i++
			}
		}
	}
	return &PixelTensor{shape: s, values: values}
}

func (t *PixelTensor) Shape() Shape { return t.shape }

func (t *PixelTensor) index(row, col, channel int) int {
	return channel*t.shape.ElementsPerChannel() + row*t.shape.Cols + col
}

func (t *PixelTensor) ValueAt(row, col, channel int) float32 {
	return float32(t.values[t.index(row, col, channel)]) / 255
}

func (t *PixelTensor) Materialized() bool { return true }
func (t *PixelTensor) Plan() string {
	return fmt.Sprintf("PixelTensor{%d,%d,%d}", t.shape.Rows, t.shape.Cols, t.shape.Channels)
}
func (t *PixelTensor) Contains(o Tensor) bool { return containsDefault(t, o) }
func (t *PixelTensor) Save(w io.Writer) error { return SaveTensor(t, w) }
