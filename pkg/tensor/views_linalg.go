package tensor

import (
	"fmt"
	"io"

	"happyml/internal/happymlerr"
)

// MatMulView computes a per-channel matrix product: A.cols must equal
// B.rows, and channel counts must match; the result has A.rows rows and
// B.cols columns.
type MatMulView struct{ binaryView }

func MatMul(a, b Tensor) (*MatMulView, error) {
	sa, sb := a.Shape(), b.Shape()
	if sa.Cols != sb.Rows {
		return nil, happymlerr.Shapef("matmul: A.cols=%d != B.rows=%d", sa.Cols, sb.Rows)
	}
	if sa.Channels != sb.Channels {
		return nil, happymlerr.Shapef("matmul: channel mismatch %d vs %d", sa.Channels, sb.Channels)
	}
	return &MatMulView{binaryView{a, b}}, nil
}

func (v *MatMulView) Shape() Shape {
	sa, sb := v.left.Shape(), v.right.Shape()
	return Shape{Rows: sa.Rows, Cols: sb.Cols, Channels: sa.Channels}
}

func (v *MatMulView) ValueAt(r, c, ch int) float32 {
	sa := v.left.Shape()
	var sum float32
	for k := 0; k < sa.Cols; k++ {
		sum += v.left.ValueAt(r, k, ch) * v.right.ValueAt(k, c, ch)
	}
	return sum
}
func (v *MatMulView) Plan() string {
	return fmt.Sprintf("MatMul(%s, %s)", v.left.Plan(), v.right.Plan())
}
func (v *MatMulView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *MatMulView) Save(w io.Writer) error { return SaveTensor(v, w) }
