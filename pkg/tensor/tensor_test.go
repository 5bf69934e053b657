package tensor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangeTensor(rows, cols, channels int) *F32Tensor {
	return NewF32Tensor(NewFromFunctionTensor(Shape{Rows: rows, Cols: cols, Channels: channels}, func(r, c, ch int) float32 {
		return float32(ch*rows*cols + r*cols + c)
	}))
}

func assertTensorsEqual(t *testing.T, a, b Tensor) {
	t.Helper()
	sa, sb := a.Shape(), b.Shape()
	require.Equal(t, sa, sb)
	for ch := 0; ch < sa.Channels; ch++ {
		for r := 0; r < sa.Rows; r++ {
			for c := 0; c < sa.Cols; c++ {
				assert.InDelta(t, a.ValueAt(r, c, ch), b.ValueAt(r, c, ch), 1e-5)
			}
		}
	}
}

func TestValueAtIsDeterministic(t *testing.T) {
	tn := rangeTensor(3, 3, 1)
	view := AddScalar(tn, 1.5)
	first := view.ValueAt(1, 2, 0)
	second := view.ValueAt(1, 2, 0)
	assert.Equal(t, first, second)
}

func TestMaterialize32IsExactCopy(t *testing.T) {
	tn := rangeTensor(3, 3, 1)
	copy32, err := Materialize(tn, 32)
	require.NoError(t, err)
	assertTensorsEqual(t, tn, copy32)
}

func TestMaterialize32PassesThroughAlreadyMaterialized(t *testing.T) {
	tn := rangeTensor(2, 2, 1)
	same, err := Materialize(tn, 32)
	require.NoError(t, err)
	assert.Same(t, tn, same.(*F32Tensor))
}

func TestReshapeRoundTrip(t *testing.T) {
	tn := rangeTensor(2, 3, 1)
	reshaped, err := Reshape(tn, 3, 2)
	require.NoError(t, err)
	back, err := Reshape(reshaped, 2, 3)
	require.NoError(t, err)
	assertTensorsEqual(t, tn, back)
}

func TestReshapeIncompatibleSizeFails(t *testing.T) {
	tn := rangeTensor(2, 3, 1)
	_, err := Reshape(tn, 4, 4)
	require.Error(t, err)
}

func TestTransposeInvolution(t *testing.T) {
	tn := rangeTensor(2, 3, 1)
	back := Transpose(Transpose(tn))
	assertTensorsEqual(t, tn, back)
}

func TestRotate180Involution(t *testing.T) {
	tn := rangeTensor(3, 3, 1)
	back := Rotate180(Rotate180(tn))
	assertTensorsEqual(t, tn, back)
}

func TestAddIdentityAndCommutativity(t *testing.T) {
	a := rangeTensor(2, 2, 1)
	zeros := NewUniformTensor(a.Shape(), 0)
	sum, err := Add(a, zeros)
	require.NoError(t, err)
	assertTensorsEqual(t, a, sum)

	b := rangeTensor(2, 2, 1)
	ab, err := Add(a, b)
	require.NoError(t, err)
	ba, err := Add(b, a)
	require.NoError(t, err)
	assertTensorsEqual(t, ab, ba)
}

func TestMatMulWithIdentity(t *testing.T) {
	a := rangeTensor(3, 3, 1)
	identity := NewIdentityTensor(3)
	product, err := MatMul(a, identity)
	require.NoError(t, err)
	assertTensorsEqual(t, a, product)
}

func TestFlattenReshapeInverse(t *testing.T) {
	tn := rangeTensor(2, 3, 1)
	flat := FlattenToRow(tn)
	back, err := Reshape(flat, 2, 3)
	require.NoError(t, err)
	assertTensorsEqual(t, tn, back)
}

func TestSumChannelsIdempotent(t *testing.T) {
	tn := rangeTensor(2, 2, 3)
	once := SumChannels(tn)
	twice := SumChannels(once)
	assertTensorsEqual(t, once, twice)
}

func TestConcatWideShapeMismatchFails(t *testing.T) {
	a := rangeTensor(2, 2, 1)
	b := rangeTensor(3, 2, 1)
	_, err := ConcatWide(a, b)
	require.Error(t, err)
}

func TestConv2DValidKernelLargerThanInputFails(t *testing.T) {
	input := rangeTensor(2, 2, 1)
	kernel := rangeTensor(3, 3, 1)
	_, err := Conv2DValidCrossCorrelation(input, []Tensor{kernel})
	require.Error(t, err)
}

func TestDiagonalOnSingleRowProducesSquareMatrix(t *testing.T) {
	row := NewF32Tensor(NewFromFunctionTensor(Shape{Rows: 1, Cols: 3, Channels: 1}, func(_, c, _ int) float32 {
		return float32(c + 1)
	}))
	diag := Diagonal(row, 0)
	s := diag.Shape()
	require.Equal(t, Shape{Rows: 3, Cols: 3, Channels: 1}, s)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if r == c {
				assert.Equal(t, float32(r+1), diag.ValueAt(r, c, 0))
			} else {
				assert.Equal(t, float32(0), diag.ValueAt(r, c, 0))
			}
		}
	}
}

func TestDiagonalOnMatrixProducesRow(t *testing.T) {
	tn := rangeTensor(3, 3, 1)
	diag := Diagonal(tn, 0)
	s := diag.Shape()
	require.Equal(t, Shape{Rows: 1, Cols: 3, Channels: 1}, s)
	for c := 0; c < 3; c++ {
		assert.Equal(t, tn.ValueAt(c, c, 0), diag.ValueAt(0, c, 0))
	}
}

func TestF16RoundTripWithinTolerance(t *testing.T) {
	tn := rangeTensor(3, 3, 1)
	half, err := Materialize(tn, 16)
	require.NoError(t, err)
	sa := tn.Shape()
	for ch := 0; ch < sa.Channels; ch++ {
		for r := 0; r < sa.Rows; r++ {
			for c := 0; c < sa.Cols; c++ {
				assert.InDelta(t, tn.ValueAt(r, c, ch), half.ValueAt(r, c, ch), 1e-3)
			}
		}
	}
}

func TestQ8RoundTripWithinTolerance(t *testing.T) {
	tn := rangeTensor(3, 3, 1) // values 0..8
	quarter, err := Materialize(tn, 8)
	require.NoError(t, err)
	sa := tn.Shape()
	for ch := 0; ch < sa.Channels; ch++ {
		for r := 0; r < sa.Rows; r++ {
			for c := 0; c < sa.Cols; c++ {
				assert.InDelta(t, tn.ValueAt(r, c, ch), quarter.ValueAt(r, c, ch), 0.1)
			}
		}
	}
}

func TestSaveLoadTensorRoundTrip(t *testing.T) {
	tn := rangeTensor(3, 3, 1)
	var buf bytes.Buffer
	require.NoError(t, tn.Save(&buf))

	loaded, err := LoadTensor(&buf, 32)
	require.NoError(t, err)
	assertTensorsEqual(t, tn, loaded)
}

func TestContainsDetectsOperand(t *testing.T) {
	a := rangeTensor(2, 2, 1)
	b := rangeTensor(2, 2, 1)
	sum, err := Add(a, b)
	require.NoError(t, err)
	assert.True(t, sum.Contains(a))
	assert.True(t, sum.Contains(b))
	assert.False(t, sum.Contains(rangeTensor(2, 2, 1)))
}

func TestHasInvalidValuesDetectsNaN(t *testing.T) {
	clean := rangeTensor(2, 2, 1)
	assert.False(t, HasInvalidValues(clean))

	withNaN := Log(AddScalar(clean, -100)) // log of negative values is NaN
	assert.True(t, HasInvalidValues(withNaN))
}

func TestClipSaturatesToBounds(t *testing.T) {
	tn := rangeTensor(3, 3, 1)
	clipped := Clip(tn, 2, 5)
	assert.Equal(t, float32(2), clipped.ValueAt(0, 0, 0))
	assert.Equal(t, float32(5), clipped.ValueAt(2, 2, 0))
}
