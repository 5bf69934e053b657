package tensor

import (
	"encoding/binary"
	"io"
	"math"

	"happyml/internal/happymlerr"
)

// The on-disk format always writes big-endian, matching the source's
// "portableBytes" byte-swap helper (which swaps little-endian hosts to a
// big-endian wire format and is a no-op on big-endian hosts). Using
// encoding/binary.BigEndian directly gives the same wire bytes without
// needing a runtime byte-order switch.

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeF32(w io.Writer, v float32) error {
	return writeU32(w, math.Float32bits(v))
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readF32(r io.Reader) (float32, error) {
	v, err := readU32(r)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// LoadTensor reads the on-disk tensor format and materializes it at the
// requested bit width (32, 16, or 8). For 8-bit, the full set of values is
// read first so a covering bias can be chosen.
func LoadTensor(r io.Reader, bits int) (Tensor, error) {
	channels, err := readU64(r)
	if err != nil {
		return nil, happymlerr.Wrap(happymlerr.ErrIO, "read channel count", err)
	}
	rows, err := readU64(r)
	if err != nil {
		return nil, happymlerr.Wrap(happymlerr.ErrIO, "read row count", err)
	}
	cols, err := readU64(r)
	if err != nil {
		return nil, happymlerr.Wrap(happymlerr.ErrIO, "read column count", err)
	}

	shape := Shape{Rows: int(rows), Cols: int(cols), Channels: int(channels)}
	values := make([]float32, shape.Elements())
	for i := range values {
		v, err := readF32(r)
		if err != nil {
			return nil, happymlerr.Wrap(happymlerr.ErrIO, "read tensor value", err)
		}
		values[i] = v
	}

	src := &rawValues{shape: shape, values: values}
	return Materialize(src, bits)
}

// rawValues is an internal materialized-32-bit-equivalent leaf used only to
// feed Materialize() after a disk load; it stores values in (channel, row,
// col) order exactly as read.
type rawValues struct {
	shape  Shape
	values []float32
}

func (t *rawValues) Shape() Shape { return t.shape }

func (t *rawValues) ValueAt(row, col, channel int) float32 {
	idx := channel*t.shape.ElementsPerChannel() + row*t.shape.Cols + col
	return t.values[idx]
}

func (t *rawValues) Materialized() bool       { return true }
func (t *rawValues) Plan() string             { return "RawValues" }
func (t *rawValues) Contains(o Tensor) bool   { return containsDefault(t, o) }
func (t *rawValues) Save(w io.Writer) error   { return SaveTensor(t, w) }
