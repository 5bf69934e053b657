// Package tensor implements the lazy tensor algebra graph: materialized
// leaves at 32/16/8-bit precision, procedural leaves, and non-materialized
// views that compute values on demand from one or two operands.
//
// A tensor's shape is immutable for its lifetime. Views are acyclic by
// construction: a view only ever holds references to tensors built before
// it. Binary operator views validate operand-shape compatibility at
// construction and return a *happymlerr.Error (via panic-free constructors
// returning error) on mismatch.
package tensor

import "io"

// Tensor is the capability set every leaf and view implements: shape,
// value_at, materialized?, contains, save, and a human-readable
// materialization plan.
type Tensor interface {
	Shape() Shape
	ValueAt(row, col, channel int) float32
	Materialized() bool
	Plan() string

	// Contains reports whether other is reachable through this tensor's
	// view DAG (including itself).
	Contains(other Tensor) bool

	// Save streams this tensor to disk in the portable on-disk format:
	// u64 channels; u64 rows; u64 cols; then channels*rows*cols float32
	// values in (channel, row, col) order.
	Save(w io.Writer) error
}

// operandHolder is implemented by views so the generic Contains/Plan helpers
// can walk the DAG without every view re-implementing the traversal.
type operandHolder interface {
	Operands() []Tensor
}

// containsDefault is the shared Contains implementation: identity, or any
// operand (recursively) contains other.
func containsDefault(self, other Tensor) bool {
	if self == other {
		return true
	}
	if holder, ok := self.(operandHolder); ok {
		for _, op := range holder.Operands() {
			if op.Contains(other) {
				return true
			}
		}
	}
	return false
}

// SaveTensor writes any tensor to w in the on-disk format, regardless of its
// underlying precision; readers may later load it at any precision class.
func SaveTensor(t Tensor, w io.Writer) error {
	s := t.Shape()
	if err := writeU64(w, uint64(s.Channels)); err != nil {
		return err
	}
	if err := writeU64(w, uint64(s.Rows)); err != nil {
		return err
	}
	if err := writeU64(w, uint64(s.Cols)); err != nil {
		return err
	}
	for ch := 0; ch < s.Channels; ch++ {
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				if err := writeF32(w, t.ValueAt(r, c, ch)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
