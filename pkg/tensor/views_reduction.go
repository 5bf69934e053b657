package tensor

import (
	"fmt"
	"io"
)

// SumToChannelView collapses all channels into one chosen output channel,
// leaving other channels as zero.
type SumToChannelView struct {
	unaryView
	target int
}

func SumToChannel(t Tensor, target int) *SumToChannelView {
	return &SumToChannelView{unaryView{t}, target}
}
func (v *SumToChannelView) Shape() Shape {
	s := v.operand.Shape()
	return Shape{Rows: s.Rows, Cols: s.Cols, Channels: s.Channels}
}
func (v *SumToChannelView) ValueAt(r, c, ch int) float32 {
	if ch != v.target {
		return 0
	}
	s := v.operand.Shape()
	var sum float32
	for i := 0; i < s.Channels; i++ {
		sum += v.operand.ValueAt(r, c, i)
	}
	return sum
}
func (v *SumToChannelView) Plan() string {
	return fmt.Sprintf("SumToChannel{%d}(%s)", v.target, v.operand.Plan())
}
func (v *SumToChannelView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *SumToChannelView) Save(w io.Writer) error { return SaveTensor(v, w) }

// SumChannelsView collapses all channels down to a single channel at index
// 0 (a convenience alias of SumToChannel with a 1-channel shape).
type SumChannelsView struct{ unaryView }

func SumChannels(t Tensor) *SumChannelsView { return &SumChannelsView{unaryView{t}} }
func (v *SumChannelsView) Shape() Shape {
	s := v.operand.Shape()
	return Shape{Rows: s.Rows, Cols: s.Cols, Channels: 1}
}
func (v *SumChannelsView) ValueAt(r, c, _ int) float32 {
	s := v.operand.Shape()
	var sum float32
	for i := 0; i < s.Channels; i++ {
		sum += v.operand.ValueAt(r, c, i)
	}
	return sum
}
func (v *SumChannelsView) Plan() string           { return fmt.Sprintf("SumChannels(%s)", v.operand.Plan()) }
func (v *SumChannelsView) Contains(o Tensor) bool { return containsDefault(v, o) }
func (v *SumChannelsView) Save(w io.Writer) error { return SaveTensor(v, w) }
