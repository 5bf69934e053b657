package nn

import (
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// NewProgressBar builds an mpb-backed progress bar and returns an onProgress
// callback compatible with Train's onProgress parameter: each processed
// batch advances the bar by one. wait blocks until the bar has finished
// rendering and should be called once Train returns. Grounded on
// pkg/bpe/train.go's mpb usage for the same "long loop, show progress" role.
func NewProgressBar(totalEpochs, batchesPerEpoch int) (onProgress func(TrainProgress), wait func()) {
	progress := mpb.New(mpb.WithWidth(80))
	total := int64(totalEpochs * batchesPerEpoch)
	bar := progress.AddBar(total,
		mpb.PrependDecorators(decor.Name("training: "), decor.Percentage(decor.WCSyncSpace)),
		mpb.AppendDecorators(decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done!")),
	)
	return func(TrainProgress) { bar.Increment() }, progress.Wait
}
