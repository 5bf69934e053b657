package nn

import "math"

// ExitStrategy decides whether training should stop after an epoch.
// Grounded on original_source/src/ml/exit_strategy.hpp.
type ExitStrategy interface {
	IsDone(currentEpoch int, loss float32, trainingElapsed int64) bool
}

// DefaultExitStrategy stops on whichever comes first: the epoch cap, the
// wall-clock cap, the zero-tolerance floor, or patience epochs without
// improvement, all gated by a minimum epoch floor. Grounded on
// original_source/src/ml/exit_strategy.hpp's DefaultExitStrategy.
type DefaultExitStrategy struct {
	Patience              int
	MaxElapsedMillis       int64
	MaxEpochs              int
	ZeroTolerance          float32
	ImprovementTolerance   float32
	MinEpochs              int
	lowestLoss             float32
	lowestLossEpoch        int
}

func NewDefaultExitStrategy(patience int, maxElapsedMillis int64, maxEpochs int, zeroTolerance, improvementTolerance float32, minEpochs int) *DefaultExitStrategy {
	return &DefaultExitStrategy{
		Patience:             patience,
		MaxElapsedMillis:     maxElapsedMillis,
		MaxEpochs:            maxEpochs,
		ZeroTolerance:        zeroTolerance,
		ImprovementTolerance: improvementTolerance,
		MinEpochs:            minEpochs,
		lowestLoss:           float32(math.Inf(1)),
		lowestLossEpoch:      0,
	}
}

func (e *DefaultExitStrategy) IsDone(currentEpoch int, loss float32, trainingElapsed int64) bool {
	if loss+e.ImprovementTolerance <= e.lowestLoss {
		if loss < e.lowestLoss {
			e.lowestLoss = loss
		}
		e.lowestLossEpoch = currentEpoch
	}

	elapsedEpochsSinceLowest := currentEpoch - e.lowestLossEpoch
	if currentEpoch < e.MinEpochs {
		return false
	}
	return currentEpoch >= e.MaxEpochs ||
		trainingElapsed >= e.MaxElapsedMillis ||
		elapsedEpochsSinceLowest >= e.Patience ||
		loss <= e.ZeroTolerance
}
