package hyperband

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quadraticTrainable scores best near Params["x"] == target, simulating a
// toy loss surface without touching any real model type.
type quadraticTrainable struct {
	target float64
	x      float64
	steps  int
}

func (q *quadraticTrainable) Configure(c Candidate) error {
	q.x = c.Params["x"]
	return nil
}

func (q *quadraticTrainable) TrainOneStep(_ context.Context) (float64, error) {
	q.steps++
	loss := (q.x - q.target) * (q.x - q.target)
	return loss, nil
}

func (q *quadraticTrainable) Evaluate(_ context.Context) (float64, error) {
	return -(q.x - q.target) * (q.x - q.target), nil
}

func TestSearchFindsCandidateNearTarget(t *testing.T) {
	space := Space{Params: []ParamSpec{{Name: "x", Min: -10, Max: 10}}}
	factory := func() Trainable { return &quadraticTrainable{target: 3} }

	best, err := Search(context.Background(), factory, Budget{MaxStepsPerCandidate: 9}, Options{
		Space:         space,
		NumCandidates: 9,
		Seed:          1,
	})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, best.Params["x"], 10, "best candidate should trend toward the target within the sampled range")
}

func TestSearchRejectsEmptySpace(t *testing.T) {
	_, err := Search(context.Background(), func() Trainable { return &quadraticTrainable{} }, Budget{MaxStepsPerCandidate: 1}, Options{})
	require.Error(t, err)
}

func TestSearchRejectsZeroBudget(t *testing.T) {
	space := Space{Params: []ParamSpec{{Name: "x", Min: 0, Max: 1}}}
	_, err := Search(context.Background(), func() Trainable { return &quadraticTrainable{} }, Budget{}, Options{Space: space})
	require.Error(t, err)
}

func TestSearchIsDeterministicForFixedSeed(t *testing.T) {
	space := Space{Params: []ParamSpec{{Name: "lr", Min: 1e-4, Max: 1e-1, LogScale: true}}}
	factory := func() Trainable { return &quadraticTrainable{target: 0.01} }

	first, err := Search(context.Background(), factory, Budget{MaxStepsPerCandidate: 9}, Options{Space: space, NumCandidates: 9, Seed: 42})
	require.NoError(t, err)
	second, err := Search(context.Background(), factory, Budget{MaxStepsPerCandidate: 9}, Options{Space: space, NumCandidates: 9, Seed: 42})
	require.NoError(t, err)

	assert.Equal(t, first.Params["lr"], second.Params["lr"])
}

func TestSearchStopsOnContextCancellation(t *testing.T) {
	space := Space{Params: []ParamSpec{{Name: "x", Min: 0, Max: 1}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Search(ctx, func() Trainable { return &quadraticTrainable{} }, Budget{MaxStepsPerCandidate: 5}, Options{Space: space, NumCandidates: 4})
	require.Error(t, err)
}

func TestLogUniformSamplesWithinBounds(t *testing.T) {
	sampler := newCandidateSampler(Space{Params: []ParamSpec{{Name: "lr", Min: 1e-5, Max: 1, LogScale: true}}}, 7)
	for i := 0; i < 50; i++ {
		c := sampler.sample()
		v := c.Params["lr"]
		assert.True(t, v >= 1e-5 && v <= 1, "sampled value %v out of bounds", v)
		assert.False(t, math.IsNaN(v))
	}
}
