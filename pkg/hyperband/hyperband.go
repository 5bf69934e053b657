// Package hyperband implements a successive-halving hyperparameter search
// over any trainable process exposed through the Trainable interface. It
// never imports pkg/nn or pkg/bpe: a caller adapts a concrete *nn.Network or
// *bpe.Model to Trainable, keeping this package at the interface level only,
// matching spec.md §1's scoping of the search engine as interface-level.
//
// Grounded on original_source/src/ml/hyperband/: Hyperband::run's
// round-based loop (hyperband.hpp) samples an initial configuration set,
// evaluates every survivor against a round-scaled resource budget
// (resource_allocator.hpp's max_resources / reduction_factor^round), sorts
// by evaluation metric and keeps the top 1/reduction_factor of the field
// (eliminateConfigurations), and repeats until one configuration remains.
// Search keeps that shape, with Budget.Eta as the reduction factor and
// TrainOneStep calls as the resource unit. Candidate generation replaces
// hyperband_random_search.hpp's bit-string decoding with gonum's
// stat/distuv uniform and log-uniform draws over a typed ParamSpec space,
// since Go callers declare their dimensions directly rather than packing
// them into per-hyperparameter bit widths.
package hyperband

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"happyml/internal/happymlerr"
)

// Candidate is one point in the search space: a named set of hyperparameter
// values a Trainable can be Configure'd with.
type Candidate struct {
	Params map[string]float64
}

// Trainable is anything Search can tune. Implementations adapt a concrete
// model (a builder-produced *nn.Network, a *bpe.Model, or any other
// trainable process) to these three operations; Search itself never reaches
// past this interface.
type Trainable interface {
	// Configure applies a sampled Candidate, e.g. rebuilding an optimizer
	// with a new learning rate or re-seeding a dropout layer's rate.
	Configure(c Candidate) error
	// TrainOneStep advances training by one unit of budget (one epoch, one
	// mini-batch, one file, whatever the caller's Trainable considers a
	// step) and reports the loss observed for that step.
	TrainOneStep(ctx context.Context) (loss float64, err error)
	// Evaluate scores the current configuration; higher is better.
	Evaluate(ctx context.Context) (score float64, err error)
}

// ParamSpec describes one tunable dimension of the search space. LogScale
// samples uniformly in log-space (appropriate for learning rates and other
// quantities that vary over orders of magnitude); otherwise sampling is
// uniform in [Min, Max].
type ParamSpec struct {
	Name     string
	Min, Max float64
	LogScale bool
}

// Space is the set of dimensions candidates are drawn from.
type Space struct {
	Params []ParamSpec
}

// Budget bounds one Search call: MaxStepsPerCandidate is the number of
// TrainOneStep calls each candidate makes in the final round
// (hyperband.hpp's max_resources); steps accumulate across rounds, so a
// candidate that survives several rounds makes more calls than this in
// total. Eta is the downsampling
// factor between successive-halving rounds (its reduction_factor; 3 is
// used when Eta is left at zero).
type Budget struct {
	MaxStepsPerCandidate int
	Eta                  float64
}

func (b Budget) eta() float64 {
	if b.Eta <= 1 {
		return 3
	}
	return b.Eta
}

// Options configures a Search call.
type Options struct {
	Space Space
	// NumCandidates is how many candidates the first round samples; later
	// rounds keep only the top 1/Eta fraction. Defaults to 27 (3^3) when
	// zero, matching a three-round bracket at the default Eta.
	NumCandidates int
	// Seed drives the deterministic candidate sampler; the same Seed and
	// Space reproduce the same bracket.
	Seed uint64
}

// Search runs a Hyperband-style successive-halving bracket: it samples
// opts.NumCandidates candidates from opts.Space, trains every surviving
// candidate for a round's worth of steps, evaluates them, discards the
// bottom fraction, and repeats with a larger per-candidate step budget
// (capped at MaxStepsPerCandidate) until one candidate remains. It returns
// the best
// candidate seen across every round, since the last surviving candidate is
// not guaranteed to be the highest scoring one a middle round produced.
func Search(ctx context.Context, factory func() Trainable, budget Budget, opts Options) (Candidate, error) {
	if len(opts.Space.Params) == 0 {
		return Candidate{}, happymlerr.Configf("hyperband: search space has no parameters")
	}
	if budget.MaxStepsPerCandidate <= 0 {
		return Candidate{}, happymlerr.Configf("hyperband: budget.MaxStepsPerCandidate must be positive")
	}
	numCandidates := opts.NumCandidates
	if numCandidates <= 0 {
		numCandidates = 27
	}

	sampler := newCandidateSampler(opts.Space, opts.Seed)
	type entry struct {
		candidate Candidate
		trainable Trainable
		score     float64
	}

	round := make([]*entry, numCandidates)
	for i := range round {
		c := sampler.sample()
		t := factory()
		if err := t.Configure(c); err != nil {
			return Candidate{}, happymlerr.Wrap(happymlerr.ErrConfig, "configure candidate", err)
		}
		round[i] = &entry{candidate: c, trainable: t}
	}

	eta := budget.eta()
	stepsThisRound := stepsForFirstRound(budget.MaxStepsPerCandidate, numCandidates, eta)

	var best Candidate
	bestScore := negInf

	for len(round) > 0 {
		for _, e := range round {
			select {
			case <-ctx.Done():
				return best, ctx.Err()
			default:
			}
			for step := 0; step < stepsThisRound; step++ {
				if _, err := e.trainable.TrainOneStep(ctx); err != nil {
					return best, happymlerr.Wrap(happymlerr.ErrIO, "train candidate step", err)
				}
			}
			score, err := e.trainable.Evaluate(ctx)
			if err != nil {
				return best, happymlerr.Wrap(happymlerr.ErrIO, "evaluate candidate", err)
			}
			e.score = score
			if score > bestScore {
				bestScore = score
				best = e.candidate
			}
		}

		if len(round) == 1 {
			break
		}

		sort.SliceStable(round, func(i, j int) bool { return round[i].score > round[j].score })
		survivors := len(round) / int(eta)
		if survivors < 1 {
			survivors = 1
		}
		round = round[:survivors]
		stepsThisRound = int(float64(stepsThisRound) * eta)
		if stepsThisRound > budget.MaxStepsPerCandidate {
			stepsThisRound = budget.MaxStepsPerCandidate
		}
	}

	return best, nil
}

const negInf = -1e308

// stepsForFirstRound picks a starting per-candidate step count small enough
// that the full bracket (numCandidates candidates, shrinking by eta each
// round until one remains) finishes its last round at MaxStepsPerCandidate.
func stepsForFirstRound(maxSteps, numCandidates int, eta float64) int {
	rounds := 0
	n := float64(numCandidates)
	for n > 1 {
		n /= eta
		rounds++
	}
	steps := maxSteps
	for i := 0; i < rounds; i++ {
		steps = int(float64(steps) / eta)
	}
	if steps < 1 {
		steps = 1
	}
	return steps
}

// candidateSampler draws Candidates from a Space using gonum's distuv
// distributions, seeded deterministically so a given Seed reproduces the
// same bracket.
type candidateSampler struct {
	space Space
	src   *deterministicSource
}

func newCandidateSampler(space Space, seed uint64) *candidateSampler {
	return &candidateSampler{space: space, src: newDeterministicSource(seed)}
}

func (s *candidateSampler) sample() Candidate {
	params := make(map[string]float64, len(s.space.Params))
	for _, spec := range s.space.Params {
		if spec.LogScale {
			params[spec.Name] = s.sampleLogUniform(spec.Min, spec.Max)
		} else {
			params[spec.Name] = distuv.Uniform{Min: spec.Min, Max: spec.Max, Src: s.src}.Rand()
		}
	}
	return Candidate{Params: params}
}

func (s *candidateSampler) sampleLogUniform(min, max float64) float64 {
	logMin := logE(min)
	logMax := logE(max)
	v := distuv.Uniform{Min: logMin, Max: logMax, Src: s.src}.Rand()
	return expE(v)
}
