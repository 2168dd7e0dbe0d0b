// Package labels produces binary failure labels for transformers. Real labels always
// win; synthesized labels are a weak-supervision fallback for when none exist.
package labels

import (
	"errors"
	"fmt"

	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-simulator/internal/simulation"
)

// ErrLabelMismatch is returned when supplied labels do not line up with the units.
var ErrLabelMismatch = errors.New("label mismatch")

const (
	baseProbability = 0.05
	ageWeight       = 0.3
	riskWeight      = 0.4
	maxNoise        = 0.1
	referenceAge    = 30.0
)

// Source records where a label set came from.
type Source string

const (
	SourceReal      Source = "real"
	SourceSynthetic Source = "synthetic"
)

// Set is one label per unit, aligned with the units it was resolved for.
type Set struct {
	Source Source
	Labels []int
}

// PositiveRate is the share of units labelled 1.
func (s Set) PositiveRate() float64 {
	if len(s.Labels) == 0 {
		return 0
	}
	n := 0
	for _, l := range s.Labels {
		n += l
	}
	return float64(n) / float64(len(s.Labels))
}

// Probability is the failure probability of a unit before sampling. noise is the
// U(0, 0.1) term.
func Probability(ageYears, failureRisk, noise float64) float64 {
	p := baseProbability + ageYears/referenceAge*ageWeight + failureRisk*riskWeight + noise
	switch {
	case p < 0:
		return 0
	case p > models.MaxFailureRisk:
		return models.MaxFailureRisk
	}
	return p
}

// Synthesize draws one Bernoulli label per unit from its own stream of seed.
func Synthesize(units []models.Transformer, seed uint64) []int {
	out := make([]int, len(units))
	for i, u := range units {
		rng := simulation.NewRand(seed, simulation.StreamLabels, u.ID)
		p := Probability(u.AgeYears, u.FailureRisk, maxNoise*rng.Float64())
		if rng.Float64() < p {
			out[i] = 1
		}
	}
	return out
}

// Resolve returns real when it is non-empty, after checking it covers every unit with
// binary values. Otherwise labels are synthesized when allowed.
func Resolve(real []int, units []models.Transformer, synthesize bool, seed uint64) (Set, error) {
	if len(real) > 0 {
		if len(real) != len(units) {
			return Set{}, fmt.Errorf("%w: %d labels for %d units", ErrLabelMismatch, len(real), len(units))
		}
		for i, l := range real {
			if l != 0 && l != 1 {
				return Set{}, fmt.Errorf("%w: label %d of unit %d is not binary", ErrLabelMismatch, l, units[i].ID)
			}
		}
		return Set{Source: SourceReal, Labels: append([]int(nil), real...)}, nil
	}
	if !synthesize {
		return Set{}, fmt.Errorf("%w: no labels supplied and synthesis disabled", ErrLabelMismatch)
	}
	return Set{Source: SourceSynthetic, Labels: Synthesize(units, seed)}, nil
}
