package task

import (
	"errors"
	"fmt"
)

// ScoringVersion identifies the composite scoring methodology recorded in scorecards.
const ScoringVersion = "1.0"

// Weights are the per-dimension multipliers of the composite quality score.
type Weights struct {
	Functional float64 `json:"functional" yaml:"functional" toml:"functional"`
	Compliance float64 `json:"compliance" yaml:"compliance" toml:"compliance"`
	Visual     float64 `json:"visual"     yaml:"visual"     toml:"visual"`
	Efficiency float64 `json:"efficiency" yaml:"efficiency" toml:"efficiency"`
}

// DefaultWeights is used when a task declares no weights at all.
var DefaultWeights = Weights{
	Functional: 0.4,
	Compliance: 0.25,
	Visual:     0.2,
	Efficiency: 0.15,
}

// IsZero reports whether no weight was declared.
func (w Weights) IsZero() bool {
	return w == Weights{}
}

// Sum returns the total of all four weights.
func (w Weights) Sum() float64 {
	return w.Functional + w.Compliance + w.Visual + w.Efficiency
}

// Validate rejects negative weights and weight sets that cannot be normalized.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"functional": w.Functional,
		"compliance": w.Compliance,
		"visual":     w.Visual,
		"efficiency": w.Efficiency,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s is negative (%v)", name, v)
		}
	}
	if w.Functional+w.Compliance+w.Efficiency <= 0 {
		return errors.New("functional, compliance and efficiency weights sum to zero")
	}
	return nil
}

// Effective returns the weights actually applied to a run. With visual
// configured the declared weights are used as-is. Without it the visual weight
// is dropped and the other three are rescaled to sum to 1, so an unconfigured
// dimension never drags the composite down.
func (w Weights) Effective(visualConfigured bool) Weights {
	if visualConfigured {
		return w
	}
	rest := w.Functional + w.Compliance + w.Efficiency
	if rest <= 0 {
		return Weights{}
	}
	return Weights{
		Functional: w.Functional / rest,
		Compliance: w.Compliance / rest,
		Efficiency: w.Efficiency / rest,
	}
}
