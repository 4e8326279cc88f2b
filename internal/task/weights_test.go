package task

import (
	"math"
	"testing"
)

func TestWeightsEffective(t *testing.T) {
	t.Parallel()

	w := Weights{Functional: 0.4, Compliance: 0.25, Visual: 0.2, Efficiency: 0.15}

	tests := []struct {
		name    string
		visual  bool
		want    Weights
		wantSum float64
	}{
		{
			name:    "visual configured uses declared weights",
			visual:  true,
			want:    w,
			wantSum: 1.0,
		},
		{
			name:   "visual absent renormalizes",
			visual: false,
			want: Weights{
				Functional: 0.4 / 0.8,
				Compliance: 0.25 / 0.8,
				Efficiency: 0.15 / 0.8,
			},
			wantSum: 1.0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := w.Effective(tc.visual)
			if !almostEqual(got.Functional, tc.want.Functional) ||
				!almostEqual(got.Compliance, tc.want.Compliance) ||
				!almostEqual(got.Visual, tc.want.Visual) ||
				!almostEqual(got.Efficiency, tc.want.Efficiency) {
				t.Errorf("Effective(%v) = %+v, want %+v", tc.visual, got, tc.want)
			}
			if !almostEqual(got.Sum(), tc.wantSum) {
				t.Errorf("sum = %v, want %v", got.Sum(), tc.wantSum)
			}
		})
	}
}

func TestWeightsEffectiveZero(t *testing.T) {
	t.Parallel()

	got := Weights{Visual: 1}.Effective(false)
	if !got.IsZero() {
		t.Errorf("Effective() = %+v, want zero weights", got)
	}
}

func TestWeightsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		w       Weights
		wantErr bool
	}{
		{"defaults", DefaultWeights, false},
		{"negative", Weights{Functional: -0.1, Compliance: 1}, true},
		{"only visual", Weights{Visual: 1}, true},
		{"unnormalized ok", Weights{Functional: 2, Compliance: 1, Efficiency: 1}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.w.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
