package memory

import (
	"errors"
	"math"
	"testing"
)

func TestFusionWeightsValidate(t *testing.T) {
	cases := []struct {
		name    string
		weights FusionWeights
		ok      bool
	}{
		{"defaults", FusionWeights{L1: 0.5, L2: 0.3, L3: 0.2}, true},
		{"within epsilon", FusionWeights{L1: 0.5, L2: 0.3, L3: 0.205}, true},
		{"sum too high", FusionWeights{L1: 0.9, L2: 0.9, L3: 0.9}, false},
		{"sum too low", FusionWeights{L1: 0.1, L2: 0.1, L3: 0.1}, false},
		{"negative weight", FusionWeights{L1: -0.2, L2: 0.7, L3: 0.5}, false},
		{"single layer", FusionWeights{L1: 1.0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.weights.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrInvalidWeights) {
					t.Errorf("err = %v, want ErrInvalidWeights", err)
				}
			}
		})
	}
}

func TestDefaultConfigWeightsAreValid(t *testing.T) {
	if err := DefaultConfig().DefaultWeights.Validate(); err != nil {
		t.Fatalf("default weights invalid: %v", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("hi"); got != 1 {
		t.Errorf("short = %d, want at least 1", got)
	}
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'a'
	}
	if got := EstimateTokens(string(long)); got != 100 {
		t.Errorf("400 chars = %d, want 100", got)
	}
}

func TestVADStateClamp(t *testing.T) {
	v := VADState{Valence: 1.7, Arousal: -2.0, Dominance: 0.5}.Clamp()
	if v.Valence != 1 || v.Arousal != -1 || v.Dominance != 0.5 {
		t.Errorf("clamped = %+v", v)
	}
}

func TestVADStateDeltaMagnitude(t *testing.T) {
	a := VADState{}
	b := VADState{Valence: -0.8}
	if got := a.DeltaMagnitude(b); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("magnitude = %v, want 0.8", got)
	}
	if got := a.DeltaMagnitude(a); got != 0 {
		t.Errorf("self magnitude = %v, want 0", got)
	}
}
