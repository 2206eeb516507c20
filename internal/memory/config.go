package memory

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidWeights is returned when fusion weights do not sum to ~1.0.
var ErrInvalidWeights = errors.New("fusion weights must sum to 1.0")

// ErrEmptySession is returned when an operation needs a session id and none
// was given.
var ErrEmptySession = errors.New("session id is required")

// weightEpsilon is the tolerated deviation of the fusion weight sum from 1.0.
const weightEpsilon = 0.01

// FusionWeights control how the three tiers are blended at retrieval time.
type FusionWeights struct {
	L1 float64 `json:"w_L1"`
	L2 float64 `json:"w_L2"`
	L3 float64 `json:"w_L3"`
}

// Validate checks each weight is in [0, 1] and the sum is within epsilon of 1.0.
func (w FusionWeights) Validate() error {
	for _, v := range []float64{w.L1, w.L2, w.L3} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: weight %.3f out of [0,1]", ErrInvalidWeights, v)
		}
	}
	if math.Abs(w.L1+w.L2+w.L3-1.0) > weightEpsilon {
		return fmt.Errorf("%w: got %.3f", ErrInvalidWeights, w.L1+w.L2+w.L3)
	}
	return nil
}

// IsZero reports whether no weights were supplied at all.
func (w FusionWeights) IsZero() bool {
	return w.L1 == 0 && w.L2 == 0 && w.L3 == 0
}

// Config is the immutable per-controller tier configuration.
type Config struct {
	L1MaxTurns  int `json:"l1_max_turns"`
	L1MaxTokens int `json:"l1_max_tokens"`

	// Promotion gates: a turn reaches L2 when significance clears the
	// threshold or any emotional delta clears the delta threshold; it
	// reaches L3 when significance clears the archival threshold.
	L2SignificanceThreshold   float64 `json:"l2_significance_threshold"`
	L2EmotionalDeltaThreshold float64 `json:"l2_emotional_delta_threshold"`
	L3ArchivalThreshold       float64 `json:"l3_archival_threshold"`

	L3VectorDimension int `json:"l3_vector_dimension"`
	L3MaxFragments    int `json:"l3_max_fragments"`

	DefaultWeights FusionWeights `json:"default_fusion_weights"`

	// Eviction / decay policy knobs, exposed as configuration rather than
	// hard-coded curves.
	ImportanceDecayRate float64 `json:"importance_decay_rate"`
	AccessBoostFactor   float64 `json:"access_boost_factor"`
	RecencyBoostFactor  float64 `json:"recency_boost_factor"`
	FactDemotionFloor   float64 `json:"fact_demotion_floor"`
	FragmentPruneFloor  float64 `json:"fragment_prune_floor"`

	ContextTokenBudget int           `json:"context_token_budget"`
	LayerTimeout       time.Duration `json:"-"`
}

// DefaultConfig returns the tier configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		L1MaxTurns:                20,
		L1MaxTokens:               4000,
		L2SignificanceThreshold:   5.0,
		L2EmotionalDeltaThreshold: 0.3,
		L3ArchivalThreshold:       7.0,
		L3VectorDimension:         1024,
		L3MaxFragments:            1000,
		DefaultWeights:            FusionWeights{L1: 0.5, L2: 0.3, L3: 0.2},
		ImportanceDecayRate:       0.01,
		AccessBoostFactor:         0.15,
		RecencyBoostFactor:        0.1,
		FactDemotionFloor:         1.0,
		FragmentPruneFloor:        1.0,
		ContextTokenBudget:        2000,
		LayerTimeout:              5 * time.Second,
	}
}

// Normalize fills zero-valued fields from the defaults so a partially
// specified config is still usable.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.L1MaxTurns <= 0 {
		c.L1MaxTurns = d.L1MaxTurns
	}
	if c.L1MaxTokens <= 0 {
		c.L1MaxTokens = d.L1MaxTokens
	}
	if c.L2SignificanceThreshold <= 0 {
		c.L2SignificanceThreshold = d.L2SignificanceThreshold
	}
	if c.L2EmotionalDeltaThreshold <= 0 {
		c.L2EmotionalDeltaThreshold = d.L2EmotionalDeltaThreshold
	}
	if c.L3ArchivalThreshold <= 0 {
		c.L3ArchivalThreshold = d.L3ArchivalThreshold
	}
	if c.L3VectorDimension <= 0 {
		c.L3VectorDimension = d.L3VectorDimension
	}
	if c.L3MaxFragments <= 0 {
		c.L3MaxFragments = d.L3MaxFragments
	}
	if c.DefaultWeights.IsZero() {
		c.DefaultWeights = d.DefaultWeights
	}
	if c.ImportanceDecayRate <= 0 {
		c.ImportanceDecayRate = d.ImportanceDecayRate
	}
	if c.AccessBoostFactor <= 0 {
		c.AccessBoostFactor = d.AccessBoostFactor
	}
	if c.RecencyBoostFactor <= 0 {
		c.RecencyBoostFactor = d.RecencyBoostFactor
	}
	if c.FactDemotionFloor <= 0 {
		c.FactDemotionFloor = d.FactDemotionFloor
	}
	if c.FragmentPruneFloor <= 0 {
		c.FragmentPruneFloor = d.FragmentPruneFloor
	}
	if c.ContextTokenBudget <= 0 {
		c.ContextTokenBudget = d.ContextTokenBudget
	}
	if c.LayerTimeout <= 0 {
		c.LayerTimeout = d.LayerTimeout
	}
	return c
}

// EstimateTokens gives a rough token count (~4 chars per token).
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		return 1
	}
	return n
}
