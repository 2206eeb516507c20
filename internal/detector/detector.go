// Package detector classifies conversation turns into a significance score,
// per-character emotional deltas, and typed events. The default detector is
// a lightweight rule/lexicon classifier; richer NLP backends can be swapped
// in behind the same interface.
package detector

import (
	"github.com/nidhogg/mnemosyne/internal/memory"
	"go.uber.org/zap"
)

// EventType tags a detected event.
type EventType string

const (
	EventFactAssertion      EventType = "fact_assertion"
	EventRelationshipChange EventType = "relationship_change"
)

// FactAssertion is the payload of a fact_assertion event.
type FactAssertion struct {
	Entity    string `json:"entity"`
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// RelationshipChange is the payload of a relationship_change event.
type RelationshipChange struct {
	FromEntity string  `json:"from_entity"`
	ToEntity   string  `json:"to_entity"`
	Type       string  `json:"relationship_type"`
	Strength   float64 `json:"strength"`
}

// Event is one detected occurrence. Exactly one payload pointer is set,
// matching Type; consumers dispatch on the tag.
type Event struct {
	Type         EventType           `json:"type"`
	Entities     []string            `json:"entities_involved"`
	Description  string              `json:"description"`
	Confidence   float64             `json:"confidence"`
	Fact         *FactAssertion      `json:"fact,omitempty"`
	Relationship *RelationshipChange `json:"relationship,omitempty"`
}

// Result is the full classification of one turn.
type Result struct {
	SignificanceScore float64                  `json:"significance_score"`
	EmotionalChanges  []memory.EmotionalChange `json:"emotional_changes"`
	Events            []Event                  `json:"detected_events"`
}

// Detector classifies a turn given recent session history. Implementations
// must be pure functions of their inputs.
type Detector interface {
	Detect(turn memory.Turn, history []memory.Turn) (Result, error)
}

// Safe wraps a Detector so that classifier failure can never block
// ingestion: errors and panics degrade to a zero-significance empty result.
type Safe struct {
	inner  Detector
	logger *zap.Logger
}

// NewSafe wraps the given detector with fail-soft semantics.
func NewSafe(inner Detector, logger *zap.Logger) *Safe {
	return &Safe{inner: inner, logger: logger}
}

// Detect never returns an error; classifier failures yield an empty result.
func (s *Safe) Detect(turn memory.Turn, history []memory.Turn) (res Result, _ error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("detector panicked, degrading to empty result",
				zap.String("turn", turn.ID), zap.Any("panic", r))
			res = Result{}
		}
	}()

	res, err := s.inner.Detect(turn, history)
	if err != nil {
		s.logger.Warn("detector failed, degrading to empty result",
			zap.String("turn", turn.ID), zap.Error(err))
		return Result{}, nil
	}
	return res, nil
}
