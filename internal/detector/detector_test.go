package detector

import (
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/mnemosyne/internal/memory"
	"go.uber.org/zap"
)

func turn(content string) memory.Turn {
	return memory.Turn{
		ID:         "t1",
		Role:       memory.RoleUser,
		Content:    content,
		Timestamp:  time.Now(),
		TokenCount: memory.EstimateTokens(content),
	}
}

func TestDetectFactAssertion(t *testing.T) {
	d := NewRuleDetector()

	res, err := d.Detect(turn("Alice says she loves coffee."), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var fact *Event
	for i := range res.Events {
		if res.Events[i].Type == EventFactAssertion {
			fact = &res.Events[i]
		}
	}
	if fact == nil {
		t.Fatalf("no fact_assertion event in %+v", res.Events)
	}
	if fact.Fact == nil {
		t.Fatal("fact_assertion event missing typed payload")
	}
	if fact.Fact.Entity != "Alice" {
		t.Errorf("entity = %q, want Alice", fact.Fact.Entity)
	}
	if fact.Fact.Attribute != "preference" {
		t.Errorf("attribute = %q, want preference", fact.Fact.Attribute)
	}
	if fact.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", fact.Confidence)
	}
}

func TestDetectRelationshipChange(t *testing.T) {
	d := NewRuleDetector()

	res, err := d.Detect(turn("Alice trusts Bob completely."), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rel *Event
	for i := range res.Events {
		if res.Events[i].Type == EventRelationshipChange {
			rel = &res.Events[i]
		}
	}
	if rel == nil {
		t.Fatalf("no relationship_change event in %+v", res.Events)
	}
	if rel.Relationship == nil {
		t.Fatal("relationship_change event missing typed payload")
	}
	if rel.Relationship.FromEntity != "Alice" || rel.Relationship.ToEntity != "Bob" {
		t.Errorf("edge = %s->%s, want Alice->Bob",
			rel.Relationship.FromEntity, rel.Relationship.ToEntity)
	}
	if rel.Relationship.Type != "trusts" {
		t.Errorf("type = %q, want trusts", rel.Relationship.Type)
	}
	if len(rel.Entities) != 2 {
		t.Errorf("entities = %v, want two", rel.Entities)
	}
}

func TestCapitalizedObjectIsRelationshipNotFact(t *testing.T) {
	d := NewRuleDetector()

	res, _ := d.Detect(turn("Alice loves Bob."), nil)
	for _, e := range res.Events {
		if e.Type == EventFactAssertion {
			t.Errorf("got fact_assertion %+v, want relationship only", e)
		}
	}
}

func TestDetectEmotionalChanges(t *testing.T) {
	d := NewRuleDetector()

	res, _ := d.Detect(turn("Alice is furious about the verdict."), nil)
	if len(res.EmotionalChanges) == 0 {
		t.Fatal("expected emotional changes")
	}
	ch := res.EmotionalChanges[0]
	if ch.CharacterID != "character:alice" {
		t.Errorf("character id = %q, want character:alice", ch.CharacterID)
	}
	if ch.New.Valence >= 0 {
		t.Errorf("valence = %v, want negative for furious", ch.New.Valence)
	}
	if ch.New.Arousal <= 0 {
		t.Errorf("arousal = %v, want positive for furious", ch.New.Arousal)
	}
}

func TestSignificanceBounds(t *testing.T) {
	d := NewRuleDetector()

	long := "Alice loves Bob. Bob hates Carol. Carol fears Dave. Everyone is furious and terrified and sad."
	res, _ := d.Detect(turn(long), nil)
	if res.SignificanceScore < 0 || res.SignificanceScore > 10 {
		t.Errorf("significance %v out of [0,10]", res.SignificanceScore)
	}

	small, _ := d.Detect(turn("ok"), nil)
	if small.SignificanceScore >= res.SignificanceScore {
		t.Errorf("trivial turn scored %v, eventful turn %v",
			small.SignificanceScore, res.SignificanceScore)
	}
}

func TestRepeatedContentScoresLower(t *testing.T) {
	d := NewRuleDetector()

	tn := turn("Alice says she loves coffee.")
	fresh, _ := d.Detect(tn, nil)
	repeat, _ := d.Detect(tn, []memory.Turn{tn})
	if repeat.SignificanceScore >= fresh.SignificanceScore {
		t.Errorf("repeat scored %v, fresh %v", repeat.SignificanceScore, fresh.SignificanceScore)
	}
}

type failingDetector struct{}

func (failingDetector) Detect(memory.Turn, []memory.Turn) (Result, error) {
	return Result{}, errors.New("classifier offline")
}

type panickyDetector struct{}

func (panickyDetector) Detect(memory.Turn, []memory.Turn) (Result, error) {
	panic("model blew up")
}

func TestSafeDegradesOnError(t *testing.T) {
	s := NewSafe(failingDetector{}, zap.NewNop())
	res, err := s.Detect(turn("anything"), nil)
	if err != nil {
		t.Fatalf("Safe must not propagate errors, got %v", err)
	}
	if res.SignificanceScore != 0 || len(res.Events) != 0 {
		t.Errorf("degraded result not empty: %+v", res)
	}
}

func TestSafeDegradesOnPanic(t *testing.T) {
	s := NewSafe(panickyDetector{}, zap.NewNop())
	res, err := s.Detect(turn("anything"), nil)
	if err != nil {
		t.Fatalf("Safe must not propagate errors, got %v", err)
	}
	if res.SignificanceScore != 0 {
		t.Errorf("degraded result not empty: %+v", res)
	}
}

func TestNamedEntitiesSkipSentenceCaseWords(t *testing.T) {
	got := namedEntities("The storm terrified Bob and the storm passed.")
	if len(got) != 1 || got[0] != "Bob" {
		t.Errorf("entities = %v, want [Bob]", got)
	}

	// A name that only occurs at sentence start is still a name.
	got = namedEntities("Alice is furious about the verdict.")
	if len(got) != 1 || got[0] != "Alice" {
		t.Errorf("entities = %v, want [Alice]", got)
	}
}
