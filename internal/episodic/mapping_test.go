package episodic

import (
	"testing"
	"time"
)

type fakeRecord map[string]any

func (f fakeRecord) Get(key string) (any, bool) {
	v, ok := f[key]
	return v, ok
}

func TestCharacterFromRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := fakeRecord{
		"id":           "character:alice",
		"name":         "Alice",
		"valence":      0.4,
		"arousal":      0.2,
		"dominance":    int64(0),
		"created_at":   now,
		"last_updated": now,
	}

	c := characterFromRecord(rec)
	if c.ID != "character:alice" || c.Name != "Alice" {
		t.Fatalf("unexpected identity: %+v", c)
	}
	if c.EmotionalState.Valence != 0.4 || c.EmotionalState.Arousal != 0.2 || c.EmotionalState.Dominance != 0 {
		t.Errorf("unexpected emotional state: %+v", c.EmotionalState)
	}
	if !c.LastUpdated.Equal(now) {
		t.Errorf("last_updated = %v, want %v", c.LastUpdated, now)
	}
}

func TestFactFromRecordKeepsHistoryOrder(t *testing.T) {
	rec := fakeRecord{
		"id":               "fact:1",
		"entity":           "Alice",
		"attribute":        "preference",
		"current_value":    "tea",
		"history":          []any{"coffee", "espresso"},
		"importance_score": int64(9),
	}

	f := factFromRecord(rec)
	if f.CurrentValue != "tea" {
		t.Errorf("current_value = %q", f.CurrentValue)
	}
	if len(f.History) != 2 || f.History[0] != "coffee" || f.History[1] != "espresso" {
		t.Errorf("history = %v, want [coffee espresso]", f.History)
	}
	if f.ImportanceScore != 9 {
		t.Errorf("importance_score = %v, want 9", f.ImportanceScore)
	}
}

func TestMappersTolerateMissingFields(t *testing.T) {
	f := factFromRecord(fakeRecord{"id": "fact:bare"})
	if f.ID != "fact:bare" || f.History != nil || f.ImportanceScore != 0 {
		t.Errorf("unexpected fact from sparse record: %+v", f)
	}

	r := relationshipFromRecord(fakeRecord{"strength": "not-a-number"})
	if r.Strength != 0 {
		t.Errorf("strength = %v, want 0 for wrong type", r.Strength)
	}

	c := characterFromRecord(fakeRecord{"valence": nil})
	if c.EmotionalState.Valence != 0 || !c.CreatedAt.IsZero() {
		t.Errorf("unexpected character from sparse record: %+v", c)
	}
}

func TestSnapshotFromRecord(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := snapshotFromRecord(fakeRecord{
		"id":          "emotion:1",
		"valence":     -0.3,
		"arousal":     0.7,
		"dominance":   0.1,
		"trigger":     "Alice is furious about the delay",
		"session_id":  "session-1",
		"turn_id":     "turn-9",
		"recorded_at": at,
	})
	if s.State.Valence != -0.3 || s.State.Arousal != 0.7 {
		t.Errorf("unexpected state: %+v", s.State)
	}
	if s.Trigger == "" || s.SessionID != "session-1" || !s.RecordedAt.Equal(at) {
		t.Errorf("unexpected snapshot: %+v", s)
	}
}

func TestSearchTerms(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Alice coffee", []string{"alice", "coffee"}},
		{"  Bob  ", []string{"bob"}},
		{"a b cd", []string{"cd"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := searchTerms(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("searchTerms(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("searchTerms(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}
