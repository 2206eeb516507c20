package episodic

import (
	"time"

	"github.com/nidhogg/mnemosyne/internal/memory"
)

// record is the slice of a Neo4j result record the mappers need; tests use
// a map-backed fake.
type record interface {
	Get(key string) (any, bool)
}

func getStr(rec record, key string) string {
	if v, ok := rec.Get(key); ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getFloat(rec record, key string) float64 {
	if v, ok := rec.Get(key); ok && v != nil {
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	}
	return 0
}

func getInt(rec record, key string) int {
	if v, ok := rec.Get(key); ok && v != nil {
		switch n := v.(type) {
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

func getTime(rec record, key string) time.Time {
	if v, ok := rec.Get(key); ok && v != nil {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Time{}
}

func getStrList(rec record, key string) []string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func characterFromRecord(rec record) memory.Character {
	return memory.Character{
		ID:   getStr(rec, "id"),
		Name: getStr(rec, "name"),
		EmotionalState: memory.VADState{
			Valence:   getFloat(rec, "valence"),
			Arousal:   getFloat(rec, "arousal"),
			Dominance: getFloat(rec, "dominance"),
		},
		CreatedAt:   getTime(rec, "created_at"),
		LastUpdated: getTime(rec, "last_updated"),
	}
}

func factFromRecord(rec record) memory.Fact {
	return memory.Fact{
		ID:              getStr(rec, "id"),
		Entity:          getStr(rec, "entity"),
		Attribute:       getStr(rec, "attribute"),
		CurrentValue:    getStr(rec, "current_value"),
		History:         getStrList(rec, "history"),
		ImportanceScore: getFloat(rec, "importance_score"),
		CreatedAt:       getTime(rec, "created_at"),
		LastUpdated:     getTime(rec, "last_updated"),
		SessionID:       getStr(rec, "session_id"),
		TurnID:          getStr(rec, "turn_id"),
	}
}

func relationshipFromRecord(rec record) memory.Relationship {
	return memory.Relationship{
		ID:          getStr(rec, "id"),
		FromEntity:  getStr(rec, "from_id"),
		ToEntity:    getStr(rec, "to_id"),
		Type:        getStr(rec, "relationship_type"),
		Strength:    getFloat(rec, "strength"),
		CreatedAt:   getTime(rec, "created_at"),
		LastUpdated: getTime(rec, "last_updated"),
		SessionID:   getStr(rec, "session_id"),
		TurnID:      getStr(rec, "turn_id"),
	}
}

// EmotionSnapshot is one recorded emotional state of a character.
type EmotionSnapshot struct {
	ID         string          `json:"id"`
	State      memory.VADState `json:"vad_state"`
	Trigger    string          `json:"trigger"`
	SessionID  string          `json:"session_id"`
	TurnID     string          `json:"turn_id"`
	RecordedAt time.Time       `json:"recorded_at"`
}

func snapshotFromRecord(rec record) EmotionSnapshot {
	return EmotionSnapshot{
		ID: getStr(rec, "id"),
		State: memory.VADState{
			Valence:   getFloat(rec, "valence"),
			Arousal:   getFloat(rec, "arousal"),
			Dominance: getFloat(rec, "dominance"),
		},
		Trigger:    getStr(rec, "trigger"),
		SessionID:  getStr(rec, "session_id"),
		TurnID:     getStr(rec, "turn_id"),
		RecordedAt: getTime(rec, "recorded_at"),
	}
}
