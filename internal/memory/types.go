package memory

import (
	"math"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single conversation turn. It lives in the working buffer until
// evicted; a durable copy may also be written into the episodic graph.
type Turn struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"token_count"`
}

// VADState is a valence-arousal-dominance emotional state, each axis in [-1, 1].
type VADState struct {
	Valence   float64 `json:"valence"`
	Arousal   float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
}

// Clamp bounds every axis to [-1, 1].
func (v VADState) Clamp() VADState {
	return VADState{
		Valence:   clamp1(v.Valence),
		Arousal:   clamp1(v.Arousal),
		Dominance: clamp1(v.Dominance),
	}
}

// DeltaMagnitude is the euclidean distance to another state.
func (v VADState) DeltaMagnitude(o VADState) float64 {
	dv := v.Valence - o.Valence
	da := v.Arousal - o.Arousal
	dd := v.Dominance - o.Dominance
	return math.Sqrt(dv*dv + da*da + dd*dd)
}

func clamp1(f float64) float64 {
	if f > 1 {
		return 1
	}
	if f < -1 {
		return -1
	}
	return f
}

// EmotionalChange records a character's VAD transition and what triggered it.
type EmotionalChange struct {
	CharacterID string   `json:"character_id"`
	Previous    VADState `json:"previous_vad"`
	New         VADState `json:"new_vad"`
	Trigger     string   `json:"trigger"`
}

// Character is a graph entity with an instantaneous emotional state.
// Identity is the id; upserts are idempotent by id.
type Character struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	EmotionalState VADState  `json:"emotional_state"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Fact is a versioned (entity, attribute, value) assertion. History is
// append-only; CurrentValue always equals the latest assertion.
type Fact struct {
	ID              string    `json:"id"`
	Entity          string    `json:"entity"`
	Attribute       string    `json:"attribute"`
	CurrentValue    string    `json:"current_value"`
	History         []string  `json:"history"`
	ImportanceScore float64   `json:"importance_score"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdated     time.Time `json:"last_updated"`
	SessionID       string    `json:"session_id"`
	TurnID          string    `json:"turn_id"`
}

// Relationship is a directed edge between two entities. Multiple edges
// between the same pair with different types are distinct.
type Relationship struct {
	ID          string    `json:"id"`
	FromEntity  string    `json:"from_entity"`
	ToEntity    string    `json:"to_entity"`
	Type        string    `json:"relationship_type"`
	Strength    float64   `json:"strength"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	SessionID   string    `json:"session_id"`
	TurnID      string    `json:"turn_id"`
}

// Fragment is a semantic archive entry: content plus its embedding and
// the bookkeeping the eviction policy scores on.
type Fragment struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	Embedding       []float32 `json:"embedding,omitempty"`
	ImportanceScore float64   `json:"importance_score"`
	Similarity      float64   `json:"similarity,omitempty"`
	LastAccessed    time.Time `json:"last_accessed"`
	CreatedAt       time.Time `json:"created_at"`
}

// OperationType classifies a memory operation for the audit trail.
type OperationType string

const (
	OpRead   OperationType = "read"
	OpWrite  OperationType = "write"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Layer names one of the three memory tiers.
type Layer string

const (
	LayerWorking  Layer = "L1"
	LayerEpisodic Layer = "L2"
	LayerArchive  Layer = "L3"
)

// Operation is one audit-trail entry describing a write performed during
// ingestion or maintenance.
type Operation struct {
	ID        string         `json:"id"`
	Type      OperationType  `json:"type"`
	Layer     Layer          `json:"layer"`
	Name      string         `json:"operation"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration_ms"`
	Details   map[string]any `json:"details,omitempty"`
}

// IngestResult is the audit trail returned from a controller ingest.
type IngestResult struct {
	Operations       []Operation       `json:"operations_performed"`
	EmotionalChanges []EmotionalChange `json:"emotional_changes"`
}

// RetrievalQuery asks the controller for fused context.
type RetrievalQuery struct {
	QueryText   string        `json:"query_text"`
	SessionID   string        `json:"session_id"`
	Weights     FusionWeights `json:"fusion_weights"`
	TokenBudget int           `json:"token_budget,omitempty"`
}

// L1Result is the working buffer's contribution to a retrieval.
type L1Result struct {
	Turns      []Turn  `json:"turns"`
	TokenCount int     `json:"token_count"`
	Relevance  float64 `json:"relevance_score"`
}

// L2Result is the episodic graph's contribution to a retrieval.
type L2Result struct {
	Characters    []Character    `json:"characters"`
	Facts         []Fact         `json:"facts"`
	Relationships []Relationship `json:"relationships"`
	TokenCount    int            `json:"token_count"`
	Relevance     float64        `json:"relevance_score"`
}

// L3Result is the semantic archive's contribution to a retrieval.
type L3Result struct {
	Fragments  []Fragment `json:"fragments"`
	TokenCount int        `json:"token_count"`
	Relevance  float64    `json:"relevance_score"`
}

// RetrievalResult fuses all three tiers. Layers that failed or timed out
// contribute an empty sub-result with zero relevance.
type RetrievalResult struct {
	L1      L1Result      `json:"l1"`
	L2      L2Result      `json:"l2"`
	L3      L3Result      `json:"l3"`
	Weights FusionWeights `json:"fusion_weights"`
}

// TotalTokens sums the per-layer token estimates.
func (r *RetrievalResult) TotalTokens() int {
	return r.L1.TokenCount + r.L2.TokenCount + r.L3.TokenCount
}
