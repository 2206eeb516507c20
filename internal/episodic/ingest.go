package episodic

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemosyne/internal/detector"
	"github.com/nidhogg/mnemosyne/internal/memory"
)

// Apply writes one classified turn into the graph: character upserts with
// emotion snapshots, versioned fact creation, relationship edges, and the
// turn itself linked to its session. Steps are best-effort; a failed step
// is logged and skipped so the remaining writes still land. The returned
// operations are the audit trail of what actually happened.
func (s *Store) Apply(ctx context.Context, turn memory.Turn, det detector.Result, sessionID string) ([]memory.Operation, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	var ops []memory.Operation
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, change := range det.EmotionalChanges {
		start := time.Now()
		err := s.upsertCharacter(ctx, session, change, sessionID, turn.ID)
		if err != nil {
			s.logger.Warn("character upsert failed",
				zap.String("character", change.CharacterID), zap.Error(err))
			keep(err)
			continue
		}
		ops = append(ops, op(memory.OpUpdate, "updateCharacterEmotion", start, map[string]any{
			"character_id": change.CharacterID,
			"vad_state":    change.New,
		}))
	}

	for _, ev := range det.Events {
		switch ev.Type {
		case detector.EventFactAssertion:
			if ev.Fact == nil {
				continue
			}
			start := time.Now()
			factID, versions, err := s.createFact(ctx, session, ev, turn, sessionID)
			if err != nil {
				s.logger.Warn("fact creation failed",
					zap.String("entity", ev.Fact.Entity), zap.Error(err))
				keep(err)
				continue
			}
			ops = append(ops, op(memory.OpWrite, "createFact", start, map[string]any{
				"fact_id":  factID,
				"versions": versions,
			}))

		case detector.EventRelationshipChange:
			if ev.Relationship == nil {
				continue
			}
			start := time.Now()
			relID, err := s.createRelationship(ctx, session, ev, turn, sessionID)
			if err != nil {
				s.logger.Warn("relationship creation failed",
					zap.String("from", ev.Relationship.FromEntity), zap.Error(err))
				keep(err)
				continue
			}
			ops = append(ops, op(memory.OpWrite, "createRelationship", start, map[string]any{
				"relationship_id": relID,
			}))
		}
	}

	start := time.Now()
	if err := s.storeTurn(ctx, session, turn, sessionID, det.SignificanceScore); err != nil {
		s.logger.Warn("turn persistence failed", zap.String("turn", turn.ID), zap.Error(err))
		keep(err)
	} else {
		ops = append(ops, op(memory.OpWrite, "storeTurn", start, map[string]any{
			"turn_id":    turn.ID,
			"session_id": sessionID,
		}))
	}

	return ops, firstErr
}

// upsertCharacter is a single atomic merge-on-key: concurrent turns about
// the same character never lose updates to a read-then-write race. Each
// upsert also appends an EmotionSnapshot so emotional history is queryable.
func (s *Store) upsertCharacter(ctx context.Context, session neo4j.SessionWithContext, change memory.EmotionalChange, sessionID, turnID string) error {
	vad := change.New.Clamp()
	_, err := session.Run(ctx, `
		MERGE (c:Character {id: $id})
		ON CREATE SET
			c.name = $name,
			c.created_at = datetime(),
			c.last_updated = datetime(),
			c.valence = $valence, c.arousal = $arousal, c.dominance = $dominance
		ON MATCH SET
			c.last_updated = datetime(),
			c.valence = $valence, c.arousal = $arousal, c.dominance = $dominance
		WITH c
		CREATE (e:EmotionSnapshot {
			id: $snapshotId,
			valence: $valence, arousal: $arousal, dominance: $dominance,
			trigger: $trigger,
			session_id: $sessionId, turn_id: $turnId,
			recorded_at: datetime()
		})
		CREATE (c)-[:FELT]->(e)`,
		map[string]any{
			"id":         change.CharacterID,
			"name":       characterName(change.CharacterID),
			"valence":    vad.Valence,
			"arousal":    vad.Arousal,
			"dominance":  vad.Dominance,
			"snapshotId": uuid.New().String(),
			"trigger":    change.Trigger,
			"sessionId":  sessionID,
			"turnId":     turnID,
		})
	return err
}

// createFact never overwrites in place: the new node's history is seeded
// from the previous (entity, attribute) fact inside the same statement, so
// superseding a fact is an append, not a destructive update.
func (s *Store) createFact(ctx context.Context, session neo4j.SessionWithContext, ev detector.Event, turn memory.Turn, sessionID string) (string, int, error) {
	factID := "fact:" + uuid.New().String()
	result, err := session.Run(ctx, `
		OPTIONAL MATCH (prev:Fact {entity: $entity, attribute: $attribute})
		WITH prev ORDER BY prev.last_updated DESC LIMIT 1
		CREATE (f:Fact {
			id: $factId,
			entity: $entity,
			attribute: $attribute,
			current_value: $value,
			history: CASE WHEN prev IS NULL THEN [] ELSE coalesce(prev.history, []) + prev.current_value END,
			importance_score: $importance,
			created_at: datetime(),
			last_updated: datetime(),
			session_id: $sessionId,
			turn_id: $turnId
		})
		RETURN f.id AS id, size(f.history) AS versions`,
		map[string]any{
			"factId":     factID,
			"entity":     ev.Fact.Entity,
			"attribute":  ev.Fact.Attribute,
			"value":      ev.Fact.Value,
			"importance": ev.Confidence * 10,
			"sessionId":  sessionID,
			"turnId":     turn.ID,
		})
	if err != nil {
		return "", 0, err
	}

	versions := 0
	if result.Next(ctx) {
		if v, ok := result.Record().Get("versions"); ok && v != nil {
			versions = int(v.(int64))
		}
	}
	return factID, versions, nil
}

// createRelationship creates a new directed edge; coexisting edges of the
// same type are allowed and most-recent wins at read time via ordering.
func (s *Store) createRelationship(ctx context.Context, session neo4j.SessionWithContext, ev detector.Event, turn memory.Turn, sessionID string) (string, error) {
	rel := ev.Relationship
	relID := "rel:" + uuid.New().String()
	fromID := detector.CharacterID(rel.FromEntity)
	toID := detector.CharacterID(rel.ToEntity)

	_, err := session.Run(ctx, `
		MERGE (from:Character {id: $fromId})
		ON CREATE SET from.name = $fromName, from.created_at = datetime(), from.last_updated = datetime()
		MERGE (to:Character {id: $toId})
		ON CREATE SET to.name = $toName, to.created_at = datetime(), to.last_updated = datetime()
		CREATE (from)-[r:RELATIONSHIP {
			id: $relId,
			relationship_type: $relType,
			strength: $strength,
			created_at: datetime(),
			last_updated: datetime(),
			session_id: $sessionId,
			turn_id: $turnId
		}]->(to)`,
		map[string]any{
			"relId":     relID,
			"fromId":    fromID,
			"fromName":  rel.FromEntity,
			"toId":      toID,
			"toName":    rel.ToEntity,
			"relType":   rel.Type,
			"strength":  rel.Strength,
			"sessionId": sessionID,
			"turnId":    turn.ID,
		})
	if err != nil {
		return "", err
	}
	return relID, nil
}

// storeTurn persists the turn as a durable node linked to its session and
// tagged with the detector's significance score.
func (s *Store) storeTurn(ctx context.Context, session neo4j.SessionWithContext, turn memory.Turn, sessionID string, significance float64) error {
	_, err := session.Run(ctx, `
		MERGE (s:Session {id: $sessionId})
		ON CREATE SET s.created_at = datetime()
		ON MATCH SET s.last_updated = datetime()
		CREATE (t:Turn {
			id: $turnId,
			role: $role,
			content: $content,
			timestamp: datetime($timestamp),
			token_count: $tokenCount,
			significance_score: $significance,
			session_id: $sessionId
		})
		CREATE (s)-[:HAS_TURN]->(t)`,
		map[string]any{
			"sessionId":    sessionID,
			"turnId":       turn.ID,
			"role":         string(turn.Role),
			"content":      turn.Content,
			"timestamp":    turn.Timestamp.UTC().Format(time.RFC3339Nano),
			"tokenCount":   turn.TokenCount,
			"significance": significance,
		})
	return err
}

func characterName(characterID string) string {
	name := strings.TrimPrefix(characterID, "character:")
	if name == "" {
		return characterID
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func op(t memory.OperationType, name string, start time.Time, details map[string]any) memory.Operation {
	return memory.Operation{
		ID:        uuid.New().String(),
		Type:      t,
		Layer:     memory.LayerEpisodic,
		Name:      name,
		Timestamp: start,
		Duration:  time.Since(start),
		Details:   details,
	}
}
