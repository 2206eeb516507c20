package episodic

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemosyne/internal/memory"
)

// GetAllCharacters returns every character ordered by name.
func (s *Store) GetAllCharacters(ctx context.Context) ([]memory.Character, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (c:Character)
		RETURN c.id AS id, c.name AS name,
		       c.valence AS valence, c.arousal AS arousal, c.dominance AS dominance,
		       c.created_at AS created_at, c.last_updated AS last_updated
		ORDER BY c.name`, nil)
	if err != nil {
		return nil, err
	}

	var characters []memory.Character
	for result.Next(ctx) {
		characters = append(characters, characterFromRecord(result.Record()))
	}
	return characters, result.Err()
}

// GetEmotionalHistory returns a character's recorded emotion snapshots,
// newest first.
func (s *Store) GetEmotionalHistory(ctx context.Context, characterID string, limit int) ([]EmotionSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (c:Character {id: $characterId})-[:FELT]->(e:EmotionSnapshot)
		RETURN e.id AS id,
		       e.valence AS valence, e.arousal AS arousal, e.dominance AS dominance,
		       e.trigger AS trigger, e.session_id AS session_id, e.turn_id AS turn_id,
		       e.recorded_at AS recorded_at
		ORDER BY e.recorded_at DESC
		LIMIT $limit`,
		map[string]any{"characterId": characterID, "limit": limit})
	if err != nil {
		return nil, err
	}

	var snapshots []EmotionSnapshot
	for result.Next(ctx) {
		snapshots = append(snapshots, snapshotFromRecord(result.Record()))
	}
	return snapshots, result.Err()
}

// GetFactWithHistory returns one fact with its full version chain, or nil
// when the id is unknown.
func (s *Store) GetFactWithHistory(ctx context.Context, factID string) (*memory.Fact, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (f:Fact {id: $factId})
		RETURN f.id AS id, f.entity AS entity, f.attribute AS attribute,
		       f.current_value AS current_value, f.history AS history,
		       f.importance_score AS importance_score,
		       f.created_at AS created_at, f.last_updated AS last_updated,
		       f.session_id AS session_id, f.turn_id AS turn_id`,
		map[string]any{"factId": factID})
	if err != nil {
		return nil, err
	}
	if !result.Next(ctx) {
		return nil, result.Err()
	}
	fact := factFromRecord(result.Record())
	return &fact, nil
}

// LatestFact returns the newest fact for an (entity, attribute) pair, or
// nil when none exists.
func (s *Store) LatestFact(ctx context.Context, entity, attribute string) (*memory.Fact, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (f:Fact {entity: $entity, attribute: $attribute})
		RETURN f.id AS id, f.entity AS entity, f.attribute AS attribute,
		       f.current_value AS current_value, f.history AS history,
		       f.importance_score AS importance_score,
		       f.created_at AS created_at, f.last_updated AS last_updated,
		       f.session_id AS session_id, f.turn_id AS turn_id
		ORDER BY f.last_updated DESC
		LIMIT 1`,
		map[string]any{"entity": entity, "attribute": attribute})
	if err != nil {
		return nil, err
	}
	if !result.Next(ctx) {
		return nil, result.Err()
	}
	fact := factFromRecord(result.Record())
	return &fact, nil
}

// Counts reports how many nodes of each kind the graph holds.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	counts := make(map[string]int)
	queries := map[string]string{
		"characters":    `MATCH (c:Character) RETURN count(c) AS n`,
		"facts":         `MATCH (f:Fact) RETURN count(f) AS n`,
		"relationships": `MATCH ()-[r:RELATIONSHIP]->() RETURN count(r) AS n`,
		"turns":         `MATCH (t:Turn) RETURN count(t) AS n`,
		"sessions":      `MATCH (s:Session) RETURN count(s) AS n`,
	}
	for key, q := range queries {
		result, err := session.Run(ctx, q, nil)
		if err != nil {
			return nil, err
		}
		if result.Next(ctx) {
			if v, ok := result.Record().Get("n"); ok && v != nil {
				counts[key] = int(v.(int64))
			}
		}
	}
	return counts, nil
}

// DemoteFacts marks facts whose importance has decayed below floor. Demoted
// facts stay in the graph (history is never destroyed) but drop out of
// search results. Returns the number of facts demoted.
func (s *Store) DemoteFacts(ctx context.Context, floor, decayRate float64) (int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (f:Fact)
		WHERE coalesce(f.demoted, false) = false
		WITH f, duration.between(f.last_updated, datetime()).hours AS hours
		WITH f, f.importance_score * ((1.0 - $rate) ^ toFloat(CASE WHEN hours < 0 THEN 0 ELSE hours END)) AS decayed
		WHERE decayed < $floor
		SET f.demoted = true
		RETURN count(f) AS demoted`,
		map[string]any{"rate": decayRate, "floor": floor})
	if err != nil {
		return 0, err
	}

	demoted := 0
	if result.Next(ctx) {
		if v, ok := result.Record().Get("demoted"); ok && v != nil {
			demoted = int(v.(int64))
		}
	}
	if demoted > 0 {
		s.logger.Info("demoted decayed facts", zap.Int("count", demoted), zap.Float64("floor", floor))
	}
	return demoted, nil
}
