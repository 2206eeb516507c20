package episodic

import (
	"context"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemosyne/internal/memory"
)

// searchLimit caps each of the three ranked sub-queries.
const searchLimit = 10

// Token estimates per retrieved item; an approximation, not tokenization.
const (
	tokensPerCharacter    = 50
	tokensPerFact         = 30
	tokensPerRelationship = 25
)

// Search runs three independent ranked lookups (characters, facts,
// relationships) against the graph. The query text is split into lowercase
// terms and an item matches when any term appears as a substring. A failed
// sub-query degrades to an empty slice with a logged warning and never
// aborts the other two; Search itself always returns a usable L2Result.
func (s *Store) Search(ctx context.Context, query memory.RetrievalQuery) memory.L2Result {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	terms := searchTerms(query.QueryText)
	if len(terms) == 0 {
		return memory.L2Result{}
	}

	characters, err := s.searchCharacters(ctx, session, terms)
	if err != nil {
		s.logger.Warn("character search failed", zap.String("query", query.QueryText), zap.Error(err))
		characters = nil
	}
	facts, err := s.searchFacts(ctx, session, terms)
	if err != nil {
		s.logger.Warn("fact search failed", zap.String("query", query.QueryText), zap.Error(err))
		facts = nil
	}
	relationships, err := s.searchRelationships(ctx, session, terms)
	if err != nil {
		s.logger.Warn("relationship search failed", zap.String("query", query.QueryText), zap.Error(err))
		relationships = nil
	}

	total := len(characters) + len(facts) + len(relationships)
	relevance := float64(total) / float64(searchLimit)
	if relevance > 1.0 {
		relevance = 1.0
	}

	return memory.L2Result{
		Characters:    characters,
		Facts:         facts,
		Relationships: relationships,
		Relevance:     relevance,
		TokenCount: len(characters)*tokensPerCharacter +
			len(facts)*tokensPerFact +
			len(relationships)*tokensPerRelationship,
	}
}

// searchTerms lowercases the query and splits it on whitespace, dropping
// one-character fragments that would match nearly everything.
func searchTerms(queryText string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(queryText)) {
		if len(w) > 1 {
			terms = append(terms, w)
		}
	}
	return terms
}

// searchCharacters matches names by substring, newest first.
func (s *Store) searchCharacters(ctx context.Context, session neo4j.SessionWithContext, terms []string) ([]memory.Character, error) {
	result, err := session.Run(ctx, `
		MATCH (c:Character)
		WHERE any(term IN $terms WHERE toLower(c.name) CONTAINS term)
		RETURN c.id AS id, c.name AS name,
		       c.valence AS valence, c.arousal AS arousal, c.dominance AS dominance,
		       c.created_at AS created_at, c.last_updated AS last_updated
		ORDER BY c.last_updated DESC
		LIMIT $limit`,
		map[string]any{"terms": terms, "limit": searchLimit})
	if err != nil {
		return nil, err
	}

	var characters []memory.Character
	for result.Next(ctx) {
		characters = append(characters, characterFromRecord(result.Record()))
	}
	return characters, result.Err()
}

// searchFacts matches entity, attribute, and value by substring, ranked by
// importance then recency. Demoted facts are excluded.
func (s *Store) searchFacts(ctx context.Context, session neo4j.SessionWithContext, terms []string) ([]memory.Fact, error) {
	result, err := session.Run(ctx, `
		MATCH (f:Fact)
		WHERE coalesce(f.demoted, false) = false
		  AND any(term IN $terms
		        WHERE toLower(f.current_value) CONTAINS term
		           OR toLower(f.entity) CONTAINS term
		           OR toLower(f.attribute) CONTAINS term)
		RETURN f.id AS id, f.entity AS entity, f.attribute AS attribute,
		       f.current_value AS current_value, f.history AS history,
		       f.importance_score AS importance_score,
		       f.created_at AS created_at, f.last_updated AS last_updated,
		       f.session_id AS session_id, f.turn_id AS turn_id
		ORDER BY f.importance_score DESC, f.last_updated DESC
		LIMIT $limit`,
		map[string]any{"terms": terms, "limit": searchLimit})
	if err != nil {
		return nil, err
	}

	var facts []memory.Fact
	for result.Next(ctx) {
		facts = append(facts, factFromRecord(result.Record()))
	}
	return facts, result.Err()
}

// searchRelationships matches edge type and endpoint names by substring,
// ranked by strength then recency, so the most recent wins at read time.
func (s *Store) searchRelationships(ctx context.Context, session neo4j.SessionWithContext, terms []string) ([]memory.Relationship, error) {
	result, err := session.Run(ctx, `
		MATCH (from)-[r:RELATIONSHIP]->(to)
		WHERE any(term IN $terms
		        WHERE toLower(r.relationship_type) CONTAINS term
		           OR toLower(from.name) CONTAINS term
		           OR toLower(to.name) CONTAINS term)
		RETURN r.id AS id, from.id AS from_id, to.id AS to_id,
		       r.relationship_type AS relationship_type, r.strength AS strength,
		       r.created_at AS created_at, r.last_updated AS last_updated,
		       r.session_id AS session_id, r.turn_id AS turn_id
		ORDER BY r.strength DESC, r.last_updated DESC
		LIMIT $limit`,
		map[string]any{"terms": terms, "limit": searchLimit})
	if err != nil {
		return nil, err
	}

	var relationships []memory.Relationship
	for result.Next(ctx) {
		relationships = append(relationships, relationshipFromRecord(result.Record()))
	}
	return relationships, result.Err()
}
