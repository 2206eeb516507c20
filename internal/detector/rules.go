package detector

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/nidhogg/mnemosyne/internal/memory"
)

// RuleDetector classifies turns with regexp patterns and a small VAD
// lexicon. It keeps no state between calls.
type RuleDetector struct{}

// NewRuleDetector creates the default rule/lexicon classifier.
func NewRuleDetector() *RuleDetector {
	return &RuleDetector{}
}

// assertionRe captures "<Entity> [says she/he/they] <verb> <value>".
var assertionRe = regexp.MustCompile(
	`\b([A-Z][A-Za-z]*)(?: says (?:she|he|they))? (loves|likes|adores|hates|dislikes|fears|trusts|knows|betrays|marries|is|has|owns|wants) ([^.!?,]+)`)

// relationVerbs are assertion verbs that form a directed relationship when
// the object is itself a named entity.
var relationVerbs = map[string]bool{
	"loves": true, "likes": true, "adores": true,
	"hates": true, "dislikes": true, "fears": true,
	"trusts": true, "knows": true, "betrays": true, "marries": true,
}

// attributeFor maps an assertion verb to the fact attribute it asserts.
func attributeFor(verb string) string {
	switch verb {
	case "loves", "likes", "adores", "hates", "dislikes":
		return "preference"
	case "fears":
		return "fear"
	case "is":
		return "state"
	case "has", "owns":
		return "possession"
	case "wants":
		return "desire"
	default:
		return "description"
	}
}

// vadLexicon maps emotion-bearing words to VAD deltas.
var vadLexicon = map[string]memory.VADState{
	"loves":    {Valence: 0.6, Arousal: 0.4, Dominance: 0.2},
	"adores":   {Valence: 0.7, Arousal: 0.5, Dominance: 0.2},
	"likes":    {Valence: 0.4, Arousal: 0.2, Dominance: 0.1},
	"happy":    {Valence: 0.7, Arousal: 0.4, Dominance: 0.3},
	"excited":  {Valence: 0.6, Arousal: 0.8, Dominance: 0.3},
	"proud":    {Valence: 0.6, Arousal: 0.3, Dominance: 0.6},
	"calm":     {Valence: 0.3, Arousal: -0.6, Dominance: 0.2},
	"hates":    {Valence: -0.7, Arousal: 0.5, Dominance: 0.2},
	"dislikes": {Valence: -0.4, Arousal: 0.2, Dominance: 0.1},
	"angry":    {Valence: -0.6, Arousal: 0.7, Dominance: 0.4},
	"furious":  {Valence: -0.8, Arousal: 0.9, Dominance: 0.5},
	"sad":      {Valence: -0.6, Arousal: -0.3, Dominance: -0.4},
	"afraid":   {Valence: -0.6, Arousal: 0.6, Dominance: -0.6},
	"fears":    {Valence: -0.5, Arousal: 0.5, Dominance: -0.5},
	"ashamed":  {Valence: -0.5, Arousal: 0.2, Dominance: -0.6},
	"terrified": {Valence: -0.8, Arousal: 0.9, Dominance: -0.7},
}

const (
	assertionConfidence = 0.9
	relationConfidence  = 0.8
)

// Detect runs the rule pipeline over one turn.
func (d *RuleDetector) Detect(turn memory.Turn, history []memory.Turn) (Result, error) {
	var res Result

	seenRelations := map[string]bool{}
	for _, m := range assertionRe.FindAllStringSubmatch(turn.Content, -1) {
		entity, verb, value := m[1], m[2], strings.TrimSpace(m[3])

		if relationVerbs[verb] && isEntityName(value) {
			to := firstWord(value)
			key := entity + "|" + verb + "|" + to
			if seenRelations[key] {
				continue
			}
			seenRelations[key] = true
			res.Events = append(res.Events, Event{
				Type:        EventRelationshipChange,
				Entities:    []string{entity, to},
				Description: entity + " " + verb + " " + to,
				Confidence:  relationConfidence,
				Relationship: &RelationshipChange{
					FromEntity: entity,
					ToEntity:   to,
					Type:       verb,
					Strength:   relationConfidence,
				},
			})
			continue
		}

		res.Events = append(res.Events, Event{
			Type:        EventFactAssertion,
			Entities:    []string{entity},
			Description: entity + " " + verb + " " + value,
			Confidence:  assertionConfidence,
			Fact: &FactAssertion{
				Entity:    entity,
				Attribute: attributeFor(verb),
				Value:     verb + " " + value,
			},
		})
	}

	res.EmotionalChanges = d.emotionalChanges(turn)
	res.SignificanceScore = d.score(turn, history, res)
	return res, nil
}

// emotionalChanges accumulates lexicon deltas and attributes them to the
// named characters in the turn. Previous state is reported as neutral; the
// episodic store owns the authoritative per-character state.
func (d *RuleDetector) emotionalChanges(turn memory.Turn) []memory.EmotionalChange {
	var delta memory.VADState
	hit := false
	for _, tok := range tokenize(turn.Content) {
		if v, ok := vadLexicon[tok]; ok {
			delta.Valence += v.Valence
			delta.Arousal += v.Arousal
			delta.Dominance += v.Dominance
			hit = true
		}
	}
	if !hit {
		return nil
	}
	delta = delta.Clamp()

	entities := namedEntities(turn.Content)
	if len(entities) == 0 {
		return nil
	}

	changes := make([]memory.EmotionalChange, 0, len(entities))
	for _, name := range entities {
		changes = append(changes, memory.EmotionalChange{
			CharacterID: CharacterID(name),
			Previous:    memory.VADState{},
			New:         delta,
			Trigger:     snippet(turn.Content, 80),
		})
	}
	return changes
}

// score blends event count, emotional magnitude, and content length into a
// [0, 10] significance estimate. Verbatim repeats of recent turns score half.
func (d *RuleDetector) score(turn memory.Turn, history []memory.Turn, res Result) float64 {
	s := 1.0
	s += 2.0 * float64(len(res.Events))

	var maxDelta float64
	for _, ch := range res.EmotionalChanges {
		if m := ch.New.DeltaMagnitude(ch.Previous); m > maxDelta {
			maxDelta = m
		}
	}
	s += 3.0 * maxDelta

	if lf := float64(len(tokenize(turn.Content))) / 40.0; lf > 0 {
		if lf > 2 {
			lf = 2
		}
		s += lf
	}

	for _, prev := range history {
		if prev.Content == turn.Content {
			s *= 0.5
			break
		}
	}

	if s > 10 {
		s = 10
	}
	if s < 0 {
		s = 0
	}
	return s
}

// CharacterID derives the stable graph id for a character name.
func CharacterID(name string) string {
	return "character:" + strings.ToLower(name)
}

// namedEntities returns the distinct capitalized words of the content in
// first-seen order. A capitalized word that also appears lowercase in the
// same content is treated as sentence-case rather than a name and skipped.
func namedEntities(content string) []string {
	lower := map[string]bool{}
	for _, f := range strings.Fields(content) {
		w := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) })
		if len(w) > 0 && unicode.IsLower(rune(w[0])) {
			lower[strings.ToLower(w)] = true
		}
	}

	seen := map[string]bool{}
	var order []string
	for _, f := range strings.Fields(content) {
		w := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) })
		if len(w) < 2 || !unicode.IsUpper(rune(w[0])) || lower[strings.ToLower(w)] {
			continue
		}
		if !seen[w] {
			order = append(order, w)
			seen[w] = true
		}
	}
	return order
}

func isEntityName(value string) bool {
	w := firstWord(value)
	return len(w) > 1 && unicode.IsUpper(rune(w[0]))
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimFunc(fields[0], func(r rune) bool { return !unicode.IsLetter(r) })
}

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) > 1 {
			result = append(result, w)
		}
	}
	return result
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
