package archive

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/mnemosyne/internal/memory"
	"go.uber.org/zap"
)

// Policy holds the archive's capacity and eviction tuning.
type Policy struct {
	MaxFragments    int     // hard capacity, never exceeded after Add returns
	VectorDimension int     // expected embedding length, 0 disables the check
	DecayRate       float64 // per-hour importance decay, e.g. 0.01
	AccessBoost     float64 // weight of the recency-of-access term
	RecencyBoost    float64 // scale of the recency-of-access term
}

// Archive is the capacity-bounded semantic store. It owns all fragment
// metadata; the Index only answers similarity queries.
type Archive struct {
	index  Index
	policy Policy
	logger *zap.Logger

	mu    sync.Mutex
	frags map[string]*memory.Fragment
}

// New creates an archive over the given index backend.
func New(index Index, policy Policy, logger *zap.Logger) *Archive {
	return &Archive{
		index:  index,
		policy: policy,
		logger: logger,
		frags:  make(map[string]*memory.Fragment),
	}
}

// Add inserts a new fragment. At capacity it first evicts the fragment with
// the globally lowest composite score, so capacity is never exceeded when
// Add returns. Returns the stored fragment and the id of the evicted one,
// if any.
func (a *Archive) Add(ctx context.Context, content string, embedding []float32, importance float64) (*memory.Fragment, string, error) {
	if a.policy.VectorDimension > 0 && len(embedding) != a.policy.VectorDimension {
		return nil, "", fmt.Errorf("embedding dimension %d, want %d", len(embedding), a.policy.VectorDimension)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	evictedID := ""
	if a.policy.MaxFragments > 0 && len(a.frags) >= a.policy.MaxFragments {
		victim := a.lowestScoring(now)
		if victim == "" {
			return nil, "", fmt.Errorf("archive full with no eviction candidate")
		}
		if err := a.index.Delete(ctx, victim); err != nil {
			return nil, "", fmt.Errorf("evict fragment %s: %w", victim, err)
		}
		delete(a.frags, victim)
		evictedID = victim
	}

	frag := &memory.Fragment{
		ID:              uuid.New().String(),
		Content:         content,
		Embedding:       embedding,
		ImportanceScore: importance,
		LastAccessed:    now,
		CreatedAt:       now,
	}
	if err := a.index.Upsert(ctx, frag.ID, embedding); err != nil {
		return nil, evictedID, fmt.Errorf("index fragment: %w", err)
	}
	a.frags[frag.ID] = frag

	if evictedID != "" {
		a.logger.Debug("archive evicted fragment",
			zap.String("evicted", evictedID),
			zap.String("inserted", frag.ID),
			zap.Int("count", len(a.frags)))
	}
	cp := *frag
	return &cp, evictedID, nil
}

// Search ranks fragments by similarity to the query embedding, drops hits
// below minSimilarity, and returns at most topK. Every returned fragment
// has its last_accessed touched, which feeds future eviction scoring.
func (a *Archive) Search(ctx context.Context, queryEmbedding []float32, topK int, minSimilarity float64) ([]memory.Fragment, error) {
	hits, err := a.index.Search(ctx, queryEmbedding, topK)
	if err != nil {
		return nil, fmt.Errorf("archive search: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	out := make([]memory.Fragment, 0, len(hits))
	for _, h := range hits {
		if h.Score < minSimilarity {
			continue
		}
		frag, ok := a.frags[h.ID]
		if !ok {
			continue
		}
		frag.LastAccessed = now
		cp := *frag
		cp.Similarity = h.Score
		out = append(out, cp)
	}
	return out, nil
}

// Prune proactively removes every fragment whose composite score has
// decayed below floor. It returns the ids removed.
func (a *Archive) Prune(ctx context.Context, floor float64) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	var removed []string
	for id, f := range a.frags {
		if a.score(f, now) >= floor {
			continue
		}
		if err := a.index.Delete(ctx, id); err != nil {
			a.logger.Warn("prune: index delete failed", zap.String("fragment", id), zap.Error(err))
			continue
		}
		delete(a.frags, id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		a.logger.Info("archive pruned fragments",
			zap.Int("removed", len(removed)), zap.Int("remaining", len(a.frags)))
	}
	return removed, nil
}

// Count returns the number of stored fragments.
func (a *Archive) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.frags)
}

// Stats summarizes archive occupancy.
func (a *Archive) Stats() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	var totalImportance float64
	for _, f := range a.frags {
		totalImportance += f.ImportanceScore
	}
	mean := 0.0
	if len(a.frags) > 0 {
		mean = totalImportance / float64(len(a.frags))
	}
	return map[string]any{
		"fragments":       len(a.frags),
		"capacity":        a.policy.MaxFragments,
		"mean_importance": mean,
	}
}

// lowestScoring returns the id of the fragment with the minimal composite
// score at time now. Caller holds the lock.
func (a *Archive) lowestScoring(now time.Time) string {
	victim := ""
	lowest := math.Inf(1)
	for id, f := range a.frags {
		if s := a.score(f, now); s < lowest {
			lowest = s
			victim = id
		}
	}
	return victim
}

func (a *Archive) score(f *memory.Fragment, now time.Time) float64 {
	return CompositeScore(f, a.policy, now)
}

// CompositeScore is the eviction score: importance decayed by age, plus an
// access-recency boost. Lower scores are evicted first.
func CompositeScore(f *memory.Fragment, p Policy, now time.Time) float64 {
	ageHours := now.Sub(f.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	sinceAccess := now.Sub(f.LastAccessed).Hours()
	if sinceAccess < 0 {
		sinceAccess = 0
	}
	decayed := f.ImportanceScore * math.Pow(1-p.DecayRate, ageHours)
	boost := p.AccessBoost * p.RecencyBoost / (1 + sinceAccess)
	return decayed + boost
}
