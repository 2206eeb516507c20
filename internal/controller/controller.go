package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemosyne/internal/detector"
	"github.com/nidhogg/mnemosyne/internal/embedding"
	"github.com/nidhogg/mnemosyne/internal/episodic"
	"github.com/nidhogg/mnemosyne/internal/memory"
	"github.com/nidhogg/mnemosyne/internal/notify"
	"github.com/nidhogg/mnemosyne/internal/working"
)

// EpisodicStore is the slice of the graph layer the controller uses.
type EpisodicStore interface {
	Apply(ctx context.Context, turn memory.Turn, det detector.Result, sessionID string) ([]memory.Operation, error)
	Search(ctx context.Context, query memory.RetrievalQuery) memory.L2Result
	GetAllCharacters(ctx context.Context) ([]memory.Character, error)
	GetEmotionalHistory(ctx context.Context, characterID string, limit int) ([]episodic.EmotionSnapshot, error)
	GetFactWithHistory(ctx context.Context, factID string) (*memory.Fact, error)
	Counts(ctx context.Context) (map[string]int, error)
	DemoteFacts(ctx context.Context, floor, decayRate float64) (int, error)
}

// SemanticArchive is the slice of the vector layer the controller uses.
type SemanticArchive interface {
	Add(ctx context.Context, content string, embedding []float32, importance float64) (*memory.Fragment, string, error)
	Search(ctx context.Context, queryEmbedding []float32, topK int, minSimilarity float64) ([]memory.Fragment, error)
	Prune(ctx context.Context, floor float64) ([]string, error)
	Count() int
	Stats() map[string]any
}

// AuditLedger records operations for later inspection. Optional.
type AuditLedger interface {
	RecordOperations(ctx context.Context, sessionID string, ops []memory.Operation) error
	RecentOperations(ctx context.Context, sessionID string, limit int) ([]memory.Operation, error)
}

// IngestPublisher announces processed turns. Optional.
type IngestPublisher interface {
	PublishIngest(ctx context.Context, notice *notify.IngestNotice) error
}

const (
	archiveTopK          = 10
	archiveMinSimilarity = 0.3
)

// Controller routes each turn through the three memory tiers and fuses
// them back together on retrieval. Writes for one session are serialized,
// different sessions proceed concurrently.
type Controller struct {
	cfg      memory.Config
	buffer   *working.Buffer
	episodic EpisodicStore
	archive  SemanticArchive
	detect   detector.Detector
	embedder embedding.Provider
	ledger   AuditLedger
	notifier IngestPublisher
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// New creates a Controller. ledger and notifier may be nil.
func New(
	cfg memory.Config,
	buffer *working.Buffer,
	ep EpisodicStore,
	ar SemanticArchive,
	det detector.Detector,
	embedder embedding.Provider,
	ledger AuditLedger,
	notifier IngestPublisher,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		cfg:      cfg,
		buffer:   buffer,
		episodic: ep,
		archive:  ar,
		detect:   det,
		embedder: embedder,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		sessions: make(map[string]*sync.Mutex),
	}
}

func (c *Controller) sessionLock(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mu, ok := c.sessions[sessionID]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	c.sessions[sessionID] = mu
	return mu
}

// Ingest routes one turn through the tiers. The working buffer always takes
// it, the graph takes it when the detector scores it significant, the
// archive takes it when it scores archival. Layer failures are logged and
// absorbed, an individual tier being down never loses the turn for the
// others.
func (c *Controller) Ingest(ctx context.Context, sessionID string, turn memory.Turn) (memory.IngestResult, error) {
	if sessionID == "" {
		return memory.IngestResult{}, memory.ErrEmptySession
	}
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	if turn.TokenCount <= 0 {
		turn.TokenCount = memory.EstimateTokens(turn.Content)
	}

	history := c.buffer.Recent(sessionID, c.cfg.L1MaxTokens)
	det, err := c.detect.Detect(turn, history)
	if err != nil {
		c.logger.Warn("detector failed, treating turn as insignificant", zap.Error(err))
		det = detector.Result{}
	}

	var ops []memory.Operation

	start := time.Now()
	evicted := c.buffer.Append(sessionID, turn)
	ops = append(ops, memory.Operation{
		ID:        uuid.New().String(),
		Type:      memory.OpWrite,
		Layer:     memory.LayerWorking,
		Name:      "append_turn",
		Timestamp: start,
		Duration:  time.Since(start),
		Details:   map[string]any{"turn_id": turn.ID, "evicted_turns": evicted},
	})

	if c.promotesToGraph(det) {
		epOps, err := c.episodic.Apply(ctx, turn, det, sessionID)
		if err != nil {
			c.logger.Warn("episodic write failed", zap.Error(err), zap.String("session_id", sessionID))
		}
		ops = append(ops, epOps...)
	}

	if det.SignificanceScore >= c.cfg.L3ArchivalThreshold {
		if op, err := c.archiveTurn(ctx, turn, det.SignificanceScore); err != nil {
			c.logger.Warn("archive write failed", zap.Error(err), zap.String("session_id", sessionID))
		} else {
			ops = append(ops, op)
		}
	}

	if c.ledger != nil {
		if err := c.ledger.RecordOperations(ctx, sessionID, ops); err != nil {
			c.logger.Warn("audit record failed", zap.Error(err))
		}
	}
	if c.notifier != nil {
		notice := &notify.IngestNotice{
			SessionID:        sessionID,
			TurnID:           turn.ID,
			Significance:     det.SignificanceScore,
			Operations:       len(ops),
			EmotionalChanges: det.EmotionalChanges,
			Timestamp:        time.Now().UTC(),
		}
		if err := c.notifier.PublishIngest(ctx, notice); err != nil {
			c.logger.Warn("ingest notice failed", zap.Error(err))
		}
	}

	changes := det.EmotionalChanges
	if changes == nil {
		changes = []memory.EmotionalChange{}
	}
	return memory.IngestResult{Operations: ops, EmotionalChanges: changes}, nil
}

// promotesToGraph decides whether a turn reaches L2: either its overall
// significance clears the threshold or one of its emotional shifts is large
// enough on its own.
func (c *Controller) promotesToGraph(det detector.Result) bool {
	if det.SignificanceScore >= c.cfg.L2SignificanceThreshold {
		return true
	}
	for _, ch := range det.EmotionalChanges {
		if ch.Previous.DeltaMagnitude(ch.New) >= c.cfg.L2EmotionalDeltaThreshold {
			return true
		}
	}
	return false
}

func (c *Controller) archiveTurn(ctx context.Context, turn memory.Turn, significance float64) (memory.Operation, error) {
	start := time.Now()
	vectors, err := c.embedder.Embed(ctx, []string{turn.Content})
	if err != nil {
		return memory.Operation{}, fmt.Errorf("embed turn: %w", err)
	}
	if len(vectors) == 0 {
		return memory.Operation{}, fmt.Errorf("embed turn: empty result")
	}

	frag, evictedID, err := c.archive.Add(ctx, turn.Content, vectors[0], significance)
	if err != nil {
		return memory.Operation{}, err
	}

	details := map[string]any{"fragment_id": frag.ID, "importance": significance}
	if evictedID != "" {
		details["evicted_fragment"] = evictedID
	}
	return memory.Operation{
		ID:        uuid.New().String(),
		Type:      memory.OpWrite,
		Layer:     memory.LayerArchive,
		Name:      "archive_fragment",
		Timestamp: start,
		Duration:  time.Since(start),
		Details:   details,
	}, nil
}

// Retrieve queries all three tiers in parallel and fuses the results. A
// layer that errors or exceeds its timeout contributes an empty sub-result.
// The only hard failure is an invalid weight configuration.
func (c *Controller) Retrieve(ctx context.Context, query memory.RetrievalQuery) (*memory.RetrievalResult, error) {
	weights := query.Weights
	if weights.IsZero() {
		weights = c.cfg.DefaultWeights
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	budget := query.TokenBudget
	if budget <= 0 {
		budget = c.cfg.ContextTokenBudget
	}
	query.Weights = weights
	query.TokenBudget = budget

	result := &memory.RetrievalResult{Weights: weights}
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		result.L1 = c.retrieveWorking(query, weights.L1)
	}()
	go func() {
		defer wg.Done()
		result.L2 = c.retrieveEpisodic(ctx, query, weights.L2)
	}()
	go func() {
		defer wg.Done()
		result.L3 = c.retrieveArchive(ctx, query, weights.L3)
	}()
	wg.Wait()

	return result, nil
}

func (c *Controller) retrieveWorking(query memory.RetrievalQuery, weight float64) memory.L1Result {
	budget := int(float64(query.TokenBudget) * weight)
	if budget <= 0 {
		return memory.L1Result{Turns: []memory.Turn{}}
	}
	turns := c.buffer.Recent(query.SessionID, budget)
	if len(turns) == 0 {
		return memory.L1Result{Turns: []memory.Turn{}}
	}
	tokens := 0
	for _, t := range turns {
		tokens += t.TokenCount
	}
	return memory.L1Result{
		Turns:      turns,
		TokenCount: tokens,
		Relevance:  weight,
	}
}

func (c *Controller) retrieveEpisodic(ctx context.Context, query memory.RetrievalQuery, weight float64) memory.L2Result {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LayerTimeout)
	defer cancel()

	res := c.episodic.Search(ctx, query)
	res.Relevance *= weight
	if res.Characters == nil {
		res.Characters = []memory.Character{}
	}
	if res.Facts == nil {
		res.Facts = []memory.Fact{}
	}
	if res.Relationships == nil {
		res.Relationships = []memory.Relationship{}
	}
	return res
}

func (c *Controller) retrieveArchive(ctx context.Context, query memory.RetrievalQuery, weight float64) memory.L3Result {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LayerTimeout)
	defer cancel()

	empty := memory.L3Result{Fragments: []memory.Fragment{}}

	vectors, err := c.embedder.Embed(ctx, []string{query.QueryText})
	if err != nil || len(vectors) == 0 {
		c.logger.Warn("query embedding failed", zap.Error(err))
		return empty
	}

	fragments, err := c.archive.Search(ctx, vectors[0], archiveTopK, archiveMinSimilarity)
	if err != nil {
		c.logger.Warn("archive search failed", zap.Error(err))
		return empty
	}
	if len(fragments) == 0 {
		return empty
	}

	tokens := 0
	best := 0.0
	for _, f := range fragments {
		tokens += memory.EstimateTokens(f.Content)
		if f.Similarity > best {
			best = f.Similarity
		}
	}
	return memory.L3Result{
		Fragments:  fragments,
		TokenCount: tokens,
		Relevance:  best * weight,
	}
}

// Prune demotes decayed facts in the graph and drops low-scoring fragments
// from the archive. Returns a summary of what was removed.
func (c *Controller) Prune(ctx context.Context) (map[string]any, error) {
	summary := make(map[string]any)

	demoted, err := c.episodic.DemoteFacts(ctx, c.cfg.FactDemotionFloor, c.cfg.ImportanceDecayRate)
	if err != nil {
		c.logger.Warn("fact demotion failed", zap.Error(err))
		summary["facts_demoted_error"] = err.Error()
	} else {
		summary["facts_demoted"] = demoted
	}

	pruned, err := c.archive.Prune(ctx, c.cfg.FragmentPruneFloor)
	if err != nil {
		c.logger.Warn("archive prune failed", zap.Error(err))
		summary["fragments_pruned_error"] = err.Error()
	} else {
		summary["fragments_pruned"] = len(pruned)
	}

	if c.ledger != nil {
		op := memory.Operation{
			ID:        uuid.New().String(),
			Type:      memory.OpDelete,
			Layer:     memory.LayerEpisodic,
			Name:      "prune",
			Timestamp: time.Now().UTC(),
			Details:   summary,
		}
		if err := c.ledger.RecordOperations(ctx, "", []memory.Operation{op}); err != nil {
			c.logger.Warn("audit record failed", zap.Error(err))
		}
	}
	return summary, nil
}

// Statistics reports per-tier sizes and graph node counts.
func (c *Controller) Statistics(ctx context.Context) (map[string]any, error) {
	stats := map[string]any{
		"l1_sessions": len(c.buffer.Sessions()),
		"l3":          c.archive.Stats(),
	}
	counts, err := c.episodic.Counts(ctx)
	if err != nil {
		c.logger.Warn("graph counts failed", zap.Error(err))
		stats["l2_error"] = err.Error()
	} else {
		stats["l2"] = counts
	}
	return stats, nil
}

// Inspect reports the state of one session across the tiers.
func (c *Controller) Inspect(ctx context.Context, sessionID string) (map[string]any, error) {
	out := map[string]any{
		"session_id": sessionID,
		"l1_turns":   c.buffer.Len(sessionID),
		"l1_tokens":  c.buffer.Tokens(sessionID),
		"l3_count":   c.archive.Count(),
	}
	counts, err := c.episodic.Counts(ctx)
	if err == nil {
		out["l2"] = counts
	}
	if c.ledger != nil {
		ops, err := c.ledger.RecentOperations(ctx, sessionID, 20)
		if err == nil {
			out["recent_operations"] = ops
		}
	}
	return out, nil
}

// Characters returns every character in the graph.
func (c *Controller) Characters(ctx context.Context) ([]memory.Character, error) {
	return c.episodic.GetAllCharacters(ctx)
}

// EmotionalHistory returns a character's emotion snapshots, newest first.
func (c *Controller) EmotionalHistory(ctx context.Context, characterID string, limit int) ([]episodic.EmotionSnapshot, error) {
	return c.episodic.GetEmotionalHistory(ctx, characterID, limit)
}

// FactVersions returns a fact with its full version chain, nil if unknown.
func (c *Controller) FactVersions(ctx context.Context, factID string) (*memory.Fact, error) {
	return c.episodic.GetFactWithHistory(ctx, factID)
}

// Operations returns the audit trail for a session. Empty without a ledger.
func (c *Controller) Operations(ctx context.Context, sessionID string, limit int) ([]memory.Operation, error) {
	if c.ledger == nil {
		return []memory.Operation{}, nil
	}
	return c.ledger.RecentOperations(ctx, sessionID, limit)
}
