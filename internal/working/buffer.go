// Package working implements the L1 tier: a bounded in-memory window of
// recent conversation turns per session. It is a pure recency buffer:
// eviction is FIFO and unconditional, no importance override.
package working

import (
	"sync"

	"github.com/nidhogg/mnemosyne/internal/memory"
	"go.uber.org/zap"
)

// Buffer holds per-session turn windows bounded by turn count and token sum.
type Buffer struct {
	maxTurns  int
	maxTokens int

	mu       sync.RWMutex
	sessions map[string][]memory.Turn

	logger *zap.Logger
}

// NewBuffer creates a working buffer with the given limits.
func NewBuffer(maxTurns, maxTokens int, logger *zap.Logger) *Buffer {
	return &Buffer{
		maxTurns:  maxTurns,
		maxTokens: maxTokens,
		sessions:  make(map[string][]memory.Turn),
		logger:    logger,
	}
}

// Append inserts a turn at the end of the session window, then evicts from
// the front until both the turn-count and token-sum limits hold. Returns
// the number of turns evicted.
func (b *Buffer) Append(sessionID string, turn memory.Turn) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	window := append(b.sessions[sessionID], turn)

	evicted := 0
	for len(window) > b.maxTurns || sumTokens(window) > b.maxTokens {
		if len(window) == 0 {
			break
		}
		window = window[1:]
		evicted++
	}
	b.sessions[sessionID] = window

	if evicted > 0 {
		b.logger.Debug("working buffer evicted turns",
			zap.String("session", sessionID),
			zap.Int("evicted", evicted),
			zap.Int("remaining", len(window)))
	}
	return evicted
}

// Recent returns the maximal trailing subsequence of the session window
// whose total token count fits within budgetTokens, preserving order.
// An empty slice is returned when even the newest turn alone exceeds the
// budget; Recent never errors.
func (b *Buffer) Recent(sessionID string, budgetTokens int) []memory.Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()

	window := b.sessions[sessionID]
	if len(window) == 0 || budgetTokens <= 0 {
		return nil
	}

	total := 0
	start := len(window)
	for i := len(window) - 1; i >= 0; i-- {
		if total+window[i].TokenCount > budgetTokens {
			break
		}
		total += window[i].TokenCount
		start = i
	}
	if start == len(window) {
		return nil
	}

	out := make([]memory.Turn, len(window)-start)
	copy(out, window[start:])
	return out
}

// Len reports how many turns the session window currently holds.
func (b *Buffer) Len(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}

// Tokens reports the token sum of the session window.
func (b *Buffer) Tokens(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sumTokens(b.sessions[sessionID])
}

// Sessions returns the ids of all sessions currently buffered.
func (b *Buffer) Sessions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	return ids
}

func sumTokens(turns []memory.Turn) int {
	total := 0
	for _, t := range turns {
		total += t.TokenCount
	}
	return total
}
