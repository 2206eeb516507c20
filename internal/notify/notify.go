package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemosyne/internal/memory"
)

// Notifier publishes memory events to Redis Streams so other services can
// react to what the controller learned without polling the graph.
type Notifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New creates a Redis-backed notifier.
func New(redisURL string, logger *zap.Logger) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Notifier{rdb: rdb, logger: logger}, nil
}

// IngestNotice describes one processed turn.
type IngestNotice struct {
	SessionID        string                   `json:"session_id"`
	TurnID           string                   `json:"turn_id"`
	Significance     float64                  `json:"significance"`
	Operations       int                      `json:"operations"`
	EmotionalChanges []memory.EmotionalChange `json:"emotional_changes,omitempty"`
	Timestamp        time.Time                `json:"timestamp"`
}

const ingestStream = "mnemosyne:ingest"

// PublishIngest appends a notice to the ingest stream. A nil Notifier is a
// no-op so callers need not guard the optional dependency.
func (n *Notifier) PublishIngest(ctx context.Context, notice *IngestNotice) error {
	if n == nil {
		return nil
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return err
	}

	_, err = n.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: ingestStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", ingestStream, err)
	}

	n.logger.Debug("published ingest notice",
		zap.String("session_id", notice.SessionID),
		zap.Float64("significance", notice.Significance))
	return nil
}

// Subscribe listens for ingest notices. Returns a channel that emits
// notices. Cancel the context to stop.
func (n *Notifier) Subscribe(ctx context.Context) <-chan *IngestNotice {
	ch := make(chan *IngestNotice, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := n.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{ingestStream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var notice IngestNotice
					if json.Unmarshal([]byte(data), &notice) == nil {
						ch <- &notice
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	return n.rdb.Close()
}
