package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemosyne/internal/memory"
)

// Ledger persists the audit trail of memory operations in PostgreSQL. The
// graph and the archive hold what the system knows; the ledger holds what
// the system did.
type Ledger struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Ledger with a pgx connection pool.
func New(dsn string, logger *zap.Logger) (*Ledger, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Ledger{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (l *Ledger) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := l.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		l.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// RecordOperations appends operations for one session to the audit trail.
// Failures are reported but must not break ingestion, callers log and move
// on.
func (l *Ledger) RecordOperations(ctx context.Context, sessionID string, ops []memory.Operation) error {
	for _, op := range ops {
		var details []byte
		if len(op.Details) > 0 {
			var err error
			details, err = json.Marshal(op.Details)
			if err != nil {
				return fmt.Errorf("marshal details: %w", err)
			}
		}

		_, err := l.db.Exec(ctx, `
			INSERT INTO memory_operations (id, session_id, op_type, layer, name, occurred_at, duration_ms, details)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			op.ID, sessionID, string(op.Type), string(op.Layer), op.Name,
			op.Timestamp, op.Duration.Milliseconds(), details,
		)
		if err != nil {
			return fmt.Errorf("record operation: %w", err)
		}
	}
	return nil
}

// RecentOperations returns the newest operations for a session, most recent
// first. A sessionID of "" returns operations across all sessions.
func (l *Ledger) RecentOperations(ctx context.Context, sessionID string, limit int) ([]memory.Operation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, op_type, layer, name, occurred_at, duration_ms, details
		FROM memory_operations`
	args := []any{limit}
	if sessionID != "" {
		query += ` WHERE session_id = $2`
		args = append(args, sessionID)
	}
	query += ` ORDER BY occurred_at DESC LIMIT $1`

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent operations: %w", err)
	}
	defer rows.Close()

	var ops []memory.Operation
	for rows.Next() {
		var (
			op         memory.Operation
			opType     string
			layer      string
			durationMS int64
			details    []byte
		)
		if err := rows.Scan(&op.ID, &opType, &layer, &op.Name, &op.Timestamp, &durationMS, &details); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Type = memory.OperationType(opType)
		op.Layer = memory.Layer(layer)
		op.Duration = time.Duration(durationMS) * time.Millisecond
		if len(details) > 0 {
			json.Unmarshal(details, &op.Details)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// CountBySessionLayer reports how many operations each layer performed for
// a session.
func (l *Ledger) CountBySessionLayer(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := l.db.Query(ctx, `
		SELECT layer, count(*)
		FROM memory_operations
		WHERE session_id = $1
		GROUP BY layer`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count operations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var layer string
		var n int
		if err := rows.Scan(&layer, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[layer] = n
	}
	return counts, rows.Err()
}

// Close shuts down the connection pool.
func (l *Ledger) Close() {
	l.db.Close()
}
