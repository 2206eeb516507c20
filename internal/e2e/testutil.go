package e2e

import (
	"context"
	"fmt"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemosyne/internal/archive"
	"github.com/nidhogg/mnemosyne/internal/controller"
	"github.com/nidhogg/mnemosyne/internal/detector"
	"github.com/nidhogg/mnemosyne/internal/embedding"
	"github.com/nidhogg/mnemosyne/internal/episodic"
	"github.com/nidhogg/mnemosyne/internal/ledger"
	"github.com/nidhogg/mnemosyne/internal/memory"
	"github.com/nidhogg/mnemosyne/internal/notify"
	"github.com/nidhogg/mnemosyne/internal/working"
)

// Package-level shared state set by TestMain, used by all subtests.
var (
	testLogger   *zap.Logger
	testGraph    *episodic.Store
	testLedger   *ledger.Ledger
	testNotifier *notify.Notifier
)

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("mnemosyne_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// testTiers lowers the promotion thresholds so the rule detector reliably
// pushes conversational turns into L2 and L3.
func testTiers() memory.Config {
	cfg := memory.DefaultConfig()
	cfg.L2SignificanceThreshold = 2.0
	cfg.L3ArchivalThreshold = 3.0
	cfg.L3VectorDimension = 64
	return cfg
}

// newController wires a full controller against the live containers.
func newController(tiers memory.Config) *controller.Controller {
	buffer := working.NewBuffer(tiers.L1MaxTurns, tiers.L1MaxTokens, testLogger)
	fragments := archive.New(archive.NewFlatIndex(), archive.Policy{
		MaxFragments:    tiers.L3MaxFragments,
		VectorDimension: tiers.L3VectorDimension,
		DecayRate:       tiers.ImportanceDecayRate,
		AccessBoost:     tiers.AccessBoostFactor,
		RecencyBoost:    tiers.RecencyBoostFactor,
	}, testLogger)
	det := detector.NewSafe(detector.NewRuleDetector(), testLogger)
	embedder := embedding.NewHashProvider(tiers.L3VectorDimension)

	return controller.New(tiers, buffer, testGraph, fragments, det, embedder, testLedger, testNotifier, testLogger)
}
