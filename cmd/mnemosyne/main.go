package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemosyne/internal/api"
	"github.com/nidhogg/mnemosyne/internal/archive"
	"github.com/nidhogg/mnemosyne/internal/config"
	"github.com/nidhogg/mnemosyne/internal/controller"
	"github.com/nidhogg/mnemosyne/internal/detector"
	"github.com/nidhogg/mnemosyne/internal/embedding"
	"github.com/nidhogg/mnemosyne/internal/episodic"
	"github.com/nidhogg/mnemosyne/internal/ledger"
	"github.com/nidhogg/mnemosyne/internal/notify"
	"github.com/nidhogg/mnemosyne/internal/vectorstore"
	"github.com/nidhogg/mnemosyne/internal/working"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Mnemosyne...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mnemosyne.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Embedding provider
	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	}, logger)
	if err != nil {
		logger.Fatal("embedding provider", zap.Error(err))
	}

	tiers := cfg.Memory.Tiers(embedder.Dimension())

	// Episodic graph is the durable core, refuse to start without it.
	graph, err := episodic.NewStore(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
	if err != nil {
		logger.Fatal("neo4j driver", zap.Error(err))
	}
	if err := graph.Ping(context.Background()); err != nil {
		logger.Fatal("neo4j unreachable", zap.Error(err))
	}
	if err := graph.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("neo4j schema", zap.Error(err))
	}

	// Vector index: Qdrant when configured, in-process otherwise.
	var index archive.Index = archive.NewFlatIndex()
	var qdrantClient *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("Qdrant unavailable, using in-process index", zap.Error(qErr))
		} else {
			collection := cfg.Database.Qdrant.Collection
			if collection == "" {
				collection = "mnemosyne_fragments"
			}
			if cErr := qc.EnsureCollection(context.Background(), collection, uint64(tiers.L3VectorDimension)); cErr != nil {
				logger.Warn("Qdrant collection, using in-process index", zap.Error(cErr))
				qc.Close()
			} else {
				qdrantClient = qc
				index = vectorstore.NewCollectionIndex(qc, collection)
				logger.Info("Qdrant connected", zap.String("collection", collection))
			}
		}
	}

	fragments := archive.New(index, archive.Policy{
		MaxFragments:    tiers.L3MaxFragments,
		VectorDimension: tiers.L3VectorDimension,
		DecayRate:       tiers.ImportanceDecayRate,
		AccessBoost:     tiers.AccessBoostFactor,
		RecencyBoost:    tiers.RecencyBoostFactor,
	}, logger)

	// Audit ledger
	var audit controller.AuditLedger
	var pgLedger *ledger.Ledger
	if cfg.Database.Postgres.DSN != "" {
		pl, pgErr := ledger.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without audit trail", zap.Error(pgErr))
		} else {
			if mErr := pl.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgLedger = pl
			audit = pl
		}
	}

	// Ingest notifications
	var publisher controller.IngestPublisher
	var notifier *notify.Notifier
	if cfg.Database.Redis.URL != "" {
		n, nErr := notify.New(cfg.Database.Redis.URL, logger)
		if nErr != nil {
			logger.Warn("Redis unavailable, running without notifications", zap.Error(nErr))
		} else {
			notifier = n
			publisher = n
		}
	}

	buffer := working.NewBuffer(tiers.L1MaxTurns, tiers.L1MaxTokens, logger)
	det := detector.NewSafe(detector.NewRuleDetector(), logger)

	ctrl := controller.New(tiers, buffer, graph, fragments, det, embedder, audit, publisher, logger)

	// Build HTTP handler
	handler := api.NewHandler(ctrl, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Mnemosyne listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Mnemosyne...")
	ctx := context.Background()
	srv.Shutdown(ctx)
	graph.Close(ctx)
	if qdrantClient != nil {
		qdrantClient.Close()
	}
	if pgLedger != nil {
		pgLedger.Close()
	}
	if notifier != nil {
		notifier.Close()
	}
}
