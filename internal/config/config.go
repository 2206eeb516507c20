package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/mnemosyne/internal/memory"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Embedding EmbeddingConfig `json:"embedding"`
	Memory    MemoryConfig    `json:"memory"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// MemoryConfig overrides tier defaults. Zero values keep the default.
type MemoryConfig struct {
	L1MaxTurns                int     `json:"l1_max_turns"`
	L1MaxTokens               int     `json:"l1_max_tokens"`
	L2SignificanceThreshold   float64 `json:"l2_significance_threshold"`
	L2EmotionalDeltaThreshold float64 `json:"l2_emotional_delta_threshold"`
	L3ArchivalThreshold       float64 `json:"l3_archival_threshold"`
	L3MaxFragments            int     `json:"l3_max_fragments"`
	FactDemotionFloor         float64 `json:"fact_demotion_floor"`
	FragmentPruneFloor        float64 `json:"fragment_prune_floor"`
	ContextTokenBudget        int     `json:"context_token_budget"`
	LayerTimeoutMS            int     `json:"layer_timeout_ms"`

	WeightL1 float64 `json:"weight_l1"`
	WeightL2 float64 `json:"weight_l2"`
	WeightL3 float64 `json:"weight_l3"`
}

// Tiers merges the overrides onto memory.DefaultConfig.
func (m MemoryConfig) Tiers(vectorDimension int) memory.Config {
	cfg := memory.DefaultConfig()
	if m.L1MaxTurns > 0 {
		cfg.L1MaxTurns = m.L1MaxTurns
	}
	if m.L1MaxTokens > 0 {
		cfg.L1MaxTokens = m.L1MaxTokens
	}
	if m.L2SignificanceThreshold > 0 {
		cfg.L2SignificanceThreshold = m.L2SignificanceThreshold
	}
	if m.L2EmotionalDeltaThreshold > 0 {
		cfg.L2EmotionalDeltaThreshold = m.L2EmotionalDeltaThreshold
	}
	if m.L3ArchivalThreshold > 0 {
		cfg.L3ArchivalThreshold = m.L3ArchivalThreshold
	}
	if m.L3MaxFragments > 0 {
		cfg.L3MaxFragments = m.L3MaxFragments
	}
	if m.FactDemotionFloor > 0 {
		cfg.FactDemotionFloor = m.FactDemotionFloor
	}
	if m.FragmentPruneFloor > 0 {
		cfg.FragmentPruneFloor = m.FragmentPruneFloor
	}
	if m.ContextTokenBudget > 0 {
		cfg.ContextTokenBudget = m.ContextTokenBudget
	}
	if m.LayerTimeoutMS > 0 {
		cfg.LayerTimeout = time.Duration(m.LayerTimeoutMS) * time.Millisecond
	}
	if vectorDimension > 0 {
		cfg.L3VectorDimension = vectorDimension
	}
	weights := memory.FusionWeights{L1: m.WeightL1, L2: m.WeightL2, L3: m.WeightL3}
	if !weights.IsZero() {
		cfg.DefaultWeights = weights
	}
	return cfg
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
