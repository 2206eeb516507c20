package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("MNEMO_NEO4J_URI", "bolt://graph:7687")

	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"server": {"port": 8080, "log_level": "${MNEMO_LOG_LEVEL:info}"},
		"database": {
			"neo4j": {"uri": "${MNEMO_NEO4J_URI}", "user": "neo4j", "password": "${MNEMO_NEO4J_PASS:secret}"}
		}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Neo4j.URI != "bolt://graph:7687" {
		t.Errorf("uri = %q", cfg.Database.Neo4j.URI)
	}
	if cfg.Database.Neo4j.Password != "secret" {
		t.Errorf("default not applied: %q", cfg.Database.Neo4j.Password)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
}

func TestMemoryConfigTiers(t *testing.T) {
	m := MemoryConfig{
		L1MaxTurns:         5,
		LayerTimeoutMS:     250,
		FactDemotionFloor:  0.5,
		FragmentPruneFloor: 2.5,
		WeightL1:           0.6,
		WeightL2:           0.2,
		WeightL3:           0.2,
	}
	cfg := m.Tiers(128)

	if cfg.L1MaxTurns != 5 {
		t.Errorf("l1_max_turns = %d", cfg.L1MaxTurns)
	}
	if cfg.LayerTimeout != 250*time.Millisecond {
		t.Errorf("layer_timeout = %v", cfg.LayerTimeout)
	}
	if cfg.L3VectorDimension != 128 {
		t.Errorf("dimension = %d", cfg.L3VectorDimension)
	}
	if cfg.FactDemotionFloor != 0.5 || cfg.FragmentPruneFloor != 2.5 {
		t.Errorf("floors = %v / %v, want 0.5 / 2.5", cfg.FactDemotionFloor, cfg.FragmentPruneFloor)
	}
	if cfg.DefaultWeights.L1 != 0.6 {
		t.Errorf("weights = %+v", cfg.DefaultWeights)
	}
	if err := cfg.DefaultWeights.Validate(); err != nil {
		t.Errorf("merged weights invalid: %v", err)
	}

	// zero overrides keep defaults
	base := MemoryConfig{}.Tiers(0)
	if base.L1MaxTurns != 20 || base.ContextTokenBudget != 2000 {
		t.Errorf("defaults not preserved: %+v", base)
	}
}
