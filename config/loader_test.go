package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retrieval.SemanticWeight != 0.7 || cfg.Retrieval.KeywordWeight != 0.3 {
		t.Fatalf("unexpected default weights: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.CacheTTL != 5*time.Minute || cfg.Retrieval.CacheCapacity != 100 {
		t.Fatalf("unexpected default cache settings: %+v", cfg.Retrieval)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("unexpected default driver %s", cfg.Database.Driver)
	}
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
retrieval:
  semantic_weight: 0.9
  keyword_weight: 0.1
rag:
  max_documents: 8
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retrieval.SemanticWeight != 0.9 {
		t.Fatalf("yaml override lost: %v", cfg.Retrieval.SemanticWeight)
	}
	if cfg.RAG.MaxDocuments != 8 {
		t.Fatalf("yaml override lost: %v", cfg.RAG.MaxDocuments)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("yaml override lost: %v", cfg.Log.Level)
	}
	// 未覆盖的字段保持默认
	if cfg.RAG.MaxContextLength != 8000 {
		t.Fatalf("default lost: %v", cfg.RAG.MaxContextLength)
	}
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	t.Setenv("KF_TEST_RETRIEVAL_MAX_RESULTS", "25")
	t.Setenv("KF_TEST_REDIS_ENABLED", "true")
	t.Setenv("KF_TEST_RETRIEVAL_SUB_QUERY_TIMEOUT", "3s")

	cfg, err := NewLoader().WithEnvPrefix("KF_TEST").Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retrieval.MaxResults != 25 {
		t.Fatalf("env int override lost: %v", cfg.Retrieval.MaxResults)
	}
	if !cfg.Redis.Enabled {
		t.Fatal("env bool override lost")
	}
	if cfg.Retrieval.SubQueryTimeout != 3*time.Second {
		t.Fatalf("env duration override lost: %v", cfg.Retrieval.SubQueryTimeout)
	}
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected defaults, got %v", cfg.Log.Level)
	}
}

func TestLoader_ValidatorRejects(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Retrieval.SemanticWeight+c.Retrieval.KeywordWeight > 1.0001 {
				return os.ErrInvalid
			}
			return nil
		}).
		Load()
	if err != nil {
		t.Fatalf("default weights should validate: %v", err)
	}

	t.Setenv("KF_VAL_RETRIEVAL_SEMANTIC_WEIGHT", "0.9")
	_, err = NewLoader().
		WithEnvPrefix("KF_VAL").
		WithValidator(func(c *Config) error {
			if c.Retrieval.SemanticWeight+c.Retrieval.KeywordWeight > 1.0001 {
				return os.ErrInvalid
			}
			return nil
		}).
		Load()
	if err == nil {
		t.Fatal("expected validation failure for weights > 1")
	}
}

func TestBuildLogger(t *testing.T) {
	logger, err := BuildLogger(LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}})
	if err != nil {
		t.Fatalf("BuildLogger: %v", err)
	}
	logger.Debug("logger built")

	if _, err := BuildLogger(LogConfig{Level: "nope"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
