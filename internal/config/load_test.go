package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NEWSGRAPH_CONFIG_PATH", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processing.ConfidenceThreshold != 0.7 {
		t.Fatalf("threshold: want=%v got=%v", 0.7, cfg.Processing.ConfidenceThreshold)
	}
	if cfg.Processing.MaxEntities != 100 {
		t.Fatalf("max entities: want=%d got=%d", 100, cfg.Processing.MaxEntities)
	}
	if cfg.LLM.MaxContentChars != 3000 {
		t.Fatalf("max content chars: want=%d got=%d", 3000, cfg.LLM.MaxContentChars)
	}
	if cfg.Neo4j.AcquisitionTimeout.Duration != 120*time.Second {
		t.Fatalf("acquisition timeout: want=%s got=%s", 120*time.Second, cfg.Neo4j.AcquisitionTimeout.Duration)
	}
	nc := cfg.Neo4jClientConfig()
	if nc.ConnectRetry.MaxRetries != 5 || nc.VerifyRetry.MaxRetries != 3 {
		t.Fatalf("retry policies not mapped: %+v %+v", nc.ConnectRetry, nc.VerifyRetry)
	}
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
environment: development
neo4j:
  uri: neo4j+s://abc.databases.neo4j.io
  probe_timeout: 3
  connect_retry:
    max_retries: 2
    initial_delay: 500ms
    max_delay: 4s
    base: 3
processing:
  confidence_threshold: 0.8
  alias_merge: union
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NEWSGRAPH_CONFIG_PATH", path)
	t.Setenv("ENTITY_CONFIDENCE_THRESHOLD", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Neo4j.URI != "neo4j+s://abc.databases.neo4j.io" {
		t.Fatalf("uri: got=%q", cfg.Neo4j.URI)
	}
	if cfg.Neo4j.ProbeTimeout.Duration != 3*time.Second {
		t.Fatalf("probe timeout: want=%s got=%s", 3*time.Second, cfg.Neo4j.ProbeTimeout.Duration)
	}
	if cfg.Neo4j.ConnectRetry.InitialDelay.Duration != 500*time.Millisecond || cfg.Neo4j.ConnectRetry.Base != 3 {
		t.Fatalf("connect retry: got=%+v", cfg.Neo4j.ConnectRetry)
	}
	if cfg.Neo4j.VerifyRetry.MaxRetries != 3 {
		t.Fatalf("verify retry default lost: got=%d", cfg.Neo4j.VerifyRetry.MaxRetries)
	}
	if cfg.Processing.ConfidenceThreshold != 0.75 {
		t.Fatalf("env override: want=%v got=%v", 0.75, cfg.Processing.ConfidenceThreshold)
	}
	if cfg.Processing.AliasMerge != "union" {
		t.Fatalf("alias merge: want=%q got=%q", "union", cfg.Processing.AliasMerge)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]struct {
		key, val, wantSubstr string
	}{
		"scheme":    {"NEO4J_URI", "http://localhost:7474", "Neo4j.URI"},
		"threshold": {"ENTITY_CONFIDENCE_THRESHOLD", "1.5", "Processing.ConfidenceThreshold"},
		"alias":     {"ALIAS_MERGE_POLICY", "replace", "Processing.AliasMerge"},
		"pool":      {"NEO4J_MAX_POOL_SIZE", "0", "Neo4j.MaxPoolSize"},
		"driver":    {"DB_DRIVER", "mysql", "DB.Driver"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("NEWSGRAPH_CONFIG_PATH", "")
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load: want error for %s=%s", tc.key, tc.val)
			}
			if !strings.Contains(err.Error(), tc.wantSubstr) {
				t.Fatalf("error: want substring=%q got=%q", tc.wantSubstr, err.Error())
			}
		})
	}
}

func TestProductionRequiresAPIKey(t *testing.T) {
	t.Setenv("NEWSGRAPH_CONFIG_PATH", "")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("API_KEY", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "API_KEY") {
		t.Fatalf("Load: want API_KEY error got=%v", err)
	}

	t.Setenv("API_KEY", "k")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Mode != "production" {
		t.Fatalf("log mode: want=%q got=%q", "production", cfg.Log.Mode)
	}
	if len(cfg.HTTP.CORSOrigins) != 0 {
		t.Fatalf("cors: want none in production got=%v", cfg.HTTP.CORSOrigins)
	}
}
