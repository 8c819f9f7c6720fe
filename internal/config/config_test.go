package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadIncludesPipelineDefaults(t *testing.T) {
	t.Setenv("RETRIEVAL_TIMEOUT", "")
	t.Setenv("PLAN_AUDIT_MODE", "")
	t.Setenv("GENERATION_PROVIDER", "")
	t.Setenv("API_RATE_LIMIT_RPS", "")

	cfg := Load()
	if cfg.RetrievalTimeout != 8*time.Second {
		t.Fatalf("expected default retrieval timeout 8s, got %s", cfg.RetrievalTimeout)
	}
	if cfg.PlanAuditMode != "nats" {
		t.Fatalf("expected default plan audit mode nats, got %q", cfg.PlanAuditMode)
	}
	if cfg.GenerationProvider != "ollama" {
		t.Fatalf("expected default generation provider ollama, got %q", cfg.GenerationProvider)
	}
	if cfg.APIRateLimitRPS != 20 {
		t.Fatalf("expected default rate limit 20, got %v", cfg.APIRateLimitRPS)
	}
}

func TestLoadParsesOverridesAndIgnoresGarbage(t *testing.T) {
	t.Setenv("RETRIEVAL_TIMEOUT", "3s")
	t.Setenv("API_MAX_IN_FLIGHT", "not-a-number")
	t.Setenv("RERANK_ENABLED", "false")

	cfg := Load()
	if cfg.RetrievalTimeout != 3*time.Second {
		t.Fatalf("expected retrieval timeout override, got %s", cfg.RetrievalTimeout)
	}
	if cfg.APIMaxInFlight != 32 {
		t.Fatalf("expected fallback max in flight 32, got %d", cfg.APIMaxInFlight)
	}
	if cfg.RerankEnabled {
		t.Fatalf("expected rerank disabled")
	}
	if cfg.RerankProvider != "crossencoder" {
		t.Fatalf("expected cross-encoder provider by default, got %q", cfg.RerankProvider)
	}
}

func TestLoadRoutingTableDefault(t *testing.T) {
	table, err := LoadRoutingTable("")
	if err != nil {
		t.Fatalf("load default routing table: %v", err)
	}
	if len(table.Verticals) != 6 {
		t.Fatalf("expected 6 verticals, got %d", len(table.Verticals))
	}
	if table.Routing.MinScore != 0.25 {
		t.Fatalf("expected min score 0.25, got %v", table.Routing.MinScore)
	}
	if table.Defaults.Jurisdiction != "Andhra Pradesh" {
		t.Fatalf("unexpected default jurisdiction %q", table.Defaults.Jurisdiction)
	}
	if got := table.Anchors["go_numbers"]; got != "gos" {
		t.Fatalf("expected go_numbers anchored to gos, got %q", got)
	}
	if len(table.Analysis.GOPatterns) == 0 {
		t.Fatalf("expected go patterns")
	}
}

func TestLoadRoutingTableExpandsEnv(t *testing.T) {
	t.Setenv("ROUTING_MAX_VERTICALS", "2")
	t.Setenv("DEFAULT_JURISDICTION", "Telangana")

	table, err := LoadRoutingTable("")
	if err != nil {
		t.Fatalf("load routing table: %v", err)
	}
	if table.Routing.MaxVerticals != 2 {
		t.Fatalf("expected max verticals 2, got %d", table.Routing.MaxVerticals)
	}
	if table.Defaults.Jurisdiction != "Telangana" {
		t.Fatalf("expected jurisdiction override, got %q", table.Defaults.Jurisdiction)
	}
}

func TestLoadRoutingTableFromFileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	body := "verticals:\n  - name: legal\n    collection: statutes\n    base_weight: 0.3\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	table, err := LoadRoutingTable(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Ranking.FinalK != 12 || table.Routing.MaxVerticals != 3 {
		t.Fatalf("expected defaults, got final_k=%d max=%d", table.Ranking.FinalK, table.Routing.MaxVerticals)
	}
	if table.Synthesis.Weights.Hedge != 0.1 {
		t.Fatalf("expected default confidence weights, got %+v", table.Synthesis.Weights)
	}
}

func TestParseRoutingTableRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no verticals":  "routing:\n  min_score: 0.2\n",
		"duplicate":     "verticals:\n  - {name: a, collection: x}\n  - {name: a, collection: y}\n",
		"no collection": "verticals:\n  - {name: a}\n",
		"bad min score": "routing:\n  min_score: 2\nverticals:\n  - {name: a, collection: x}\n",
		"bad yaml":      "verticals: [",
	}
	for name, body := range cases {
		if _, err := ParseRoutingTable([]byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
