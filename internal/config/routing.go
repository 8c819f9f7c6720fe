package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"gopkg.in/yaml.v3"
)

//go:embed routing.default.yaml
var defaultRoutingTable []byte

// LoadRoutingTable reads the routing table from path, or the embedded default
// when path is empty. ${VAR} and ${VAR:-default} are expanded before parsing.
func LoadRoutingTable(path string) (*domain.RoutingTable, error) {
	data := defaultRoutingTable
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read routing table %s: %w", path, err)
		}
		data = raw
	}
	return ParseRoutingTable(data)
}

func ParseRoutingTable(data []byte) (*domain.RoutingTable, error) {
	var table domain.RoutingTable
	if err := yaml.Unmarshal(expandEnvVars(data), &table); err != nil {
		return nil, fmt.Errorf("parse routing table: %w", err)
	}
	applyRoutingDefaults(&table)
	if err := validateRoutingTable(&table); err != nil {
		return nil, fmt.Errorf("invalid routing table: %w", err)
	}
	return &table, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*(?::-[^}]*)?)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, fallback, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = fallback
		}
		return []byte(val)
	})
}

func applyRoutingDefaults(t *domain.RoutingTable) {
	if t.Defaults.Jurisdiction == "" {
		t.Defaults.Jurisdiction = "Andhra Pradesh"
	}
	if t.Routing.MaxVerticals <= 0 {
		t.Routing.MaxVerticals = 3
	}
	if t.Routing.EntityStep <= 0 {
		t.Routing.EntityStep = 0.2
	}
	if t.Routing.EntityCap <= 0 {
		t.Routing.EntityCap = 0.5
	}
	if t.Ranking.TopKPerVertical <= 0 {
		t.Ranking.TopKPerVertical = 20
	}
	if t.Ranking.RerankTopN <= 0 {
		t.Ranking.RerankTopN = 20
	}
	if t.Ranking.FinalK <= 0 {
		t.Ranking.FinalK = 12
	}
	if t.Ranking.SnippetChars <= 0 {
		t.Ranking.SnippetChars = 200
	}
	if t.Synthesis.MaxTokens <= 0 {
		t.Synthesis.MaxTokens = 2048
	}
	if t.Synthesis.DensityDivisor <= 0 {
		t.Synthesis.DensityDivisor = 3
	}
	if t.Synthesis.CoverageTopN <= 0 {
		t.Synthesis.CoverageTopN = 5
	}
	if t.Synthesis.MaxQuotes <= 0 {
		t.Synthesis.MaxQuotes = 5
	}
	if t.Synthesis.InsufficientReply == "" {
		t.Synthesis.InsufficientReply = "I couldn't find relevant information to answer your question."
	}
	w := t.Synthesis.Weights
	if w.Density == 0 && w.Score == 0 && w.Coverage == 0 && w.Hedge == 0 {
		t.Synthesis.Weights = domain.ConfidenceWeights{Density: 0.3, Score: 0.3, Coverage: 0.3, Hedge: 0.1}
	}
}

func validateRoutingTable(t *domain.RoutingTable) error {
	if len(t.Verticals) == 0 {
		return fmt.Errorf("no verticals configured")
	}
	seen := make(map[string]struct{}, len(t.Verticals))
	for _, v := range t.Verticals {
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("vertical without name")
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("duplicate vertical %q", v.Name)
		}
		seen[v.Name] = struct{}{}
		if strings.TrimSpace(v.Collection) == "" {
			return fmt.Errorf("vertical %q has no collection", v.Name)
		}
	}
	if t.Routing.MinScore < 0 || t.Routing.MinScore > 1 {
		return fmt.Errorf("min_score must be within [0,1], got %v", t.Routing.MinScore)
	}
	return nil
}
