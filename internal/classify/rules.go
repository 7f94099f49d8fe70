package classify

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/onchainlabs1/sentinel/internal/models"
)

// Rule is a single classification rule. Keyword rules match the signal
// description; metric rules compare a named metric against a threshold.
type Rule struct {
	ID        string          `yaml:"id"`
	Type      string          `yaml:"type"`
	Category  models.Category `yaml:"category"`
	Severity  models.Severity `yaml:"severity"`
	Keywords  []string        `yaml:"keywords"`
	Metric    string          `yaml:"metric"`
	Op        string          `yaml:"op"`
	Threshold float64         `yaml:"threshold"`
}

// PackFile is the YAML root structure of a rule pack.
type PackFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadPack loads rules from the provided path. An empty or missing path
// yields no rules; the built-in defaults still apply.
func LoadPack(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var file PackFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Rules, nil
}

// defaultRules replicates the documented detection heuristics. Pack rules are
// evaluated ahead of these, so a pack can shadow any built-in.
func defaultRules() []Rule {
	return []Rule{
		{
			ID:       "prompt-injection",
			Type:     "prompt_injection",
			Category: models.CategorySecurity,
			Severity: models.SeverityHigh,
			Keywords: []string{
				"ignore previous instructions",
				"ignore all previous instructions",
				"bypass security",
				"disregard your instructions",
				"jailbreak",
			},
		},
		{
			ID:       "data-exposure",
			Type:     "data_exposure",
			Category: models.CategorySecurity,
			Severity: models.SeverityCritical,
			Keywords: []string{"data breach", "credentials leaked", "api key exposed"},
		},
		{
			ID:        "slow-llm-response",
			Type:      "llm_performance_degradation",
			Category:  models.CategoryPerformance,
			Severity:  models.SeverityHigh,
			Metric:    "response_time",
			Op:        "gt",
			Threshold: 10.0,
		},
		{
			ID:        "high-error-rate",
			Type:      "high_error_rate",
			Category:  models.CategoryPerformance,
			Severity:  models.SeverityCritical,
			Metric:    "error_rate",
			Op:        "gt",
			Threshold: 0.05,
		},
		{
			ID:       "data-quality",
			Type:     "data_quality_issue",
			Category: models.CategoryDataQuality,
			Severity: models.SeverityHigh,
			Keywords: []string{"schema validation failed", "corrupt record", "integrity check failed", "row count mismatch"},
		},
		{
			ID:       "compliance",
			Type:     "compliance_gap",
			Category: models.CategoryCompliance,
			Severity: models.SeverityMedium,
			Keywords: []string{"audit finding", "nonconformity", "retention policy violated", "missing approval"},
		},
	}
}
