package classify

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/google/uuid"

	"github.com/onchainlabs1/sentinel/internal/models"
)

// ErrValidation rejects malformed signals before classification.
var ErrValidation = errors.New("invalid signal")

// Classifier turns raw signals into classified incidents using an ordered
// rule set. Classification is idempotent with respect to its input: the same
// signal always yields the same severity, category, and type.
type Classifier struct {
	mu     sync.RWMutex
	rules  []Rule
	logger *slog.Logger
}

// New builds a Classifier evaluating packRules ahead of the built-in defaults.
func New(logger *slog.Logger, packRules []Rule) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		rules:  mergeRules(packRules),
		logger: logger,
	}
}

// ReloadPack swaps in a new rule pack, keeping the built-in defaults behind it.
func (c *Classifier) ReloadPack(packRules []Rule) {
	merged := mergeRules(packRules)
	c.mu.Lock()
	c.rules = merged
	c.mu.Unlock()
	c.logger.Info("rule pack reloaded", slog.Int("rules", len(merged)))
}

// Classify validates a signal and produces one incident per matching rule.
// The first matching keyword rule wins; each matching metric rule raises its
// own incident. When nothing matches, a single degraded medium/general
// incident is produced so no signal is silently dropped.
func (c *Classifier) Classify(sig models.Signal) ([]models.Incident, error) {
	if strings.TrimSpace(sig.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}
	if strings.TrimSpace(sig.Source) == "" {
		return nil, fmt.Errorf("%w: source is required", ErrValidation)
	}

	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	now := time.Now().UTC()
	detected := sig.OccurredAt
	if detected.IsZero() {
		detected = now
	}

	description := strings.ToLower(sig.Description)
	incidents := make([]models.Incident, 0, 1)

	keywordMatched := false
	seenMetrics := make(map[string]struct{})
	for _, rule := range rules {
		if len(rule.Keywords) > 0 && !keywordMatched {
			if kw := matchKeyword(rule.Keywords, description); kw != "" {
				keywordMatched = true
				inc := newIncident(rule, sig, detected, now)
				inc.Description = sig.Description
				incidents = append(incidents, inc)
				c.logger.Debug("keyword rule matched",
					slog.String("rule", rule.ID), slog.String("keyword", kw))
			}
			continue
		}
		if rule.Metric == "" {
			continue
		}
		if _, done := seenMetrics[rule.Metric]; done {
			continue
		}
		value, ok := sig.Metrics[rule.Metric]
		if !ok {
			continue
		}
		if !compare(rule.Op, value, rule.Threshold) {
			continue
		}
		seenMetrics[rule.Metric] = struct{}{}
		inc := newIncident(rule, sig, detected, now)
		inc.Description = fmt.Sprintf("%s (%s %.2f breaches %.2f)",
			sig.Description, rule.Metric, value, rule.Threshold)
		incidents = append(incidents, inc)
		c.logger.Debug("metric rule matched",
			slog.String("rule", rule.ID),
			slog.String("metric", rule.Metric),
			slog.Float64("value", value))
	}

	if len(incidents) == 0 {
		inc := newIncident(Rule{
			Type:     "general",
			Category: models.CategoryGeneral,
			Severity: models.SeverityMedium,
		}, sig, detected, now)
		inc.Description = sig.Description
		inc.Degraded = true
		incidents = append(incidents, inc)
		c.logger.Debug("no rule matched, degraded default applied",
			slog.String("source", sig.Source))
	}

	return incidents, nil
}

func newIncident(rule Rule, sig models.Signal, detected, classified time.Time) models.Incident {
	metrics := make(map[string]float64, len(sig.Metrics))
	for k, v := range sig.Metrics {
		metrics[k] = v
	}
	incType := rule.Type
	if incType == "" {
		incType = rule.ID
	}
	return models.Incident{
		ID:           uuid.NewString(),
		Type:         incType,
		Category:     rule.Category,
		Severity:     rule.Severity,
		Source:       sig.Source,
		Metrics:      metrics,
		DetectedAt:   detected,
		ClassifiedAt: classified,
		Status:       models.StatusNew,
		Tier:         1,
	}
}

func mergeRules(packRules []Rule) []Rule {
	merged := make([]Rule, 0, len(packRules)+8)
	merged = append(merged, packRules...)
	merged = append(merged, defaultRules()...)
	return merged
}

func matchKeyword(keywords []string, description string) string {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		pattern := strings.ToLower(kw)
		if strings.ContainsAny(pattern, "*?") {
			// Keyword patterns match anywhere in the description, same as
			// the plain-substring case.
			if wildcard.Match("*"+pattern+"*", description) {
				return kw
			}
			continue
		}
		if strings.Contains(description, pattern) {
			return kw
		}
	}
	return ""
}

func compare(op string, value, threshold float64) bool {
	switch op {
	case "gt", "":
		return value > threshold
	case "ge":
		return value >= threshold
	case "lt":
		return value < threshold
	case "le":
		return value <= threshold
	default:
		return false
	}
}
