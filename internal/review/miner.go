package review

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/onchainlabs1/sentinel/internal/models"
	"github.com/onchainlabs1/sentinel/internal/store"
)

// Pattern is a recurring incident shape mined from history: the same incident
// type surfacing from the same source.
type Pattern struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Source         string    `json:"source"`
	Count          int       `json:"count"`
	Prevalence     float64   `json:"prevalence"`
	LastSeen       time.Time `json:"last_seen"`
	TopSeverity    string    `json:"top_severity"`
	Recommendation string    `json:"recommendation"`
}

// History abstracts the incident backlog the miner reads from.
type History interface {
	List(ctx context.Context, f store.Filter) ([]models.Incident, error)
}

// Miner mines frequency-based patterns from recorded incidents.
type Miner struct {
	history History
	logger  *slog.Logger
}

// NewMiner constructs a Miner over the incident store.
func NewMiner(logger *slog.Logger, history History) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{history: history, logger: logger}
}

// Mine aggregates the most recent incidents into type/source hotspots, most
// prevalent first.
func (m *Miner) Mine(ctx context.Context) ([]Pattern, error) {
	incidents, err := m.history.List(ctx, store.Filter{Limit: 500})
	if err != nil {
		return nil, fmt.Errorf("load incident history: %w", err)
	}
	return minePatterns(incidents), nil
}

// Recommend returns improvement recommendations for one incident, informed by
// how often its shape has recurred. Mining failures degrade to the static
// recommendations rather than blocking documentation.
func (m *Miner) Recommend(ctx context.Context, inc models.Incident) []string {
	recs := baseRecommendations(inc)

	patterns, err := m.Mine(ctx)
	if err != nil {
		m.logger.Warn("pattern mining failed", slog.Any("error", err))
		return recs
	}
	for _, p := range patterns {
		if p.Type == inc.Type && p.Source == inc.Source && p.Count > 1 {
			recs = append(recs, p.Recommendation)
			break
		}
	}
	return recs
}

func minePatterns(incidents []models.Incident) []Pattern {
	if len(incidents) == 0 {
		return nil
	}

	type aggregate struct {
		count    int
		lastSeen time.Time
		severity models.Severity
	}
	stats := make(map[[2]string]*aggregate)
	for _, inc := range incidents {
		key := [2]string{inc.Type, inc.Source}
		agg, ok := stats[key]
		if !ok {
			agg = &aggregate{severity: inc.Severity}
			stats[key] = agg
		}
		agg.count++
		if inc.DetectedAt.After(agg.lastSeen) {
			agg.lastSeen = inc.DetectedAt
		}
		if severityRank(inc.Severity) > severityRank(agg.severity) {
			agg.severity = inc.Severity
		}
	}

	patterns := make([]Pattern, 0, len(stats))
	for key, agg := range stats {
		patterns = append(patterns, Pattern{
			ID:          "pattern-" + key[0] + "-" + key[1],
			Type:        key[0],
			Source:      key[1],
			Count:       agg.count,
			Prevalence:  float64(agg.count) / float64(len(incidents)),
			LastSeen:    agg.lastSeen,
			TopSeverity: string(agg.severity),
			Recommendation: fmt.Sprintf(
				"%s has recurred %d times from %s; address the underlying cause rather than re-triaging each occurrence",
				key[0], agg.count, key[1]),
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Prevalence != patterns[j].Prevalence {
			return patterns[i].Prevalence > patterns[j].Prevalence
		}
		return patterns[i].ID < patterns[j].ID
	})
	return patterns
}

func baseRecommendations(inc models.Incident) []string {
	recs := []string{
		fmt.Sprintf("add regression coverage for %s signals from %s", inc.Category, inc.Source),
	}
	switch inc.Category {
	case models.CategorySecurity:
		recs = append(recs, "review input sanitisation and access controls on the affected surface")
	case models.CategoryPerformance:
		recs = append(recs, "tighten alert thresholds so degradation is caught before users notice")
	case models.CategoryDataQuality:
		recs = append(recs, "add validation at the data ingestion boundary")
	case models.CategoryCompliance:
		recs = append(recs, "schedule a policy review with the compliance owner")
	}
	return recs
}

func severityRank(sev models.Severity) int {
	switch sev {
	case models.SeverityCritical:
		return 4
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	default:
		return 0
	}
}
