package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainlabs1/sentinel/internal/config"
	"github.com/onchainlabs1/sentinel/internal/models"
)

// IntegritySource runs scalar SQL probes against a Postgres database and
// raises a signal for every probe whose result breaches its threshold. Each
// query must return a single numeric value.
type IntegritySource struct {
	pool   *pgxpool.Pool
	probes []config.ProbeConfig
}

// NewIntegritySource connects to the probe database and verifies reachability.
func NewIntegritySource(ctx context.Context, dsn string, probes []config.ProbeConfig) (*IntegritySource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect probe database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping probe database: %w", err)
	}
	return &IntegritySource{pool: pool, probes: probes}, nil
}

// Name implements Source.
func (s *IntegritySource) Name() string { return "integrity-checker" }

// Check implements Source.
func (s *IntegritySource) Check(ctx context.Context) ([]models.Signal, error) {
	var signals []models.Signal
	now := time.Now().UTC()
	for _, probe := range s.probes {
		var value float64
		if err := s.pool.QueryRow(ctx, probe.Query).Scan(&value); err != nil {
			return signals, fmt.Errorf("probe %s: %w", probe.Name, err)
		}
		if !breached(probe.Op, value, probe.Threshold) {
			continue
		}
		signals = append(signals, models.Signal{
			Description: fmt.Sprintf("integrity probe %s: value %.2f %s threshold %.2f", probe.Name, value, probe.Op, probe.Threshold),
			Source:      s.Name(),
			Metrics:     map[string]float64{probe.Name: value},
			OccurredAt:  now,
		})
	}
	return signals, nil
}

// Close releases the probe connection pool.
func (s *IntegritySource) Close() {
	s.pool.Close()
}

func breached(op string, value, threshold float64) bool {
	switch op {
	case "gt":
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
