package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onchainlabs1/sentinel/internal/cache"
	"github.com/onchainlabs1/sentinel/internal/models"
)

// Suppressor drops repeat incidents of the same category and source inside a
// time window, so a flapping signal cannot raise an incident storm. A zero
// window disables suppression entirely.
type Suppressor struct {
	provider cache.Provider
	window   time.Duration
	logger   *slog.Logger
}

// New constructs a Suppressor over the given cache provider.
func New(provider cache.Provider, window time.Duration, logger *slog.Logger) *Suppressor {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Suppressor{provider: provider, window: window, logger: logger}
}

// Admit reports whether the incident should proceed. The first incident for a
// category/source pair claims the window; later ones inside it are suppressed.
// Cache failures admit the incident: losing dedup is better than losing data.
func (s *Suppressor) Admit(ctx context.Context, inc models.Incident) bool {
	if s.window <= 0 {
		return true
	}

	key := fmt.Sprintf("dedup:%s:%s", inc.Category, inc.Source)
	won, err := s.provider.SetNX(ctx, key, []byte(inc.ID), s.window)
	if err != nil {
		s.logger.Warn("dedup cache unavailable, admitting signal", slog.Any("error", err))
		return true
	}
	if !won {
		s.logger.Debug("duplicate signal suppressed",
			slog.String("category", string(inc.Category)),
			slog.String("source", inc.Source))
	}
	return won
}
