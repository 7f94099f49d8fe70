// Package escalate runs the severity-driven escalation state machine as a
// background checker over the live incident registry.
package escalate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onchainlabs1/sentinel/internal/config"
	"github.com/onchainlabs1/sentinel/internal/metrics"
	"github.com/onchainlabs1/sentinel/internal/models"
	"github.com/onchainlabs1/sentinel/internal/notify"
	"github.com/onchainlabs1/sentinel/internal/registry"
	"github.com/onchainlabs1/sentinel/internal/stream"
)

const maxTier = 4

// IncidentStore persists incidents after tier transitions.
type IncidentStore interface {
	Save(ctx context.Context, inc models.Incident) error
}

// Notifier delivers escalation notices.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) (notify.Result, error)
}

// Checker inspects active incidents on a fixed interval and advances them
// through the four response tiers. Tiers only ever increase, one at a time.
type Checker struct {
	logger   *slog.Logger
	registry *registry.Registry
	store    IncidentStore
	notifier Notifier
	hub      *stream.Hub
	tiers    []config.TierConfig
	interval time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewChecker wires the escalation checker. store, notifier, and hub may be nil.
func NewChecker(
	logger *slog.Logger,
	reg *registry.Registry,
	store IncidentStore,
	notifier Notifier,
	hub *stream.Hub,
	cfg config.EscalationConfig,
) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Checker{
		logger:   logger,
		registry: reg,
		store:    store,
		notifier: notifier,
		hub:      hub,
		tiers:    cfg.Tiers,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep examines every active incident once. Exported so tests and manual
// triggers can drive the checker without the ticker.
func (c *Checker) Sweep(ctx context.Context) {
	for _, inc := range c.registry.Active() {
		c.check(ctx, inc)
	}
}

func (c *Checker) check(ctx context.Context, inc models.Incident) {
	tier := inc.Tier
	if tier < 1 {
		tier = 1
	}

	budget := c.tierBudget(tier, inc.Severity)
	age := c.now().Sub(tierEnteredAt(inc))

	if tier >= maxTier {
		if age > budget && !inc.ManualIntervention {
			c.flagExhausted(ctx, inc.ID)
		}
		return
	}

	var reason string
	switch {
	case c.autoEscalates(tier, inc.Severity):
		reason = fmt.Sprintf("auto-escalation from tier %d for %s severity", tier, inc.Severity)
	case age > budget:
		reason = fmt.Sprintf("tier %d response budget %s exceeded", tier, budget)
	default:
		return
	}

	c.escalate(ctx, inc.ID, tier, reason)
}

func (c *Checker) escalate(ctx context.Context, id string, fromTier int, reason string) {
	at := c.now().UTC()
	ok := c.registry.Update(id, func(stored *models.Incident) {
		// Re-check under the lock; the workflow may have resolved it.
		if stored.Tier != fromTier || !stored.Active() {
			return
		}
		stored.Tier = fromTier + 1
		stored.Escalations = append(stored.Escalations, models.EscalationRecord{
			FromTier: fromTier,
			ToTier:   fromTier + 1,
			Reason:   reason,
			At:       at,
		})
	})
	if !ok {
		return
	}

	inc, _ := c.registry.Get(id)
	if inc.Tier != fromTier+1 {
		return
	}

	metrics.ObserveEscalation(inc.Tier)
	c.logger.Info("incident escalated",
		slog.String("incident_id", id),
		slog.Int("from_tier", fromTier),
		slog.Int("to_tier", inc.Tier),
		slog.String("reason", reason))

	c.persist(ctx, inc)
	c.notify(ctx, notify.KindEscalation, inc,
		fmt.Sprintf("escalated to tier %d (%s): %s", inc.Tier, c.tierName(inc.Tier), reason))
	if c.hub != nil {
		c.hub.Broadcast(stream.EventEscalated, inc)
	}
}

// flagExhausted marks a tier-4 incident for manual handling. It is flagged
// and notified exactly once; the incident is never abandoned.
func (c *Checker) flagExhausted(ctx context.Context, id string) {
	flagged := false
	c.registry.Update(id, func(stored *models.Incident) {
		if stored.ManualIntervention || !stored.Active() {
			return
		}
		stored.ManualIntervention = true
		flagged = true
	})
	if !flagged {
		return
	}

	inc, _ := c.registry.Get(id)
	metrics.ObserveManualIntervention()
	c.logger.Warn("tier 4 budget exhausted, manual intervention required",
		slog.String("incident_id", id),
		slog.String("severity", string(inc.Severity)))

	c.persist(ctx, inc)
	c.notify(ctx, notify.KindManualIntervention, inc,
		"tier 4 response budget exhausted, manual intervention required")
}

func (c *Checker) autoEscalates(tier int, sev models.Severity) bool {
	if tier < 1 || tier > len(c.tiers) {
		return false
	}
	if !c.tiers[tier-1].AutoEscalate {
		return false
	}
	return sev == models.SeverityCritical || sev == models.SeverityHigh
}

// tierBudget returns the dwell budget for a tier. Tier 1 follows the
// severity-driven response budget unless overridden in config.
func (c *Checker) tierBudget(tier int, sev models.Severity) time.Duration {
	if tier >= 1 && tier <= len(c.tiers) {
		if budget := c.tiers[tier-1].Budget; budget > 0 {
			return budget
		}
	}
	return models.ResponseBudget(sev)
}

func (c *Checker) tierName(tier int) string {
	if tier >= 1 && tier <= len(c.tiers) {
		return c.tiers[tier-1].Name
	}
	return fmt.Sprintf("tier %d", tier)
}

func (c *Checker) persist(ctx context.Context, inc models.Incident) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, inc); err != nil {
		c.logger.Error("persist escalation failed",
			slog.String("incident_id", inc.ID), slog.Any("error", err))
	}
}

func (c *Checker) notify(ctx context.Context, kind notify.Kind, inc models.Incident, message string) {
	if c.notifier == nil {
		return
	}
	if _, err := c.notifier.Notify(ctx, notify.Notification{
		Kind:     kind,
		Incident: inc,
		Message:  message,
	}); err != nil {
		c.logger.Warn("escalation notice delivery failed",
			slog.String("incident_id", inc.ID), slog.Any("error", err))
	}
}

// tierEnteredAt returns when the incident entered its current tier.
func tierEnteredAt(inc models.Incident) time.Time {
	if n := len(inc.Escalations); n > 0 {
		return inc.Escalations[n-1].At
	}
	return inc.DetectedAt
}
