package escalate

import (
	"context"
	"testing"
	"time"

	"github.com/onchainlabs1/sentinel/internal/config"
	"github.com/onchainlabs1/sentinel/internal/models"
	"github.com/onchainlabs1/sentinel/internal/notify"
	"github.com/onchainlabs1/sentinel/internal/registry"
)

type recordingNotifier struct {
	notices []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) (notify.Result, error) {
	r.notices = append(r.notices, n)
	return notify.Result{Delivered: 1, Attempted: 1}, nil
}

func testTiers() config.EscalationConfig {
	return config.EscalationConfig{
		Interval: time.Second,
		Tiers: []config.TierConfig{
			{Name: "technical support"},
			{Name: "senior technical", Budget: 30 * time.Minute},
			{Name: "management/security", Budget: 60 * time.Minute},
			{Name: "executive", Budget: 120 * time.Minute},
		},
	}
}

func newChecker(reg *registry.Registry, notifier Notifier, cfg config.EscalationConfig, now time.Time) *Checker {
	c := NewChecker(nil, reg, nil, notifier, nil, cfg)
	c.now = func() time.Time { return now }
	return c
}

func activeIncident(sev models.Severity, detected time.Time) models.Incident {
	return models.Incident{
		ID:         "inc-1",
		Type:       "high_error_rate",
		Category:   models.CategoryPerformance,
		Severity:   sev,
		Source:     "performance-checker",
		DetectedAt: detected,
		Status:     models.StatusNew,
		Tier:       1,
	}
}

func TestBudgetExceededEscalatesOneTier(t *testing.T) {
	now := time.Now().UTC()
	reg := registry.New()
	notifier := &recordingNotifier{}
	// Critical tier-1 budget is 15 minutes; the incident is 20 minutes old.
	reg.Put(activeIncident(models.SeverityCritical, now.Add(-20*time.Minute)))

	checker := newChecker(reg, notifier, testTiers(), now)
	checker.Sweep(context.Background())

	inc, _ := reg.Get("inc-1")
	if inc.Tier != 2 {
		t.Fatalf("expected tier 2, got %d", inc.Tier)
	}
	if len(inc.Escalations) != 1 || inc.Escalations[0].FromTier != 1 || inc.Escalations[0].ToTier != 2 {
		t.Fatalf("unexpected escalation record: %+v", inc.Escalations)
	}
	if inc.Escalations[0].Reason == "" || inc.Escalations[0].At.IsZero() {
		t.Fatalf("escalation record missing reason or timestamp")
	}
	if len(notifier.notices) != 1 || notifier.notices[0].Kind != notify.KindEscalation {
		t.Fatalf("expected one escalation notice, got %+v", notifier.notices)
	}
}

func TestTiersNeverSkipAndNeverDecrease(t *testing.T) {
	now := time.Now().UTC()
	reg := registry.New()
	reg.Put(activeIncident(models.SeverityCritical, now.Add(-24*time.Hour)))

	// Clock jumps far past every budget between sweeps; each sweep still
	// advances exactly one tier.
	checker := NewChecker(nil, reg, nil, nil, nil, testTiers())
	checker.now = func() time.Time { return now }

	lastTier := 1
	for i := 0; i < 6; i++ {
		now = now.Add(3 * time.Hour)
		checker.Sweep(context.Background())
		inc, _ := reg.Get("inc-1")
		if inc.Tier < lastTier {
			t.Fatalf("tier decreased from %d to %d", lastTier, inc.Tier)
		}
		if inc.Tier > lastTier+1 {
			t.Fatalf("tier skipped from %d to %d", lastTier, inc.Tier)
		}
		lastTier = inc.Tier
	}
	inc, _ := reg.Get("inc-1")
	if inc.Tier != 4 {
		t.Fatalf("expected tier 4 cap, got %d", inc.Tier)
	}
}

func TestLowSeverityStaysAtTierOneWithinBudget(t *testing.T) {
	now := time.Now().UTC()
	reg := registry.New()
	// Low severity carries a 240-minute tier-1 budget; at 3 hours old the
	// incident must not escalate.
	reg.Put(activeIncident(models.SeverityLow, now.Add(-3*time.Hour)))

	checker := newChecker(reg, nil, testTiers(), now)
	for i := 0; i < 5; i++ {
		checker.Sweep(context.Background())
	}

	inc, _ := reg.Get("inc-1")
	if inc.Tier != 1 {
		t.Fatalf("low severity escalated within budget: tier %d", inc.Tier)
	}
	if len(inc.Escalations) != 0 {
		t.Fatalf("unexpected escalations: %+v", inc.Escalations)
	}
}

func TestAutoEscalationAdvancesWithoutBudget(t *testing.T) {
	now := time.Now().UTC()
	cfg := testTiers()
	cfg.Tiers[0].AutoEscalate = true

	reg := registry.New()
	// Brand-new high severity incident on an auto-escalating tier.
	reg.Put(activeIncident(models.SeverityHigh, now))

	checker := newChecker(reg, nil, cfg, now)
	checker.Sweep(context.Background())

	inc, _ := reg.Get("inc-1")
	if inc.Tier != 2 {
		t.Fatalf("expected auto-escalation to tier 2, got %d", inc.Tier)
	}
}

func TestAutoEscalationIgnoresLowSeverity(t *testing.T) {
	now := time.Now().UTC()
	cfg := testTiers()
	cfg.Tiers[0].AutoEscalate = true

	reg := registry.New()
	reg.Put(activeIncident(models.SeverityMedium, now))

	checker := newChecker(reg, nil, cfg, now)
	checker.Sweep(context.Background())

	inc, _ := reg.Get("inc-1")
	if inc.Tier != 1 {
		t.Fatalf("medium severity must not auto-escalate, got tier %d", inc.Tier)
	}
}

func TestTierFourExhaustionFlagsOnce(t *testing.T) {
	now := time.Now().UTC()
	reg := registry.New()
	notifier := &recordingNotifier{}

	inc := activeIncident(models.SeverityCritical, now.Add(-24*time.Hour))
	inc.Tier = 4
	inc.Escalations = []models.EscalationRecord{
		{FromTier: 3, ToTier: 4, Reason: "budget", At: now.Add(-3 * time.Hour)},
	}
	reg.Put(inc)

	checker := newChecker(reg, notifier, testTiers(), now)
	checker.Sweep(context.Background())
	checker.Sweep(context.Background())

	got, _ := reg.Get("inc-1")
	if got.Tier != 4 {
		t.Fatalf("tier must stay at 4, got %d", got.Tier)
	}
	if !got.ManualIntervention {
		t.Fatalf("manual intervention flag not set")
	}
	if len(notifier.notices) != 1 || notifier.notices[0].Kind != notify.KindManualIntervention {
		t.Fatalf("expected exactly one manual-intervention notice, got %+v", notifier.notices)
	}
}

func TestResolvedIncidentsIgnored(t *testing.T) {
	now := time.Now().UTC()
	reg := registry.New()

	inc := activeIncident(models.SeverityCritical, now.Add(-24*time.Hour))
	inc.Status = models.StatusResolved
	reg.Put(inc)

	checker := newChecker(reg, nil, testTiers(), now)
	checker.Sweep(context.Background())

	got, _ := reg.Get("inc-1")
	if got.Tier != 1 || len(got.Escalations) != 0 {
		t.Fatalf("resolved incident must not escalate: %+v", got)
	}
}
