// Package workflow drives every incident through the fixed eight-step
// response sequence as an explicit state machine: one state per step, advance
// on success, halt-and-flag on failure.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onchainlabs1/sentinel/internal/metrics"
	"github.com/onchainlabs1/sentinel/internal/models"
	"github.com/onchainlabs1/sentinel/internal/notify"
	"github.com/onchainlabs1/sentinel/internal/registry"
	"github.com/onchainlabs1/sentinel/internal/stream"
)

// StepError wraps the step that halted the workflow.
type StepError struct {
	Step models.Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// errAwaitingResolution parks high and critical incidents at the resolution
// step until an operator explicitly resolves them.
var errAwaitingResolution = errors.New("awaiting explicit resolution")

// IncidentStore persists incident state after each transition.
type IncidentStore interface {
	Save(ctx context.Context, inc models.Incident) error
}

// Sink files the final audit artifact.
type Sink interface {
	File(inc models.Incident, recommendations []string) (string, error)
}

// Notifier delivers incident notifications through the severity-routed
// channel set.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) (notify.Result, error)
}

// Recommender supplies improvement recommendations for the artifact.
type Recommender interface {
	Recommend(ctx context.Context, inc models.Incident) []string
}

// Broadcaster pushes lifecycle events to connected stream clients.
type Broadcaster interface {
	Broadcast(kind string, inc models.Incident)
}

// Engine executes the response workflow for one incident at a time. A single
// incident is never processed by two Engine invocations concurrently; the
// scheduler's in-flight set guarantees that.
type Engine struct {
	logger      *slog.Logger
	registry    *registry.Registry
	store       IncidentStore
	sink        Sink
	notifier    Notifier
	recommender Recommender
	hub         Broadcaster
}

// NewEngine wires the workflow engine. recommender and hub may be nil.
func NewEngine(
	logger *slog.Logger,
	reg *registry.Registry,
	store IncidentStore,
	sink Sink,
	notifier Notifier,
	recommender Recommender,
	hub Broadcaster,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:      logger,
		registry:    reg,
		store:       store,
		sink:        sink,
		notifier:    notifier,
		recommender: recommender,
		hub:         hub,
	}
}

type stepFn func(ctx context.Context, inc *models.Incident) (string, error)

func (e *Engine) handlers() map[models.Step]stepFn {
	return map[models.Step]stepFn{
		models.StepDetection:      e.stepDetection,
		models.StepClassification: e.stepClassification,
		models.StepNotification:   e.stepNotification,
		models.StepContainment:    e.stepContainment,
		models.StepInvestigation:  e.stepInvestigation,
		models.StepResolution:     e.stepResolution,
		models.StepRecovery:       e.stepRecovery,
		models.StepDocumentation:  e.stepDocumentation,
	}
}

// Run executes the workflow from the incident's next pending step. It is
// resumable: the step log determines where to pick up, so a parked incident
// continues at resolution once Resolve releases the gate. On step failure the
// incident status becomes "error", remaining steps are skipped, and a failure
// artifact is still filed so nothing leaves the audit trail.
func (e *Engine) Run(ctx context.Context, id string) error {
	inc, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("incident %s not in registry", id)
	}

	handlers := e.handlers()
	start := time.Now()

	for idx := len(inc.StepLog); idx < len(models.StepOrder); idx++ {
		step := models.StepOrder[idx]
		detail, err := handlers[step](ctx, &inc)
		if errors.Is(err, errAwaitingResolution) {
			e.commit(ctx, id, func(stored *models.Incident) {
				stored.AwaitingResolution = true
			})
			e.logger.Info("incident parked for explicit resolution",
				slog.String("incident_id", id),
				slog.String("severity", string(inc.Severity)))
			return nil
		}
		if err != nil {
			return e.halt(ctx, id, step, start, err)
		}

		now := time.Now().UTC()
		inc = e.commit(ctx, id, func(stored *models.Incident) {
			stored.StepLog = append(stored.StepLog, models.StepLogEntry{
				Step:   step,
				Status: "completed",
				Detail: detail,
				At:     now,
			})
			applyStepOutcome(stored, step, now, &inc)
		})

		e.logger.Debug("workflow step completed",
			slog.String("incident_id", id),
			slog.String("step", string(step)),
			slog.String("detail", detail))
		e.broadcast(stream.EventStep, inc)
		if step == models.StepResolution {
			e.broadcast(stream.EventResolved, inc)
		}
	}

	metrics.ObserveWorkflow(time.Since(start), metrics.OutcomeSuccess)
	e.broadcast(stream.EventDocumented, inc)
	// The store keeps the full record; the live registry only tracks
	// incidents that still have steps to run.
	e.registry.Remove(id)
	e.logger.Info("incident workflow completed",
		slog.String("incident_id", id),
		slog.String("severity", string(inc.Severity)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// applyStepOutcome moves the status ladder and copies handler side effects
// (ticket ref, resolution, artifact path) into the stored record.
func applyStepOutcome(stored *models.Incident, step models.Step, now time.Time, scratch *models.Incident) {
	switch step {
	case models.StepNotification:
		if scratch.TicketRef != "" {
			stored.TicketRef = scratch.TicketRef
		}
	case models.StepContainment:
		stored.Status = models.StatusContained
	case models.StepInvestigation:
		stored.Status = models.StatusInvestigated
	case models.StepResolution:
		stored.Status = models.StatusResolved
		stored.ResolvedAt = &now
		stored.AwaitingResolution = false
	case models.StepRecovery:
		stored.Status = models.StatusRecovered
	case models.StepDocumentation:
		stored.Status = models.StatusDocumented
		if scratch.ArtifactPath != "" {
			stored.ArtifactPath = scratch.ArtifactPath
		}
	}
}

func (e *Engine) halt(ctx context.Context, id string, step models.Step, start time.Time, err error) error {
	stepErr := &StepError{Step: step, Err: err}
	e.logger.Error("workflow step failed, halting",
		slog.String("incident_id", id),
		slog.String("step", string(step)),
		slog.Any("error", err))

	inc := e.commit(ctx, id, func(stored *models.Incident) {
		stored.Status = models.StatusError
		stored.LastError = stepErr.Error()
	})

	// A failure artifact still gets filed: the permanent record must show
	// what happened, including aborted responses.
	if e.sink != nil {
		if path, fileErr := e.sink.File(inc, nil); fileErr == nil {
			e.commit(ctx, id, func(stored *models.Incident) {
				stored.ArtifactPath = path
			})
		} else {
			e.logger.Error("failure artifact not filed",
				slog.String("incident_id", id), slog.Any("error", fileErr))
		}
	}

	metrics.ObserveWorkflow(time.Since(start), metrics.OutcomeError)
	e.broadcast(stream.EventFailed, inc)
	e.registry.Remove(id)
	return stepErr
}

// commit applies mutate under the registry lock and persists the result,
// returning the updated copy. Escalation updates racing with workflow steps
// stay intact because both go through registry.Update.
func (e *Engine) commit(ctx context.Context, id string, mutate func(*models.Incident)) models.Incident {
	e.registry.Update(id, mutate)
	inc, _ := e.registry.Get(id)
	if e.store != nil {
		if err := e.store.Save(ctx, inc); err != nil {
			e.logger.Error("persist incident failed",
				slog.String("incident_id", id), slog.Any("error", err))
		}
	}
	return inc
}

func (e *Engine) broadcast(kind string, inc models.Incident) {
	if e.hub != nil {
		e.hub.Broadcast(kind, inc)
	}
}

func (e *Engine) stepDetection(_ context.Context, inc *models.Incident) (string, error) {
	return fmt.Sprintf("signal received from %s", inc.Source), nil
}

func (e *Engine) stepClassification(_ context.Context, inc *models.Incident) (string, error) {
	detail := fmt.Sprintf("classified %s/%s as %s", inc.Category, inc.Type, inc.Severity)
	if inc.Degraded {
		detail += " (no rule matched, defaults applied)"
	}
	return detail, nil
}

func (e *Engine) stepNotification(ctx context.Context, inc *models.Incident) (string, error) {
	if e.notifier == nil {
		return "no notifier configured", nil
	}
	result, err := e.notifier.Notify(ctx, notify.Notification{
		Kind:     notify.KindIncident,
		Incident: *inc,
		Message:  fmt.Sprintf("%s incident detected: %s", inc.Severity, inc.Description),
	})
	if err != nil {
		return "", err
	}
	if result.TicketRef != "" {
		inc.TicketRef = result.TicketRef
	}
	detail := fmt.Sprintf("delivered to %d/%d channels", result.Delivered, result.Attempted)
	if result.TicketRef != "" {
		detail += ", ticket " + result.TicketRef
	}
	return detail, nil
}

func (e *Engine) stepContainment(_ context.Context, inc *models.Incident) (string, error) {
	return containmentAction(inc.Category), nil
}

func (e *Engine) stepInvestigation(_ context.Context, inc *models.Incident) (string, error) {
	detail := fmt.Sprintf("reviewed evidence from %s", inc.Source)
	if len(inc.Metrics) > 0 {
		detail += fmt.Sprintf(", %d metric readings", len(inc.Metrics))
	}
	if len(inc.Escalations) > 0 {
		detail += fmt.Sprintf(", escalated to tier %d", inc.Tier)
	}
	return detail, nil
}

func (e *Engine) stepResolution(_ context.Context, inc *models.Incident) (string, error) {
	switch inc.Severity {
	case models.SeverityCritical, models.SeverityHigh:
		if !inc.ResolutionRequested {
			return "", errAwaitingResolution
		}
		detail := "resolved by operator"
		if inc.ResolutionNote != "" {
			detail += ": " + inc.ResolutionNote
		}
		return detail, nil
	default:
		return "auto-resolved after investigation", nil
	}
}

func (e *Engine) stepRecovery(_ context.Context, inc *models.Incident) (string, error) {
	return recoveryAction(inc.Category), nil
}

func (e *Engine) stepDocumentation(ctx context.Context, inc *models.Incident) (string, error) {
	if e.sink == nil {
		return "", fmt.Errorf("documentation sink not configured")
	}
	var recommendations []string
	if e.recommender != nil {
		recommendations = e.recommender.Recommend(ctx, *inc)
	}
	path, err := e.sink.File(*inc, recommendations)
	if err != nil {
		return "", err
	}
	inc.ArtifactPath = path
	return "artifact filed at " + path, nil
}
