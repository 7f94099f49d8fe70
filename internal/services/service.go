package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onchainlabs1/sentinel/internal/classify"
	"github.com/onchainlabs1/sentinel/internal/dedup"
	"github.com/onchainlabs1/sentinel/internal/metrics"
	"github.com/onchainlabs1/sentinel/internal/models"
	"github.com/onchainlabs1/sentinel/internal/registry"
	"github.com/onchainlabs1/sentinel/internal/review"
	"github.com/onchainlabs1/sentinel/internal/store"
	"github.com/onchainlabs1/sentinel/internal/stream"
	"github.com/onchainlabs1/sentinel/internal/utils"
)

// Enqueuer hands admitted incidents to the workflow queue.
type Enqueuer interface {
	Enqueue(id string) error
	Depth() int
}

// Store is the persistence surface the service depends on.
type Store interface {
	Save(ctx context.Context, inc models.Incident) error
	Get(ctx context.Context, id string) (models.Incident, error)
	List(ctx context.Context, f store.Filter) ([]models.Incident, error)
	StatusCounts(ctx context.Context) (map[string]int, error)
	SeverityCounts(ctx context.Context) (map[string]int, error)
}

// ErrPartialIntake reports that persistence failed after some incidents from
// the same signal were already admitted and enqueued.
var ErrPartialIntake = errors.New("signal partially admitted")

// Service coordinates intake, persistence and operator actions. It is the
// single entry point the API and the detection scheduler talk to.
type Service struct {
	logger     *slog.Logger
	classifier *classify.Classifier
	suppressor *dedup.Suppressor
	registry   *registry.Registry
	store      Store
	miner      *review.Miner
	hub        *stream.Hub
	enqueuer   Enqueuer
	latency    *utils.LatencyTracker
}

// New wires the service facade.
func New(
	logger *slog.Logger,
	classifier *classify.Classifier,
	suppressor *dedup.Suppressor,
	reg *registry.Registry,
	st Store,
	miner *review.Miner,
	hub *stream.Hub,
	enqueuer Enqueuer,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:     logger,
		classifier: classifier,
		suppressor: suppressor,
		registry:   reg,
		store:      st,
		miner:      miner,
		hub:        hub,
		enqueuer:   enqueuer,
		latency:    utils.NewLatencyTracker(512),
	}
}

// Report classifies a raw signal and admits the resulting incidents into the
// response pipeline. Suppressed duplicates are counted but not returned.
func (s *Service) Report(ctx context.Context, sig models.Signal) ([]models.Incident, error) {
	started := time.Now()
	defer func() { s.latency.Observe(time.Since(started)) }()

	incidents, err := s.classifier.Classify(sig)
	if err != nil {
		metrics.ObserveRejected()
		return nil, err
	}

	admitted := make([]models.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if !s.suppressor.Admit(ctx, inc) {
			metrics.ObserveSuppressed()
			s.logger.Debug("duplicate signal suppressed",
				slog.String("category", string(inc.Category)),
				slog.String("source", inc.Source))
			continue
		}
		if err := s.store.Save(ctx, inc); err != nil {
			saveErr := utils.NewAppError("report", "persist incident", err)
			if len(admitted) > 0 {
				return admitted, fmt.Errorf("%w: %d of %d persisted: %v",
					ErrPartialIntake, len(admitted), len(incidents), saveErr)
			}
			return nil, saveErr
		}
		s.registry.Put(inc)
		metrics.ObserveIncident(string(inc.Severity), string(inc.Category))

		if err := s.enqueuer.Enqueue(inc.ID); err != nil {
			s.logger.Warn("workflow enqueue failed",
				slog.String("incident_id", inc.ID),
				slog.Any("error", err))
		}
		if s.hub != nil {
			s.hub.Broadcast(stream.EventCreated, inc)
		}
		s.logger.Info("incident admitted",
			slog.String("incident_id", inc.ID),
			slog.String("type", inc.Type),
			slog.String("severity", string(inc.Severity)))
		admitted = append(admitted, inc)
	}
	return admitted, nil
}

// Reclassify re-runs the rule engine over an incident's original signal and
// applies the new classification in place. The step log and escalation
// history are preserved.
func (s *Service) Reclassify(ctx context.Context, id string) (models.Incident, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}

	results, err := s.classifier.Classify(models.Signal{
		Description: inc.Description,
		Source:      inc.Source,
		Metrics:     inc.Metrics,
		OccurredAt:  inc.DetectedAt,
	})
	if err != nil {
		return models.Incident{}, utils.NewAppError("reclassify", "classify signal", err)
	}
	if len(results) == 0 {
		return inc, nil
	}

	next := results[0]
	mutate := func(target *models.Incident) {
		target.Type = next.Type
		target.Category = next.Category
		target.Severity = next.Severity
		target.Degraded = next.Degraded
		target.ClassifiedAt = time.Now().UTC()
	}

	if s.registry.Update(id, mutate) {
		inc, _ = s.registry.Get(id)
	} else {
		mutate(&inc)
	}
	if err := s.store.Save(ctx, inc); err != nil {
		return models.Incident{}, utils.NewAppError("reclassify", "persist incident", err)
	}
	if s.hub != nil {
		s.hub.Broadcast(stream.EventReclassified, inc)
	}
	s.logger.Info("incident reclassified",
		slog.String("incident_id", id),
		slog.String("type", inc.Type),
		slog.String("severity", string(inc.Severity)))
	return inc, nil
}

// Resolve records an operator resolution for an incident parked at the
// resolution step and hands it back to the workflow queue.
func (s *Service) Resolve(ctx context.Context, id, note string) (models.Incident, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}
	if !inc.Active() {
		return models.Incident{}, fmt.Errorf("incident %s is already %s", id, inc.Status)
	}

	mutate := func(target *models.Incident) {
		target.ResolutionRequested = true
		target.ResolutionNote = note
	}
	if s.registry.Update(id, mutate) {
		inc, _ = s.registry.Get(id)
	} else {
		mutate(&inc)
		s.registry.Put(inc)
	}
	if err := s.store.Save(ctx, inc); err != nil {
		return models.Incident{}, utils.NewAppError("resolve", "persist incident", err)
	}
	if err := s.enqueuer.Enqueue(id); err != nil {
		return models.Incident{}, utils.NewAppError("resolve", "enqueue workflow", err)
	}
	s.logger.Info("resolution requested", slog.String("incident_id", id))
	return inc, nil
}

// Get returns an incident, preferring the live registry over the store.
func (s *Service) Get(ctx context.Context, id string) (models.Incident, error) {
	if inc, ok := s.registry.Get(id); ok {
		return inc, nil
	}
	return s.store.Get(ctx, id)
}

// List returns persisted incidents matching the filter, newest first.
func (s *Service) List(ctx context.Context, f store.Filter) ([]models.Incident, error) {
	return s.store.List(ctx, f)
}

// Patterns mines recurring incident shapes from history.
func (s *Service) Patterns(ctx context.Context) ([]review.Pattern, error) {
	return s.miner.Mine(ctx)
}

// Stats is an operational snapshot of the pipeline.
type Stats struct {
	Active         int            `json:"active"`
	QueueDepth     int            `json:"queue_depth"`
	ByStatus       map[string]int `json:"by_status"`
	BySeverity     map[string]int `json:"by_severity"`
	IntakeP95Ms    float64        `json:"intake_p95_ms"`
	IntakeObserved int            `json:"intake_observed"`
}

// Stats aggregates store counts with live pipeline gauges.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	byStatus, err := s.store.StatusCounts(ctx)
	if err != nil {
		return Stats{}, utils.NewAppError("stats", "count by status", err)
	}
	bySeverity, err := s.store.SeverityCounts(ctx)
	if err != nil {
		return Stats{}, utils.NewAppError("stats", "count by severity", err)
	}
	return Stats{
		Active:         len(s.registry.Active()),
		QueueDepth:     s.enqueuer.Depth(),
		ByStatus:       byStatus,
		BySeverity:     bySeverity,
		IntakeP95Ms:    float64(s.latency.Percentile(95)) / float64(time.Millisecond),
		IntakeObserved: s.latency.Count(),
	}, nil
}
