package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onchainlabs1/sentinel/internal/models"
	"github.com/onchainlabs1/sentinel/internal/registry"
	"github.com/onchainlabs1/sentinel/internal/sources"
)

// Reporter admits raw signals into the pipeline.
type Reporter interface {
	Report(ctx context.Context, sig models.Signal) ([]models.Incident, error)
}

// Runner executes the response workflow for one incident.
type Runner interface {
	Run(ctx context.Context, id string) error
}

// Unfinished yields incidents whose workflow has not completed, for boot
// recovery.
type Unfinished interface {
	Unfinished(ctx context.Context) ([]models.Incident, error)
}

// Scheduler polls the configured sources on a fixed interval and drives the
// workflow queue. Incidents are processed in admission order, and the
// in-flight set guarantees at most one worker owns an incident at a time.
type Scheduler struct {
	logger       *slog.Logger
	sources      []sources.Source
	runner       Runner
	pollInterval time.Duration
	workers      int

	queue chan string

	mu      sync.Mutex
	pending map[string]struct{}

	// set after construction to break the scheduler/service cycle
	reporter Reporter
}

// New constructs a Scheduler. Attach the reporter with SetReporter before Run.
func New(logger *slog.Logger, srcs []sources.Source, runner Runner, pollInterval time.Duration, workers, queueSize int) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Scheduler{
		logger:       logger,
		sources:      srcs,
		runner:       runner,
		pollInterval: pollInterval,
		workers:      workers,
		queue:        make(chan string, queueSize),
		pending:      make(map[string]struct{}),
	}
}

// SetReporter attaches the signal intake. The service needs the scheduler as
// its enqueuer, so the reporter is wired after both exist.
func (s *Scheduler) SetReporter(r Reporter) {
	s.reporter = r
}

// Enqueue queues an incident for workflow execution. An incident already
// queued or running is not queued twice.
func (s *Scheduler) Enqueue(id string) error {
	s.mu.Lock()
	if _, exists := s.pending[id]; exists {
		s.mu.Unlock()
		return nil
	}
	s.pending[id] = struct{}{}
	s.mu.Unlock()

	select {
	case s.queue <- id:
		return nil
	default:
		s.release(id)
		return fmt.Errorf("workflow queue full, dropping incident %s", id)
	}
}

// Depth reports how many incidents are waiting in the queue.
func (s *Scheduler) Depth() int {
	return len(s.queue)
}

// Recover reloads unfinished incidents into the registry and re-queues them,
// so a restart resumes interrupted workflows where they stopped.
func (s *Scheduler) Recover(ctx context.Context, st Unfinished, reg *registry.Registry) error {
	incidents, err := st.Unfinished(ctx)
	if err != nil {
		return fmt.Errorf("load unfinished incidents: %w", err)
	}
	for _, inc := range incidents {
		reg.Put(inc)
		if inc.AwaitingResolution && !inc.ResolutionRequested {
			// Parked incidents wait for an operator, not a worker.
			continue
		}
		if err := s.Enqueue(inc.ID); err != nil {
			s.logger.Warn("recovery enqueue failed",
				slog.String("incident_id", inc.ID),
				slog.Any("error", err))
		}
	}
	if len(incidents) > 0 {
		s.logger.Info("recovered unfinished incidents", slog.Int("count", len(incidents)))
	}
	return nil
}

// Run starts the polling loop and the worker pool, blocking until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.pollLoop(ctx)
		return nil
	})
	for i := 0; i < s.workers; i++ {
		worker := i
		g.Go(func() error {
			s.workLoop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	if len(s.sources) == 0 {
		s.logger.Info("no detection sources configured, polling disabled")
		return
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if s.reporter == nil {
		return
	}
	for _, src := range s.sources {
		signals, err := src.Check(ctx)
		if err != nil {
			s.logger.Warn("source check failed",
				slog.String("source", src.Name()),
				slog.Any("error", err))
			continue
		}
		for _, sig := range signals {
			if _, err := s.reporter.Report(ctx, sig); err != nil {
				s.logger.Warn("signal report failed",
					slog.String("source", src.Name()),
					slog.Any("error", err))
			}
		}
	}
}

func (s *Scheduler) workLoop(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			err := s.runner.Run(ctx, id)
			s.release(id)
			if err != nil {
				s.logger.Error("workflow run failed",
					slog.Int("worker", worker),
					slog.String("incident_id", id),
					slog.Any("error", err))
			}
		}
	}
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}
