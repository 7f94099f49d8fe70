// Package notify fans incident events out to the channel set configured for
// each severity.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onchainlabs1/sentinel/internal/models"
)

// Kind labels why a notification is being sent.
type Kind string

const (
	KindIncident           Kind = "incident"
	KindEscalation         Kind = "escalation"
	KindManualIntervention Kind = "manual_intervention"
)

// Notification carries one incident event to a channel.
type Notification struct {
	Kind     Kind
	Incident models.Incident
	Message  string
}

// Channel delivers a notification somewhere. Send may return an external
// reference (e.g. a ticket id) for channels that create tracked items.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) (ref string, err error)
}

// Router owns the channel registry and the severity routing table.
type Router struct {
	channels map[string]Channel
	routes   map[models.Severity][]string
	logger   *slog.Logger
}

// NewRouter builds a Router. Route names without a registered channel are
// skipped with a warning at send time.
func NewRouter(logger *slog.Logger, routes map[models.Severity][]string, channels ...Channel) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}
	return &Router{channels: byName, routes: routes, logger: logger}
}

// Result summarises one Notify call.
type Result struct {
	Delivered int
	Attempted int
	TicketRef string
}

// Notify sends the notification through every channel routed for the
// incident's severity. It fails only when every routed channel failed;
// partial delivery is logged and reported as success.
func (r *Router) Notify(ctx context.Context, n Notification) (Result, error) {
	names := r.routes[n.Incident.Severity]
	if len(names) == 0 {
		names = []string{"log"}
	}

	var result Result
	var failures []error
	for _, name := range names {
		ch, ok := r.channels[name]
		if !ok {
			r.logger.Warn("notification channel not registered", slog.String("channel", name))
			continue
		}
		result.Attempted++
		ref, err := ch.Send(ctx, n)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
			r.logger.Warn("notification delivery failed",
				slog.String("channel", name),
				slog.String("incident_id", n.Incident.ID),
				slog.Any("error", err))
			continue
		}
		result.Delivered++
		if ref != "" && result.TicketRef == "" {
			result.TicketRef = ref
		}
	}

	if result.Attempted > 0 && result.Delivered == 0 {
		return result, fmt.Errorf("all channels failed: %w", errors.Join(failures...))
	}
	return result, nil
}
