package notify

import (
	"context"
	"log/slog"
)

// LogChannel writes notifications to the structured log. It is always
// registered so low-severity incidents still leave a trace.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel constructs the log channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

// Name implements Channel.
func (c *LogChannel) Name() string { return "log" }

// Send implements Channel.
func (c *LogChannel) Send(_ context.Context, n Notification) (string, error) {
	c.logger.Info("incident notification",
		slog.String("kind", string(n.Kind)),
		slog.String("incident_id", n.Incident.ID),
		slog.String("severity", string(n.Incident.Severity)),
		slog.String("category", string(n.Incident.Category)),
		slog.Int("tier", n.Incident.Tier),
		slog.String("message", n.Message))
	return "", nil
}
