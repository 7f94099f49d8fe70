package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/onchainlabs1/sentinel/internal/models"
)

// Reporter admits decoded signals into the pipeline.
type Reporter interface {
	Report(ctx context.Context, sig models.Signal) ([]models.Incident, error)
}

// Subscriber consumes raw signals from a NATS subject. Producers publish the
// same JSON signal body the HTTP intake accepts.
type Subscriber struct {
	logger   *slog.Logger
	conn     *nats.Conn
	sub      *nats.Subscription
	subject  string
	reporter Reporter
}

// Connect dials the NATS server with reconnect handling. Returns an error if
// the initial connection cannot be established in time.
func Connect(logger *slog.Logger, url, subject string, reporter Reporter) (*Subscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Subscriber{
		logger:   logger,
		conn:     conn,
		subject:  subject,
		reporter: reporter,
	}, nil
}

// Start subscribes to the configured subject. Malformed payloads are logged
// and skipped so one bad producer cannot stall intake.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		var sig models.Signal
		if err := json.Unmarshal(msg.Data, &sig); err != nil {
			s.logger.Warn("discarding malformed signal payload",
				slog.String("subject", msg.Subject),
				slog.Any("error", err))
			return
		}
		if _, err := s.reporter.Report(ctx, sig); err != nil {
			s.logger.Warn("signal report failed",
				slog.String("subject", msg.Subject),
				slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("signal intake subscribed", slog.String("subject", s.subject))
	return nil
}

// Close drains the subscription and closes the connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.logger.Warn("nats drain failed", slog.Any("error", err))
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
