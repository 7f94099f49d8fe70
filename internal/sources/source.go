// Package sources contains the independent checkers that feed candidate
// signals into the classifier.
package sources

import (
	"context"

	"github.com/onchainlabs1/sentinel/internal/models"
)

// Source is a checker polled by the scheduler. Check returns zero or more
// candidate signals; errors are logged by the caller and never stop the
// polling loop.
type Source interface {
	Name() string
	Check(ctx context.Context) ([]models.Signal, error)
}
