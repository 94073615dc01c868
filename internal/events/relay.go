package events

import (
	"context"
	"fmt"
	"time"

	"workdesk/internal/domain"
	"workdesk/internal/logging"
	"workdesk/internal/repo"
)

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 5
)

// Publisher delivers one outbox event somewhere outside the database.
type Publisher interface {
	Publish(ctx context.Context, evt domain.OutboxEvent) error
}

type PublisherFunc func(ctx context.Context, evt domain.OutboxEvent) error

func (f PublisherFunc) Publish(ctx context.Context, evt domain.OutboxEvent) error { return f(ctx, evt) }

// LogPublisher writes events to the logger. It is the publisher used when no
// webhooks are configured.
type LogPublisher struct {
	Logger logging.Logger
}

func (p LogPublisher) Publish(_ context.Context, evt domain.OutboxEvent) error {
	logging.WithFields(logging.Or(p.Logger), map[string]any{
		"event_id":     evt.EventID,
		"event_type":   evt.EventType,
		"aggregate_id": evt.AggregateID,
		"version":      evt.Version,
	}).Info("outbox event %s", evt.EventType)
	return nil
}

// Relay drains PENDING outbox rows through a Publisher.
type Relay struct {
	Repo        repo.Repo
	Publisher   Publisher
	BatchSize   int
	MaxAttempts int
	Now         func() time.Time
	Logger      logging.Logger
}

type RelayReport struct {
	Claimed   int `json:"claimed"`
	Published int `json:"published"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

// RunOnce publishes one batch. Delivery failures are recorded on the row and
// do not fail the run; only storage errors are returned.
func (r Relay) RunOnce(ctx context.Context) (RelayReport, error) {
	var report RelayReport
	if r.Publisher == nil {
		return report, fmt.Errorf("relay publisher is nil")
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	logger := logging.Or(r.Logger)

	pending, err := r.Repo.PendingOutbox(ctx, batch)
	if err != nil {
		return report, repo.MapStorageError(err)
	}
	report.Claimed = len(pending)
	for _, evt := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if pubErr := r.Publisher.Publish(ctx, evt); pubErr != nil {
			status, err := r.Repo.MarkOutboxFailed(ctx, evt.ID, pubErr.Error(), maxAttempts)
			if err != nil {
				return report, repo.MapStorageError(err)
			}
			if status == domain.OutboxFailed {
				report.Failed++
				logger.Error("outbox event %s gave up after %d attempts: %v", evt.EventID, maxAttempts, pubErr)
			} else {
				report.Retrying++
				logger.Warn("outbox event %s delivery failed: %v", evt.EventID, pubErr)
			}
			continue
		}
		if err := r.Repo.MarkOutboxPublished(ctx, evt.ID, now().UTC()); err != nil {
			if domain.IsKind(err, domain.KindConcurrencyConflict) {
				continue
			}
			return report, repo.MapStorageError(err)
		}
		report.Published++
	}
	if report.Claimed > 0 {
		logger.Debug("outbox relay claimed=%d published=%d retrying=%d failed=%d",
			report.Claimed, report.Published, report.Retrying, report.Failed)
	}
	return report, nil
}
