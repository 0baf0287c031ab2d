// Package outbox drains outbox_events to a Publisher and marks the rows they
// describe as synced.
package outbox

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/store"
)

type Publisher interface {
	Publish(ctx context.Context, event domain.OutboxEvent) error
}

// Source is the part of store.Repository the relay needs.
type Source interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error
	MarkSynced(ctx context.Context, entity string, ids []int64) error
}

var _ Source = store.Repository(nil)

type Relay struct {
	source    Source
	publisher Publisher
	logger    logrus.FieldLogger
	batchSize int
	interval  time.Duration
	clock     func() time.Time
}

func NewRelay(source Source, publisher Publisher, interval time.Duration, logger logrus.FieldLogger) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		logger:    logger,
		batchSize: 100,
		interval:  interval,
		clock:     time.Now,
	}
}

// Run drains the outbox every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	for {
		if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.WithFields(logrus.Fields{
				"field": "outbox.Run",
			}).WithError(err).Warn("outbox relay pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.interval):
		}
	}
}

// ProcessOnce publishes one batch of pending events in id order. It stops at
// the first publish failure so later events never overtake earlier ones, and
// returns how many events were published.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	pending, err := r.source.ListPendingOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(pending))
	byEntity := map[string][]int64{}
	for _, event := range pending {
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.WithFields(logrus.Fields{
				"field":     "outbox.ProcessOnce",
				"event_id":  event.ID,
				"entity":    event.Entity,
				"entity_id": event.EntityID,
			}).WithError(err).Warn("publish failed, will retry")
			break
		}
		published = append(published, event.ID)
		byEntity[event.Entity] = append(byEntity[event.Entity], event.EntityID)
	}
	if len(published) == 0 {
		return 0, nil
	}

	if err := r.source.MarkOutboxPublished(ctx, published, r.clock()); err != nil {
		return 0, err
	}

	entities := make([]string, 0, len(byEntity))
	for entity := range byEntity {
		entities = append(entities, entity)
	}
	sort.Strings(entities)
	for _, entity := range entities {
		if err := r.source.MarkSynced(ctx, entity, byEntity[entity]); err != nil {
			// Events are already published at this point.
			r.logger.WithFields(logrus.Fields{
				"field":  "outbox.ProcessOnce",
				"entity": entity,
			}).WithError(err).Warn("failed to mark rows synced")
		}
	}
	return len(published), nil
}
