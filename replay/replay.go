// Package replay rebuilds projections (or any derived state) by
// re-running the event store's history through a handler.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/eventstore"
)

// Config narrows a replay run. A zero value replays everything in
// batches of 100.
type Config struct {
	FromTimestamp time.Time
	ToTimestamp   time.Time
	AggregateIDs  []string
	EventTypes    []string
	BatchSize     int
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return 100
	}
	return c.BatchSize
}

// Stats reports what a replay run did.
type Stats struct {
	TotalEvents     int
	ProcessedEvents int
	FailedEvents    int
	StartTime       time.Time
	EndTime         time.Time
}

// Duration returns how long the run took, or zero if it hasn't finished.
func (s Stats) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Handler processes a single replayed event. An error fails that one
// event (recorded in Stats.FailedEvents) without aborting the run.
type Handler func(ctx context.Context, event domain.Event) error

// Service drives replay runs against an event store.
type Service struct {
	store eventstore.EventStore

	mu    sync.Mutex
	stats Stats
}

// NewService creates a replay service over store.
func NewService(store eventstore.EventStore) *Service {
	return &Service{store: store}
}

// Replay runs handler over every event matching config, in batches, and
// returns the run's statistics.
func (s *Service) Replay(ctx context.Context, config Config, handler Handler) (Stats, error) {
	log.Info().
		Int("batch_size", config.batchSize()).
		Strs("event_types", config.EventTypes).
		Msg("starting event replay")

	s.mu.Lock()
	s.stats = Stats{StartTime: time.Now()}
	s.mu.Unlock()

	events, err := s.fetchEvents(ctx, config)
	if err != nil {
		return Stats{}, err
	}

	s.mu.Lock()
	s.stats.TotalEvents = len(events)
	s.mu.Unlock()

	log.Info().Int("count", len(events)).Msg("found events to replay")

	batchSize := config.batchSize()
	for start := 0; start < len(events); start += batchSize {
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}

		for _, event := range events[start:end] {
			if err := handler(ctx, event); err != nil {
				log.Warn().
					Str("event_id", event.ID).
					Str("event_type", event.Type).
					Err(err).
					Msg("failed to process event during replay")

				s.mu.Lock()
				s.stats.FailedEvents++
				s.mu.Unlock()
				continue
			}

			s.mu.Lock()
			s.stats.ProcessedEvents++
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.stats.EndTime = time.Now()
	result := s.stats
	s.mu.Unlock()

	log.Info().
		Int("processed", result.ProcessedEvents).
		Int("failed", result.FailedEvents).
		Dur("duration", result.Duration()).
		Msg("event replay completed")

	return result, nil
}

// ReplayAggregate is a convenience for the common single-aggregate case.
func (s *Service) ReplayAggregate(ctx context.Context, aggregateID string, handler Handler) (Stats, error) {
	return s.Replay(ctx, Config{AggregateIDs: []string{aggregateID}}, handler)
}

// Current returns the most recent run's statistics.
func (s *Service) Current() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Service) fetchEvents(ctx context.Context, config Config) ([]domain.Event, error) {
	if len(config.AggregateIDs) > 0 {
		var all []domain.Event
		for _, aggregateID := range config.AggregateIDs {
			events, err := s.store.GetEvents(ctx, aggregateID)
			if err != nil {
				return nil, err
			}
			all = append(all, events...)
		}
		return filterEvents(all, config), nil
	}

	return s.store.QueryEvents(ctx, eventstore.EventFilter{
		From:       config.FromTimestamp,
		To:         config.ToTimestamp,
		EventTypes: config.EventTypes,
	})
}

func filterEvents(events []domain.Event, config Config) []domain.Event {
	filtered := make([]domain.Event, 0, len(events))
	for _, event := range events {
		if !config.FromTimestamp.IsZero() && event.Timestamp.Before(config.FromTimestamp) {
			continue
		}
		if !config.ToTimestamp.IsZero() && event.Timestamp.After(config.ToTimestamp) {
			continue
		}
		if len(config.EventTypes) > 0 && !containsString(config.EventTypes, event.Type) {
			continue
		}
		filtered = append(filtered, event)
	}
	return filtered
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Rebuildable is a projection that can be cleared and rebuilt from the
// event log. Both the live projection pipeline and this replay service
// drive the same interface, so a projector doesn't need a separate
// rebuild-mode code path.
type Rebuildable interface {
	Clear(ctx context.Context) error
	ProcessEvent(ctx context.Context, event domain.Event) error
}

// Rebuild clears target's data and replays config's events through it.
func Rebuild(ctx context.Context, service *Service, target Rebuildable, config Config) (Stats, error) {
	if err := target.Clear(ctx); err != nil {
		return Stats{}, err
	}
	return service.Replay(ctx, config, target.ProcessEvent)
}
