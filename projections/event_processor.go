package projections

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orders-platform/order-processing/eventstore"
)

// EventProcessor is the bus-independent recovery/catch-up path: a ticker
// that polls the event store for events this poller has not yet marked
// processed and feeds them through the same OrderProjector the live
// bus-driven path uses. The bus consumer never sets that flag, so every
// event passes through here once: one the bus path already projected is
// skipped by the version guard, one whose publish was dropped is
// projected here.
type EventProcessor struct {
	store              eventstore.EventStore
	projector          *OrderProjector
	batchSize          int
	processingInterval time.Duration

	mutex    sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewEventProcessor creates a polling fallback processor over store,
// applying events through projector.
func NewEventProcessor(store eventstore.EventStore, projector *OrderProjector) *EventProcessor {
	return &EventProcessor{
		store:              store,
		projector:          projector,
		batchSize:          100,
		processingInterval: 5 * time.Second,
		stopChan:           make(chan struct{}),
	}
}

// Start begins polling in a background goroutine. Safe to call once;
// subsequent calls while already running are no-ops.
func (p *EventProcessor) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return
	}
	p.running = true
	go p.loop()
}

// Stop halts the polling loop.
func (p *EventProcessor) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.running {
		return
	}
	p.running = false
	p.stopChan <- struct{}{}
}

func (p *EventProcessor) loop() {
	ticker := time.NewTicker(p.processingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.processBatch(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to process fallback event batch")
			}
		case <-p.stopChan:
			return
		}
	}
}

func (p *EventProcessor) processBatch(ctx context.Context) error {
	events, err := p.store.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	log.Info().Int("count", len(events)).Msg("processing unprocessed events via fallback poller")

	for _, event := range events {
		if err := p.projector.Project(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("fallback projection failed, will retry next poll")
			continue
		}
		if err := p.store.MarkEventAsProcessed(ctx, event.ID); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("failed to mark event as processed")
		}
	}
	return nil
}
