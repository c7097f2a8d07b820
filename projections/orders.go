// Package projections turns the order aggregate's event stream into
// denormalized read views: one handler per event type, each guarded so an
// event only applies if its version is strictly greater than the view's
// current version, so a redelivered or replayed event can never move a
// view backwards.
package projections

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/config"
	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/models"
	"github.com/orders-platform/order-processing/readcache"
)

// Elasticsearch index names, formatted through FormatIndex before use.
const (
	OrdersIndex      = "orders"
	OrderEventsIndex = "order-events"
)

// OrderProjector applies the order aggregate's events onto the orders
// read view.
type OrderProjector struct {
	db    *gorm.DB
	es    *elasticsearch.Client
	cache *readcache.Cache
	cfg   config.Config
}

// NewOrderProjector creates a projector writing views to db and,
// best-effort, indexing them into es and invalidating cache. Both es and
// cache may be nil, in which case that side effect is skipped entirely:
// Elasticsearch is a secondary, rebuildable search index and the read
// cache is an optional fast path in front of the query service, neither
// authoritative like the Postgres write this projector always makes.
func NewOrderProjector(db *gorm.DB, es *elasticsearch.Client, cache *readcache.Cache, cfg config.Config) *OrderProjector {
	return &OrderProjector{db: db, es: es, cache: cache, cfg: cfg}
}

// Project routes event to its handler by event type, logging and skipping
// any type this projector does not recognize; no count of skipped events
// is kept.
func (p *OrderProjector) Project(ctx context.Context, event domain.Event) error {
	var view *models.OrderView
	var err error

	switch event.Type {
	case domain.OrderCreated:
		view, err = p.applyCreated(ctx, event)
	case domain.OrderConfirmed:
		view, err = p.applyConfirmed(ctx, event)
	case domain.OrderCancelled:
		view, err = p.applyCancelled(ctx, event)
	case domain.OrderShipped:
		view, err = p.applyShipped(ctx, event)
	case domain.OrderDelivered:
		view, err = p.applyDelivered(ctx, event)
	default:
		log.Warn().Str("event_type", event.Type).Msg("projection: unknown event type, skipping")
		return nil
	}

	if err != nil {
		return err
	}
	if view == nil {
		// Guard rejected the event as a duplicate or out-of-order replay.
		return nil
	}

	p.indexEvent(ctx, event)
	p.indexOrder(ctx, view)
	p.invalidateCache(ctx, view.OrderID)
	return nil
}

// invalidateCache drops orderID from the read cache after this projector
// has updated its backing view, so the next query-side read misses the
// stale cached copy and repopulates from the database.
func (p *OrderProjector) invalidateCache(ctx context.Context, orderID string) {
	if p.cache == nil {
		return
	}
	p.cache.Invalidate(ctx, orderID)
}

// ProcessEvent adapts Project to replay.Handler's signature, letting the
// replay service and the live pipeline share one code path.
func (p *OrderProjector) ProcessEvent(ctx context.Context, event domain.Event) error {
	return p.Project(ctx, event)
}

// Clear truncates the orders view, implementing replay.Rebuildable for a
// from-scratch rebuild.
func (p *OrderProjector) Clear(ctx context.Context) error {
	if err := p.db.WithContext(ctx).Exec("DELETE FROM order_views").Error; err != nil {
		return apperr.Storage("failed to clear order views", err)
	}
	return nil
}

// guardedLoad reads the current view for orderID and reports whether
// event.Version is new enough to apply. A nil, nil result means "already
// applied or superseded — skip".
func (p *OrderProjector) guardedLoad(tx *gorm.DB, orderID string, version int) (*models.OrderView, bool, error) {
	var view models.OrderView
	err := tx.Where("order_id = ?", orderID).First(&view).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &models.OrderView{OrderID: orderID, CreatedAt: time.Now()}, true, nil
	case err != nil:
		return nil, false, apperr.Storage("failed to load order view", err)
	}

	if version <= view.Version {
		log.Debug().
			Str("order_id", orderID).
			Int("event_version", version).
			Int("view_version", view.Version).
			Msg("projection: skipping stale or duplicate event")
		return nil, false, nil
	}
	return &view, true, nil
}

func (p *OrderProjector) save(tx *gorm.DB, view *models.OrderView) error {
	view.UpdatedAt = time.Now()
	if err := tx.Where("order_id = ?", view.OrderID).Assign(*view).FirstOrCreate(&models.OrderView{}).Error; err != nil {
		return apperr.Storage("failed to save order view", err)
	}
	return nil
}

func (p *OrderProjector) applyCreated(ctx context.Context, event domain.Event) (*models.OrderView, error) {
	var data domain.OrderCreatedEvent
	if err := decodePayload(event, &data); err != nil {
		return nil, err
	}

	var result *models.OrderView
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		view, apply, err := p.guardedLoad(tx, data.OrderID, event.Version)
		if err != nil || !apply {
			return err
		}

		items, err := json.Marshal(data.Items)
		if err != nil {
			return apperr.Serialization("failed to marshal order items", err)
		}
		address, err := json.Marshal(data.ShippingAddress)
		if err != nil {
			return apperr.Serialization("failed to marshal shipping address", err)
		}

		view.CustomerID = data.CustomerID
		view.OrderNumber = data.OrderNumber
		view.Status = domain.OrderStatusCreated
		view.TotalAmount = data.TotalAmount.String()
		view.Currency = data.Currency
		view.Items = items
		view.ShippingAddress = address
		view.Version = event.Version

		if err := p.save(tx, view); err != nil {
			return err
		}
		result = view
		return nil
	})
	return result, err
}

func (p *OrderProjector) applyConfirmed(ctx context.Context, event domain.Event) (*models.OrderView, error) {
	var data domain.OrderConfirmedEvent
	if err := decodePayload(event, &data); err != nil {
		return nil, err
	}
	return p.applyStatusTransition(ctx, data.OrderID, event.Version, domain.OrderStatusConfirmed, nil)
}

func (p *OrderProjector) applyCancelled(ctx context.Context, event domain.Event) (*models.OrderView, error) {
	var data domain.OrderCancelledEvent
	if err := decodePayload(event, &data); err != nil {
		return nil, err
	}
	return p.applyStatusTransition(ctx, data.OrderID, event.Version, domain.OrderStatusCancelled, nil)
}

func (p *OrderProjector) applyShipped(ctx context.Context, event domain.Event) (*models.OrderView, error) {
	var data domain.OrderShippedEvent
	if err := decodePayload(event, &data); err != nil {
		return nil, err
	}
	return p.applyStatusTransition(ctx, data.OrderID, event.Version, domain.OrderStatusShipped, func(view *models.OrderView) {
		view.TrackingNumber = data.TrackingNumber
		view.Carrier = data.Carrier
	})
}

func (p *OrderProjector) applyDelivered(ctx context.Context, event domain.Event) (*models.OrderView, error) {
	var data domain.OrderDeliveredEvent
	if err := decodePayload(event, &data); err != nil {
		return nil, err
	}
	return p.applyStatusTransition(ctx, data.OrderID, event.Version, domain.OrderStatusDelivered, nil)
}

func (p *OrderProjector) applyStatusTransition(ctx context.Context, orderID string, version int, status string, extra func(*models.OrderView)) (*models.OrderView, error) {
	var result *models.OrderView
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		view, apply, err := p.guardedLoad(tx, orderID, version)
		if err != nil || !apply {
			return err
		}
		if view.ID == 0 {
			// The status-changing event for an order this view has never
			// seen created — the create event was dropped or hasn't been
			// projected yet. Nothing safe to do but wait for it: failing the
			// event leaves it to be redelivered or picked up by the next poll.
			log.Warn().Str("order_id", orderID).Msg("projection: status event for unknown order, deferring")
			return apperr.NotFound("order view not yet created for status event on order "+orderID, nil)
		}

		view.Status = status
		view.Version = version
		if extra != nil {
			extra(view)
		}

		if err := p.save(tx, view); err != nil {
			return err
		}
		result = view
		return nil
	})
	return result, err
}

func decodePayload(event domain.Event, out interface{}) error {
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return apperr.Serialization("failed to marshal event payload for projection", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Serialization("failed to unmarshal event payload for projection", err)
	}
	return nil
}

// indexOrder best-effort mirrors view into Elasticsearch for the
// search/listing surface. Failures are logged, never propagated: the
// Postgres write above is what makes the projection durable and
// version-guarded; Elasticsearch is a rebuildable secondary index.
func (p *OrderProjector) indexOrder(ctx context.Context, view *models.OrderView) {
	if p.es == nil {
		return
	}

	body, err := json.Marshal(view)
	if err != nil {
		log.Warn().Err(err).Str("order_id", view.OrderID).Msg("failed to marshal order view for indexing")
		return
	}

	req := esapi.IndexRequest{
		Index:      FormatIndex(OrdersIndex, p.cfg),
		DocumentID: view.OrderID,
		Body:       bytesReader(body),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, p.es)
	if err != nil {
		log.Warn().Err(err).Str("order_id", view.OrderID).Msg("failed to index order view")
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Warn().Str("order_id", view.OrderID).Str("status", res.Status()).Msg("elasticsearch rejected order index write")
	}
}

// indexEvent best-effort mirrors the raw event into the order-events
// index, giving operators a structured, queryable audit trail over
// payload/metadata.
func (p *OrderProjector) indexEvent(ctx context.Context, event domain.Event) {
	if p.es == nil {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("failed to marshal event for indexing")
		return
	}

	req := esapi.IndexRequest{
		Index:      FormatIndex(OrderEventsIndex, p.cfg),
		DocumentID: event.ID,
		Body:       bytesReader(body),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, p.es)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("failed to index event")
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Warn().Str("event_id", event.ID).Str("status", res.Status()).Msg("elasticsearch rejected event index write")
	}
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
