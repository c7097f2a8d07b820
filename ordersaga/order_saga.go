// Package ordersaga is the order-processing saga: reserve inventory,
// authorize payment, confirm order, each with a compensation that undoes
// it. Expressed as a saga.Definition over three saga.StepExecutors.
package ordersaga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/saga"
)

const SagaType = "OrderProcessingSaga"

const (
	stepReserveInventory = "reserve_inventory"
	stepAuthorizePayment = "authorize_payment"
	stepConfirmOrder     = "confirm_order"

	maxStepRetries = 3
)

// Data is the saga's working set. It travels as the saga instance's Data
// column and is merged with each step's result as the saga progresses.
type Data struct {
	OrderID       string            `json:"order_id"`
	CustomerID    string            `json:"customer_id"`
	Items         []domain.OrderItem `json:"items"`
	TotalAmount   domain.Money      `json:"total_amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	CorrelationID string            `json:"correlation_id"`

	// Result fields populated as steps complete; compensation reads them
	// back rather than recomputing identifiers.
	ReservationID     string `json:"reservation_id,omitempty"`
	PaymentID         string `json:"payment_id,omitempty"`
	AuthorizationCode string `json:"authorization_code,omitempty"`
}

// Publisher is the saga's only external dependency: publish an
// integration event onto a topic, partitioned by the event's aggregate id
// the way the bus publisher partitions every message.
type Publisher interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
}

// integrationEvent builds the domain.Event envelope for a saga-published
// integration event. These never pass through the event store, so Version
// is left at zero; EventVersion is fixed at 1 since the saga only ever
// emits the current shape of these payloads.
func integrationEvent(aggregateID, aggregateType, eventType string, payload interface{}, metadata domain.Metadata) domain.Event {
	return domain.Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Type:          eventType,
		EventVersion:  1,
		Timestamp:     time.Now(),
		Metadata:      metadata,
		Data:          payload,
	}
}

// OrderConfirmer applies the confirm_order step's effect onto the actual
// order aggregate, keeping the saga package itself storage-agnostic.
type OrderConfirmer interface {
	Confirm(ctx context.Context, orderID string) error
	Cancel(ctx context.Context, orderID, reason string) error
}

const (
	inventoryTopic = "inventory-events"
	paymentTopic   = "payment-events"
)

// Definition builds the OrderProcessingSaga's three-step definition,
// wired against publisher for integration events and confirmer for the
// order aggregate's own state transition.
func Definition(publisher Publisher, confirmer OrderConfirmer) saga.Definition {
	return saga.Definition{
		SagaType:   SagaType,
		StepNames:  []string{stepReserveInventory, stepAuthorizePayment, stepConfirmOrder},
		MaxRetries: maxStepRetries,
		Executors: map[string]saga.StepExecutor{
			stepReserveInventory: &reserveInventoryStep{publisher: publisher},
			stepAuthorizePayment: &authorizePaymentStep{publisher: publisher},
			stepConfirmOrder:     &confirmOrderStep{publisher: publisher, confirmer: confirmer},
		},
		OnCompensated: func(ctx context.Context, instance *saga.Instance) error {
			data, err := parseData(instance.Data)
			if err != nil {
				return err
			}
			if err := confirmer.Cancel(ctx, data.OrderID, "saga compensation: order processing failed"); err != nil {
				return apperr.Domain("failed to cancel order during saga compensation", err)
			}
			return nil
		},
	}
}

func parseData(raw json.RawMessage) (Data, error) {
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return Data{}, apperr.Serialization("failed to parse order saga data", err)
	}
	return data, nil
}

func marshalResult(v interface{}) (json.RawMessage, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Serialization("failed to marshal saga step result", err)
	}
	return out, nil
}

// ----------------------------------------------------------------------
// Step 1: Reserve Inventory
// ----------------------------------------------------------------------

type reserveInventoryStep struct {
	publisher Publisher
}

func (s *reserveInventoryStep) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	data, err := parseData(raw)
	if err != nil {
		return nil, err
	}

	reservationID := uuid.New().String()
	event := domain.InventoryReservedEvent{
		ReservationID: reservationID,
		OrderID:       data.OrderID,
		Items:         data.Items,
		ReservedAt:    time.Now(),
	}

	metadata := domain.Metadata{CorrelationID: data.CorrelationID}
	envelope := integrationEvent(data.OrderID, "inventory", domain.InventoryReserved, event, metadata)
	if err := s.publisher.Publish(ctx, inventoryTopic, envelope); err != nil {
		return nil, apperr.Bus("failed to publish inventory reservation", err)
	}

	log.Info().Str("order_id", data.OrderID).Str("reservation_id", reservationID).Msg("inventory reserved")

	return marshalResult(map[string]interface{}{
		"reservation_id": reservationID,
		"items_reserved": len(data.Items),
	})
}

func (s *reserveInventoryStep) Compensate(ctx context.Context, raw json.RawMessage) error {
	data, err := parseData(raw)
	if err != nil {
		return err
	}

	reservationID := data.ReservationID
	if reservationID == "" {
		reservationID = uuid.New().String()
	}

	event := domain.InventoryReleasedEvent{
		ReservationID: reservationID,
		OrderID:       data.OrderID,
		Items:         data.Items,
		ReleasedAt:    time.Now(),
		Reason:        "saga compensation: order processing failed",
	}

	metadata := domain.Metadata{CorrelationID: data.CorrelationID}
	envelope := integrationEvent(data.OrderID, "inventory", domain.InventoryReleased, event, metadata)
	if err := s.publisher.Publish(ctx, inventoryTopic, envelope); err != nil {
		return apperr.Bus("failed to publish inventory release", err)
	}

	log.Info().Str("order_id", data.OrderID).Str("reservation_id", reservationID).Msg("inventory released")
	return nil
}

// ----------------------------------------------------------------------
// Step 2: Authorize Payment
// ----------------------------------------------------------------------

type authorizePaymentStep struct {
	publisher Publisher
}

func (s *authorizePaymentStep) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	data, err := parseData(raw)
	if err != nil {
		return nil, err
	}

	paymentID := uuid.New().String()
	authCode := "AUTH-" + uuid.New().String()

	event := domain.PaymentAuthorizedEvent{
		PaymentID:         paymentID,
		OrderID:           data.OrderID,
		Amount:            data.TotalAmount,
		Currency:          data.Currency,
		PaymentMethod:     data.PaymentMethod,
		AuthorizationCode: authCode,
		AuthorizedAt:      time.Now(),
	}

	metadata := domain.Metadata{CorrelationID: data.CorrelationID}
	envelope := integrationEvent(data.OrderID, "payment", domain.PaymentAuthorized, event, metadata)
	if err := s.publisher.Publish(ctx, paymentTopic, envelope); err != nil {
		return nil, apperr.Bus("failed to publish payment authorization", err)
	}

	log.Info().Str("order_id", data.OrderID).Str("payment_id", paymentID).Msg("payment authorized")

	return marshalResult(map[string]interface{}{
		"payment_id":         paymentID,
		"authorization_code": authCode,
	})
}

func (s *authorizePaymentStep) Compensate(ctx context.Context, raw json.RawMessage) error {
	data, err := parseData(raw)
	if err != nil {
		return err
	}

	paymentID := data.PaymentID
	if paymentID == "" {
		paymentID = uuid.New().String()
	}

	event := domain.PaymentVoidedEvent{
		PaymentID: paymentID,
		OrderID:   data.OrderID,
		Amount:    data.TotalAmount,
		Currency:  data.Currency,
		Reason:    "saga compensation: order processing failed",
		VoidedAt:  time.Now(),
	}

	metadata := domain.Metadata{CorrelationID: data.CorrelationID}
	envelope := integrationEvent(data.OrderID, "payment", domain.PaymentVoided, event, metadata)
	if err := s.publisher.Publish(ctx, paymentTopic, envelope); err != nil {
		return apperr.Bus("failed to publish payment void", err)
	}

	log.Info().Str("order_id", data.OrderID).Str("payment_id", paymentID).Msg("payment authorization voided")
	return nil
}

// ----------------------------------------------------------------------
// Step 3: Confirm Order
// ----------------------------------------------------------------------

type confirmOrderStep struct {
	publisher Publisher
	confirmer OrderConfirmer
}

func (s *confirmOrderStep) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	data, err := parseData(raw)
	if err != nil {
		return nil, err
	}

	if err := s.confirmer.Confirm(ctx, data.OrderID); err != nil {
		return nil, apperr.Domain("failed to confirm order", err)
	}

	log.Info().Str("order_id", data.OrderID).Msg("order confirmed")

	return marshalResult(map[string]interface{}{
		"order_id":  data.OrderID,
		"confirmed": true,
	})
}

// Compensate has nothing of its own to undo: confirming an order has no
// side effect outside the order aggregate itself, and the saga's
// OnCompensated hook is what cancels that aggregate once compensation
// finishes, whether or not this step ever ran. This step only reaches
// here if a step were ever added after confirm_order.
func (s *confirmOrderStep) Compensate(ctx context.Context, raw json.RawMessage) error {
	return nil
}
