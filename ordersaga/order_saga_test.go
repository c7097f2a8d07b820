package ordersaga

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/orders-platform/order-processing/domain"
	"github.com/orders-platform/order-processing/saga"
)

// memoryRepository is a minimal in-memory saga.Repository, enough to drive
// a Coordinator through Start/Compensate without a database.
type memoryRepository struct {
	instances map[uuid.UUID]*saga.Instance
	processed map[string]bool
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{instances: map[uuid.UUID]*saga.Instance{}, processed: map[string]bool{}}
}

func (r *memoryRepository) Save(ctx context.Context, instance *saga.Instance) error {
	clone := *instance
	r.instances[instance.SagaID] = &clone
	return nil
}

func (r *memoryRepository) Load(ctx context.Context, sagaID uuid.UUID) (*saga.Instance, error) {
	instance, ok := r.instances[sagaID]
	if !ok {
		return nil, errors.New("saga instance not found")
	}
	clone := *instance
	return &clone, nil
}

func (r *memoryRepository) FindByStatus(ctx context.Context, status saga.Status) ([]*saga.Instance, error) {
	var out []*saga.Instance
	for _, instance := range r.instances {
		if instance.Status == status {
			out = append(out, instance)
		}
	}
	return out, nil
}

func (r *memoryRepository) HasProcessed(ctx context.Context, sagaID uuid.UUID, eventID string) (bool, error) {
	return r.processed[sagaID.String()+":"+eventID], nil
}

func (r *memoryRepository) MarkProcessed(ctx context.Context, sagaID uuid.UUID, eventID, eventType string) error {
	r.processed[sagaID.String()+":"+eventID] = true
	return nil
}

// fakePublisher fails Publish for any topic in failTopics, letting a test
// force a specific step's Execute to fail without touching a real bus.
type fakePublisher struct {
	failTopics map[string]bool
	published  []string
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, event domain.Event) error {
	p.published = append(p.published, topic)
	if p.failTopics[topic] {
		return errPublishFailed
	}
	return nil
}

var errPublishFailed = errors.New("publish failed")

// fakeConfirmer records whether the order was confirmed or cancelled,
// standing in for the order aggregate's own command pipeline.
type fakeConfirmer struct {
	confirmedOrderID string
	cancelledOrderID string
	cancelReason     string
}

func (c *fakeConfirmer) Confirm(ctx context.Context, orderID string) error {
	c.confirmedOrderID = orderID
	return nil
}

func (c *fakeConfirmer) Cancel(ctx context.Context, orderID, reason string) error {
	c.cancelledOrderID = orderID
	c.cancelReason = reason
	return nil
}

func testData(orderID string) json.RawMessage {
	data := Data{
		OrderID:       orderID,
		CustomerID:    "customer-1",
		Items:         []domain.OrderItem{{ProductID: "sku-1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		TotalAmount:   decimal.NewFromInt(10),
		Currency:      "USD",
		PaymentMethod: "default",
	}
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	return raw
}

// TestOnCompensated_CancelsOrder_WhenLaterStepNeverRan reproduces a saga
// that fails its second step and rolls back: the third step
// (confirm_order) never runs and so never appears in CompensationSteps,
// but the order itself must still end up cancelled.
func TestOnCompensated_CancelsOrder_WhenLaterStepNeverRan(t *testing.T) {
	publisher := &fakePublisher{failTopics: map[string]bool{paymentTopic: true}}
	confirmer := &fakeConfirmer{}

	def := Definition(publisher, confirmer)
	def.MaxRetries = 0 // fail straight into compensation on the first attempt

	repo := newMemoryRepository()
	coordinator := saga.NewCoordinator(repo)

	orderID := "order-1"
	sagaID := uuid.New()
	instance, err := coordinator.Start(context.Background(), sagaID, def, testData(orderID))
	require.NoError(t, err)

	require.Equal(t, saga.Compensated, instance.Status)
	require.False(t, instance.Steps[2].IsCompleted(), "confirm_order step must never have run")
	require.Equal(t, orderID, confirmer.cancelledOrderID)
	require.Empty(t, confirmer.confirmedOrderID)
}

// TestOnCompensated_NotInvoked_WhenSagaCompletes guards against the hook
// firing on the ordinary success path.
func TestOnCompensated_NotInvoked_WhenSagaCompletes(t *testing.T) {
	publisher := &fakePublisher{}
	confirmer := &fakeConfirmer{}

	def := Definition(publisher, confirmer)

	repo := newMemoryRepository()
	coordinator := saga.NewCoordinator(repo)

	orderID := "order-2"
	instance, err := coordinator.Start(context.Background(), uuid.New(), def, testData(orderID))
	require.NoError(t, err)

	require.True(t, instance.IsCompleted())
	require.Equal(t, orderID, confirmer.confirmedOrderID)
	require.Empty(t, confirmer.cancelledOrderID)
}
