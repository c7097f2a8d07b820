package projections

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/models"
)

// OrderViewRepository answers the query adapter's reads directly against
// the projected orders view.
type OrderViewRepository struct {
	db *gorm.DB
}

// NewOrderViewRepository creates a repository over db.
func NewOrderViewRepository(db *gorm.DB) *OrderViewRepository {
	return &OrderViewRepository{db: db}
}

// GetByOrderID returns the view for orderID, or *apperr.Error{Kind:
// NotFound} if there is none yet.
func (r *OrderViewRepository) GetByOrderID(ctx context.Context, orderID string) (*models.OrderView, error) {
	var view models.OrderView
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&view).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("order not found", err)
	}
	if err != nil {
		return nil, apperr.Storage("failed to load order view", err)
	}
	return &view, nil
}

// GetByOrderNumber returns the view for the human-readable order number.
func (r *OrderViewRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.OrderView, error) {
	var view models.OrderView
	err := r.db.WithContext(ctx).Where("order_number = ?", orderNumber).First(&view).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("order not found", err)
	}
	if err != nil {
		return nil, apperr.Storage("failed to load order view", err)
	}
	return &view, nil
}

// ListByCustomer lists a customer's orders, newest first
// GET /customers/{id}/orders?limit&offset.
func (r *OrderViewRepository) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]models.OrderView, error) {
	var views []models.OrderView
	q := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC")
	q = applyPage(q, limit, offset)

	if err := q.Find(&views).Error; err != nil {
		return nil, apperr.Storage("failed to list orders by customer", err)
	}
	return views, nil
}

// ListByStatus lists orders in status, newest first
// GET /orders/status/{status}?limit&offset.
func (r *OrderViewRepository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.OrderView, error) {
	var views []models.OrderView
	q := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC")
	q = applyPage(q, limit, offset)

	if err := q.Find(&views).Error; err != nil {
		return nil, apperr.Storage("failed to list orders by status", err)
	}
	return views, nil
}

func applyPage(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	return q.Limit(limit).Offset(offset)
}
