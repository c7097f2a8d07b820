package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/models"
)

// Repository persists saga instances.
type Repository interface {
	Save(ctx context.Context, instance *Instance) error
	Load(ctx context.Context, sagaID uuid.UUID) (*Instance, error)
	FindByStatus(ctx context.Context, status Status) ([]*Instance, error)
	// HasProcessed and MarkProcessed record which bus events have already
	// been handled for a saga (the SagaEventLog table, unique on event id
	// via idx_saga_event_log_unique), so the saga worker can skip a
	// redelivered trigger message instead of acting on it twice.
	HasProcessed(ctx context.Context, sagaID uuid.UUID, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, sagaID uuid.UUID, eventID, eventType string) error
}

// GormRepository is the Postgres-backed Repository implementation.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM-backed saga repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Save(ctx context.Context, instance *Instance) error {
	stepsData, err := json.Marshal(instance.Steps)
	if err != nil {
		return apperr.Serialization("failed to marshal saga steps", err)
	}

	row := models.SagaInstance{
		SagaID:      instance.SagaID.String(),
		SagaType:    instance.SagaType,
		CurrentStep: instance.CurrentStep,
		Steps:       stepsData,
		Data:        instance.Data,
		Status:      string(instance.Status),
		CreatedAt:   instance.CreatedAt,
		UpdatedAt:   instance.UpdatedAt,
	}

	err = r.db.WithContext(ctx).
		Where("saga_id = ?", row.SagaID).
		Assign(row).
		FirstOrCreate(&models.SagaInstance{}).Error
	if err != nil {
		return apperr.Storage("failed to save saga instance", err)
	}
	return nil
}

func (r *GormRepository) Load(ctx context.Context, sagaID uuid.UUID) (*Instance, error) {
	var row models.SagaInstance
	err := r.db.WithContext(ctx).Where("saga_id = ?", sagaID.String()).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFound("saga instance not found", err)
	}
	if err != nil {
		return nil, apperr.Storage("failed to load saga instance", err)
	}

	return rowToInstance(row)
}

func (r *GormRepository) FindByStatus(ctx context.Context, status Status) ([]*Instance, error) {
	var rows []models.SagaInstance
	if err := r.db.WithContext(ctx).Where("status = ?", string(status)).Find(&rows).Error; err != nil {
		return nil, apperr.Storage("failed to find saga instances by status", err)
	}

	instances := make([]*Instance, 0, len(rows))
	for _, row := range rows {
		instance, err := rowToInstance(row)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func (r *GormRepository) HasProcessed(ctx context.Context, sagaID uuid.UUID, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SagaEventLog{}).
		Where("saga_id = ? AND event_id = ?", sagaID.String(), eventID).
		Count(&count).Error
	if err != nil {
		return false, apperr.Storage("failed to check saga event log", err)
	}
	return count > 0, nil
}

func (r *GormRepository) MarkProcessed(ctx context.Context, sagaID uuid.UUID, eventID, eventType string) error {
	row := models.SagaEventLog{
		SagaID:      sagaID.String(),
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return apperr.Storage("failed to mark saga event as processed", err)
	}
	return nil
}

func rowToInstance(row models.SagaInstance) (*Instance, error) {
	sagaID, err := uuid.Parse(row.SagaID)
	if err != nil {
		return nil, apperr.Serialization("invalid saga id in storage", err)
	}

	var steps []Step
	if err := json.Unmarshal(row.Steps, &steps); err != nil {
		return nil, apperr.Serialization("failed to unmarshal saga steps", err)
	}

	return &Instance{
		SagaID:      sagaID,
		SagaType:    row.SagaType,
		CurrentStep: row.CurrentStep,
		Steps:       steps,
		Data:        row.Data,
		Status:      Status(row.Status),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}
