package eventstore

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/orders-platform/order-processing/apperr"
	"github.com/orders-platform/order-processing/models"
)

// SnapshotStore persists advisory per-aggregate snapshots. A snapshot is
// never treated as authoritative: Append always verifies expected_version
// against the live event stream, never against a snapshot's version.
type SnapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore creates a new GORM-backed snapshot store.
func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save upserts the snapshot for aggregateID at the given version.
func (s *SnapshotStore) Save(ctx context.Context, aggregateID string, version int, state interface{}) error {
	data, err := json.Marshal(state)
	if err != nil {
		return apperr.Serialization("failed to marshal snapshot state", err)
	}

	snapshot := models.Snapshot{
		AggregateID: aggregateID,
		Version:     version,
		State:       data,
	}

	return s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Assign(snapshot).
		FirstOrCreate(&models.Snapshot{}).Error
}

// Load fetches the most recent snapshot for aggregateID, if any, and
// unmarshals its state into out. Returns version 0 and no error if there
// is no snapshot yet.
func (s *SnapshotStore) Load(ctx context.Context, aggregateID string, out interface{}) (int, error) {
	var snapshot models.Snapshot
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		First(&snapshot).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Storage("failed to load snapshot", err)
	}

	if err := json.Unmarshal(snapshot.State, out); err != nil {
		return 0, apperr.Serialization("failed to unmarshal snapshot state", err)
	}

	return snapshot.Version, nil
}
