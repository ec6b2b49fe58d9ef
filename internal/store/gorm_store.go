package store

import (
	"context"
	"errors"
	"fmt"

	"autoflow/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormStore keeps execution records in a SQL table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Append(ctx context.Context, rec *models.ExecutionRecord) error {
	if rec == nil {
		return fmt.Errorf("append: nil record")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func (s *GormStore) Recent(ctx context.Context, automationID string, n int) ([]models.ExecutionRecord, error) {
	out := make([]models.ExecutionRecord, 0)
	q := s.db.WithContext(ctx).
		Where("automation_id = ?", automationID).
		Order("timestamp DESC")
	if n > 0 {
		q = q.Limit(n)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("recent records: %w", err)
	}
	return out, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	var rec models.ExecutionRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &rec, nil
}

func (s *GormStore) List(ctx context.Context, q Query) ([]models.ExecutionRecord, error) {
	out := make([]models.ExecutionRecord, 0)
	tx := s.db.WithContext(ctx).Model(&models.ExecutionRecord{})
	if q.TenantID != "" {
		tx = tx.Where("tenant_id = ?", q.TenantID)
	}
	if q.AutomationID != "" {
		tx = tx.Where("automation_id = ?", q.AutomationID)
	}
	if len(q.AutomationIDs) > 0 {
		tx = tx.Where("automation_id IN ?", q.AutomationIDs)
	}
	if q.Result != "" {
		tx = tx.Where("result = ?", q.Result)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Since)
	}
	tx = tx.Order("timestamp DESC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if err := tx.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}
