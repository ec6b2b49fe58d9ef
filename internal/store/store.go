package store

import (
	"context"
	"errors"
	"time"

	"autoflow/internal/models"
)

var ErrNotFound = errors.New("execution record not found")

// Query filters a record listing. Zero fields do not filter.
type Query struct {
	TenantID      string
	AutomationID  string
	AutomationIDs []string
	Result        models.EventResult
	Since         time.Time
	Limit         int
}

// Store is the append-only execution record log. Records are never updated
// or deleted through it.
type Store interface {
	Append(ctx context.Context, rec *models.ExecutionRecord) error
	// Recent returns up to n records for the automation, newest first. It
	// returns an empty, non-nil slice when there are none.
	Recent(ctx context.Context, automationID string, n int) ([]models.ExecutionRecord, error)
	Get(ctx context.Context, id string) (*models.ExecutionRecord, error)
	// List returns matching records, newest first.
	List(ctx context.Context, q Query) ([]models.ExecutionRecord, error)
}
