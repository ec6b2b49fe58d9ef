package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"autoflow/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory record log for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.ExecutionRecord
	byID    map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]int{}}
}

func (s *MemoryStore) Append(ctx context.Context, rec *models.ExecutionRecord) error {
	if rec == nil {
		return fmt.Errorf("append: nil record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, dup := s.byID[rec.ID]; dup {
		return fmt.Errorf("append record: duplicate id %s", rec.ID)
	}
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, automationID string, n int) ([]models.ExecutionRecord, error) {
	return s.List(ctx, Query{AutomationID: automationID, Limit: n})
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec := s.records[i]
	return &rec, nil
}

func (s *MemoryStore) List(ctx context.Context, q Query) ([]models.ExecutionRecord, error) {
	var ids map[string]bool
	if len(q.AutomationIDs) > 0 {
		ids = make(map[string]bool, len(q.AutomationIDs))
		for _, id := range q.AutomationIDs {
			ids[id] = true
		}
	}
	s.mu.RLock()
	out := make([]models.ExecutionRecord, 0)
	for _, r := range s.records {
		if q.TenantID != "" && r.TenantID != q.TenantID {
			continue
		}
		if q.AutomationID != "" && r.AutomationID != q.AutomationID {
			continue
		}
		if ids != nil && !ids[r.AutomationID] {
			continue
		}
		if q.Result != "" && r.Result != q.Result {
			continue
		}
		if !q.Since.IsZero() && r.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
