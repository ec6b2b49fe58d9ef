package services

import (
	"context"
	"sync"
	"time"

	"autoflow/internal/metrics"
	"autoflow/internal/models"
)

// behaviorRetention bounds how long observed behaviours are kept.
const behaviorRetention = 7 * 24 * time.Hour

// SignalProvider assembles the snapshot a tenant's rules see in one tick.
type SignalProvider interface {
	Snapshot(ctx context.Context, tenantID string, now time.Time) (models.Snapshot, error)
}

// MemorySignals keeps the latest metrics, data and behaviours per tenant
// and pulls events from an EventSource on every snapshot.
type MemorySignals struct {
	mu        sync.RWMutex
	events    EventSource
	metrics   map[string]map[string]interface{}
	data      map[string]map[string]interface{}
	behaviors map[string][]models.BehaviorMatch
}

func NewMemorySignals(events EventSource) *MemorySignals {
	return &MemorySignals{
		events:    events,
		metrics:   map[string]map[string]interface{}{},
		data:      map[string]map[string]interface{}{},
		behaviors: map[string][]models.BehaviorMatch{},
	}
}

// SetMetrics merges metric values for a tenant.
func (s *MemorySignals) SetMetrics(tenantID string, values map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics[tenantID]
	if m == nil {
		m = map[string]interface{}{}
		s.metrics[tenantID] = m
	}
	for k, v := range values {
		m[k] = v
	}
}

// SetData merges condition data for a tenant.
func (s *MemorySignals) SetData(tenantID string, values map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.data[tenantID]
	if m == nil {
		m = map[string]interface{}{}
		s.data[tenantID] = m
	}
	for k, v := range values {
		m[k] = v
	}
}

// ObserveBehavior records a behavioural match.
func (s *MemorySignals) ObserveBehavior(tenantID string, b models.BehaviorMatch) {
	if b.MatchedAt.IsZero() {
		b.MatchedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behaviors[tenantID] = append(s.behaviors[tenantID], b)
}

// Signals returns a tenant's merged metrics and data, as the advisor reads
// them.
func (s *MemorySignals) Signals(tenantID string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]interface{}{}
	for k, v := range s.metrics[tenantID] {
		out[k] = v
	}
	for k, v := range s.data[tenantID] {
		out[k] = v
	}
	return out
}

// Tenants lists every tenant with recorded signals.
func (s *MemorySignals) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, m := range []map[string]map[string]interface{}{s.metrics, s.data} {
		for t := range m {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func (s *MemorySignals) Snapshot(ctx context.Context, tenantID string, now time.Time) (models.Snapshot, error) {
	snap := models.Snapshot{
		Metrics: map[string]interface{}{},
		Data:    map[string]interface{}{},
	}
	if s.events != nil {
		events, err := s.events.Drain(ctx, tenantID)
		if err != nil {
			// 事件源故障时仍然评估其余触发器
			metrics.IncEventDrop("source")
		} else {
			snap.Events = events
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.metrics[tenantID] {
		snap.Metrics[k] = v
	}
	for k, v := range s.data[tenantID] {
		snap.Data[k] = v
	}
	cutoff := now.Add(-behaviorRetention)
	kept := s.behaviors[tenantID][:0]
	for _, b := range s.behaviors[tenantID] {
		if b.MatchedAt.After(cutoff) {
			kept = append(kept, b)
		}
	}
	s.behaviors[tenantID] = kept
	snap.Behaviors = append([]models.BehaviorMatch(nil), kept...)
	return snap, nil
}
