package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"autoflow/internal/metrics"
	"autoflow/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultEventBatch = 500

// EventSource delivers the events a tenant received since the last drain.
type EventSource interface {
	Drain(ctx context.Context, tenantID string) ([]models.Event, error)
}

// EventPublisher accepts events for later draining.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID string, evt models.Event) error
}

// MemoryEventSource 内存事件队列（测试与单机运行）
type MemoryEventSource struct {
	mu     sync.Mutex
	batch  int
	queues map[string][]models.Event
}

func NewMemoryEventSource(batch int) *MemoryEventSource {
	if batch <= 0 {
		batch = defaultEventBatch
	}
	return &MemoryEventSource{batch: batch, queues: make(map[string][]models.Event)}
}

func (s *MemoryEventSource) Publish(_ context.Context, tenantID string, evt models.Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[tenantID] = append(s.queues[tenantID], evt)
	return nil
}

// Drain returns up to one batch of the oldest queued events.
func (s *MemoryEventSource) Drain(_ context.Context, tenantID string) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.queues[tenantID]
	n := len(queue)
	if n > s.batch {
		n = s.batch
	}
	out := make([]models.Event, n)
	copy(out, queue[:n])
	if n == len(queue) {
		delete(s.queues, tenantID)
	} else {
		s.queues[tenantID] = queue[n:]
	}
	return out, nil
}

// RedisEventSource reads per-tenant event lists. Producers RPUSH JSON
// events onto "<prefix><tenant>"; each drain pops at most one batch.
type RedisEventSource struct {
	client redis.UniversalClient
	prefix string
	batch  int64
	logger *logrus.Logger
}

func NewRedisEventSource(client redis.UniversalClient, prefix string, batch int, logger *logrus.Logger) *RedisEventSource {
	if prefix == "" {
		prefix = "autoflow:events:"
	}
	if batch <= 0 {
		batch = defaultEventBatch
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisEventSource{client: client, prefix: prefix, batch: int64(batch), logger: logger}
}

func (s *RedisEventSource) Publish(ctx context.Context, tenantID string, evt models.Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.client.RPush(ctx, s.key(tenantID), payload).Err()
}

// Drain reads and removes the oldest batch atomically.
func (s *RedisEventSource) Drain(ctx context.Context, tenantID string) ([]models.Event, error) {
	key := s.key(tenantID)
	pipe := s.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, s.batch-1)
	pipe.LTrim(ctx, key, s.batch, -1)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		metrics.IncEventDrop("redis")
		return nil, fmt.Errorf("drain events: %w", err)
	}
	values, err := rangeCmd.Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("drain events: %w", err)
	}
	out := make([]models.Event, 0, len(values))
	for _, v := range values {
		var evt models.Event
		if err := json.Unmarshal([]byte(v), &evt); err != nil {
			metrics.IncEventDrop("redis")
			s.logger.WithField("tenant_id", tenantID).Warnf("events: dropping malformed event: %v", err)
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

func (s *RedisEventSource) key(tenantID string) string {
	return s.prefix + tenantID
}
