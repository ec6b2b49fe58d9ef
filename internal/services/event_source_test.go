package services

import (
	"context"
	"testing"
	"time"

	"autoflow/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEventSource_DrainBatches(t *testing.T) {
	src := NewMemoryEventSource(2)
	ctx := context.Background()
	for _, typ := range []string{"a", "b", "c"} {
		require.NoError(t, src.Publish(ctx, "tenant_1", models.Event{Type: typ}))
	}
	require.NoError(t, src.Publish(ctx, "tenant_2", models.Event{Type: "x"}))

	first, err := src.Drain(ctx, "tenant_1")
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].Type)
	assert.False(t, first[0].Timestamp.IsZero())

	second, err := src.Drain(ctx, "tenant_1")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "c", second[0].Type)

	empty, err := src.Drain(ctx, "tenant_1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	other, err := src.Drain(ctx, "tenant_2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisEventSource_UnavailableReturnsError(t *testing.T) {
	client := unreachableRedis()
	defer client.Close()
	src := NewRedisEventSource(client, "", 10, quietLogger())

	assert.Equal(t, "autoflow:events:tenant_1", src.key("tenant_1"))
	_, err := src.Drain(context.Background(), "tenant_1")
	assert.Error(t, err)
	assert.Error(t, src.Publish(context.Background(), "tenant_1", models.Event{Type: "a"}))
}

func TestMemorySignals_Snapshot(t *testing.T) {
	events := NewMemoryEventSource(10)
	signals := NewMemorySignals(events)
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	signals.SetMetrics("tenant_1", map[string]interface{}{"inventory": 4})
	signals.SetData("tenant_1", map[string]interface{}{"store_status": "active"})
	signals.ObserveBehavior("tenant_1", models.BehaviorMatch{Type: "cart_abandon", MatchedAt: now.Add(-time.Hour)})
	signals.ObserveBehavior("tenant_1", models.BehaviorMatch{Type: "cart_abandon", MatchedAt: now.Add(-10 * 24 * time.Hour)})
	require.NoError(t, events.Publish(ctx, "tenant_1", models.Event{Type: "order_created"}))

	snap, err := signals.Snapshot(ctx, "tenant_1", now)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Metrics["inventory"])
	assert.Equal(t, "active", snap.Data["store_status"])
	require.Len(t, snap.Events, 1)
	// 超过保留期的行为被丢弃
	assert.Len(t, snap.Behaviors, 1)

	// 事件只被取出一次
	snap, err = signals.Snapshot(ctx, "tenant_1", now)
	require.NoError(t, err)
	assert.Empty(t, snap.Events)

	assert.Equal(t, map[string]interface{}{"inventory": 4, "store_status": "active"}, signals.Signals("tenant_1"))
	assert.Equal(t, []string{"tenant_1"}, signals.Tenants())
}

func TestMemorySignals_EventSourceFailureStillSnapshots(t *testing.T) {
	client := unreachableRedis()
	defer client.Close()
	signals := NewMemorySignals(NewRedisEventSource(client, "", 10, quietLogger()))
	signals.SetMetrics("tenant_1", map[string]interface{}{"inventory": 4})

	snap, err := signals.Snapshot(context.Background(), "tenant_1", time.Now())
	require.NoError(t, err)
	assert.Empty(t, snap.Events)
	assert.Equal(t, 4, snap.Metrics["inventory"])
}
