package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"autoflow/internal/models"
	"autoflow/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRules []models.AutomationRule

func (r staticRules) ActiveRules(ctx context.Context) ([]models.AutomationRule, error) {
	return r, nil
}

type failingStore struct{ store.Store }

func (failingStore) Append(ctx context.Context, rec *models.ExecutionRecord) error {
	return errors.New("disk full")
}

type countingRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingRecorder) RecordExecution(ctx context.Context, id string, success bool, elapsedMs int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[id]++
	return nil
}

var tickNow = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func schedulerRules() staticRules {
	return staticRules{
		{
			ID:       "auto_daily",
			TenantID: "tenant_1",
			Enabled:  true,
			Trigger:  models.TriggerSpec{Type: models.TriggerSchedule, Schedule: "0 9 * * *"},
			Action:   models.ActionSpec{Type: models.ActionGenerateDraft},
		},
		{
			ID:       "auto_threshold",
			TenantID: "tenant_1",
			Enabled:  true,
			Trigger:  models.TriggerSpec{Type: models.TriggerThreshold, Metric: "inventory", Operator: "<", Threshold: 3},
			Action:   models.ActionSpec{Type: models.ActionUpdateStore},
		},
		{
			ID:       "auto_orders_1",
			TenantID: "tenant_1",
			Enabled:  true,
			Trigger:  models.TriggerSpec{Type: models.TriggerEvent, EventType: "order_created"},
			Action:   models.ActionSpec{Type: models.ActionUpdateStore},
		},
		{
			ID:       "auto_orders_2",
			TenantID: "tenant_1",
			Enabled:  true,
			Trigger:  models.TriggerSpec{Type: models.TriggerEvent, EventType: "order_created"},
			Action:   models.ActionSpec{Type: models.ActionUpdateStore},
		},
	}
}

func newTestScheduler(rules RuleSource, st store.Store, signals SignalProvider, counters RunRecorder) *Scheduler {
	return NewScheduler(SchedulerDeps{
		Rules:    rules,
		Engine:   newTestEngine(),
		Store:    st,
		Signals:  signals,
		Counters: counters,
		Hub:      NewRecordHub(quietLogger()),
	}, SchedulerConfig{Workers: 2}, quietLogger()).WithClock(func() time.Time { return tickNow })
}

func TestScheduler_TickOneRecordPerRule(t *testing.T) {
	events := NewMemoryEventSource(10)
	signals := NewMemorySignals(events)
	signals.SetMetrics("tenant_1", map[string]interface{}{"inventory": 10})
	require.NoError(t, events.Publish(context.Background(), "tenant_1", models.Event{Type: "order_created"}))
	st := store.NewMemoryStore()
	counters := &countingRecorder{}

	s := newTestScheduler(schedulerRules(), st, signals, counters)
	records := s.Tick(context.Background())
	require.Len(t, records, 4)

	byID := map[string]*models.ExecutionRecord{}
	for _, r := range records {
		byID[r.AutomationID] = r
	}
	assert.Equal(t, models.ResultSuccess, byID["auto_daily"].Result)
	assert.Equal(t, models.ResultSkipped, byID["auto_threshold"].Result)
	// 同一租户的规则共享事件批次
	assert.Equal(t, models.ResultSuccess, byID["auto_orders_1"].Result)
	assert.Equal(t, models.ResultSuccess, byID["auto_orders_2"].Result)

	for id := range byID {
		recent, err := st.Recent(context.Background(), id, 10)
		require.NoError(t, err)
		assert.Len(t, recent, 1, id)
	}

	// 计数器只在触发时更新
	assert.Equal(t, 1, counters.calls["auto_daily"])
	assert.Zero(t, counters.calls["auto_threshold"])

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Ticks)
	assert.Equal(t, int64(4), stats.Evaluations)
	assert.Equal(t, int64(3), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Zero(t, stats.ActiveWorkers)
	assert.Equal(t, tickNow, stats.LastTickAt)

	// 下一轮事件已被消费
	records = s.Tick(context.Background())
	for _, r := range records {
		if r.AutomationID == "auto_orders_1" {
			assert.Equal(t, models.ResultSkipped, r.Result)
		}
	}
}

func TestScheduler_AppendFailureIsCounted(t *testing.T) {
	s := newTestScheduler(schedulerRules()[:1], failingStore{store.NewMemoryStore()}, nil, nil)

	records := s.Tick(context.Background())
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), s.Stats().AppendErrors)
}

func TestScheduler_NoRules(t *testing.T) {
	s := newTestScheduler(staticRules{}, store.NewMemoryStore(), nil, nil)
	assert.Empty(t, s.Tick(context.Background()))
	assert.Equal(t, int64(1), s.Stats().Ticks)
}

func TestScheduler_RunDiagnostics(t *testing.T) {
	st := store.NewMemoryStore()
	rules := schedulerRules()
	s := newTestScheduler(rules, st, nil, nil)
	s.Tick(context.Background())

	reports := s.RunDiagnostics(context.Background())
	require.Len(t, reports, len(rules))
	for _, r := range reports {
		// 每条规则缺少条件配置
		codes := make([]string, 0, len(r.Errors))
		for _, issue := range r.Errors {
			codes = append(codes, issue.Code)
		}
		assert.Contains(t, codes, "MISSING_CONFIG", r.AutomationID)
	}
	assert.Equal(t, int64(1), s.Stats().DiagnosticsRuns)
}

func TestScheduler_DiagnosticsUseRuleConflicts(t *testing.T) {
	svc := newTestRuleService(t)
	ctx := context.Background()
	a, err := svc.CreateRule(ctx, ruleRequest("tenant_1", "a", models.ActionGenerateDraft))
	require.NoError(t, err)
	b, err := svc.CreateRule(ctx, ruleRequest("tenant_1", "b", models.ActionGenerateDraft))
	require.NoError(t, err)

	s := newTestScheduler(svc, store.NewMemoryStore(), nil, svc)
	reports := s.RunDiagnostics(ctx)
	require.Len(t, reports, 2)
	for _, r := range reports {
		var conflict *models.AutomationIssue
		for i := range r.Warnings {
			if r.Warnings[i].Code == "POTENTIAL_CONFLICT" {
				conflict = &r.Warnings[i]
			}
		}
		require.NotNil(t, conflict, r.AutomationID)
		other := b.ID
		if r.AutomationID == b.ID {
			other = a.ID
		}
		assert.Equal(t, []string{other}, conflict.Details["conflicting_automations"])
	}
}

func TestScheduler_AdvisorJob(t *testing.T) {
	now := tickNow
	advisor := newTestAdvisor(t, &now)
	signals := NewMemorySignals(nil)
	signals.SetMetrics("tenant_1", lowCatalogSignals())

	s := NewScheduler(SchedulerDeps{
		Rules:   staticRules{},
		Engine:  newTestEngine(),
		Store:   store.NewMemoryStore(),
		Signals: signals,
		Advisor: advisor,
	}, SchedulerConfig{}, quietLogger()).WithClock(func() time.Time { return now })

	s.runAdvisor(context.Background())
	recs, err := advisor.List(context.Background(), "tenant_1", models.StatusPending)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestScheduler_StartStop(t *testing.T) {
	st := store.NewMemoryStore()
	s := NewScheduler(SchedulerDeps{
		Rules:  schedulerRules()[:1],
		Engine: newTestEngine(),
		Store:  st,
	}, SchedulerConfig{TickInterval: 10 * time.Millisecond, Workers: 1}, quietLogger())

	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Stats().Ticks >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	ticks := s.Stats().Ticks
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ticks, s.Stats().Ticks)
}
