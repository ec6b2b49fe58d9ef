package services

import (
	"context"
	"testing"
	"time"

	"autoflow/internal/models"
	"autoflow/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var debugNow = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

type debuggerFixture struct {
	svc     *DebuggerService
	rules   *RuleService
	records *store.MemoryStore
}

func newDebuggerFixture(t *testing.T) *debuggerFixture {
	rules := newTestRuleService(t)
	records := store.NewMemoryStore()
	diag := NewDiagnostics(quietLogger()).WithClock(func() time.Time { return debugNow })
	svc := NewDebuggerService(records, rules, diag, quietLogger()).WithClock(func() time.Time { return debugNow })
	return &debuggerFixture{svc: svc, rules: rules, records: records}
}

func debugRecord(automationID string, age time.Duration, result models.EventResult, elapsedMs int64) *models.ExecutionRecord {
	rec := &models.ExecutionRecord{
		TenantID:     "tenant_1",
		AutomationID: automationID,
		Timestamp:    debugNow.Add(-age),
		TriggerType:  models.TriggerSchedule,
		TriggerFired: result != models.ResultSkipped,
		ConditionsEvaluated: []models.ConditionResult{
			{Condition: "count less_than 3", Passed: result != models.ResultSkipped, ActualValue: 1.0, Expected: 3.0},
		},
		ActionsTaken:    []interface{}{},
		Errors:          []string{},
		Warnings:        []string{},
		ExecutionTimeMs: elapsedMs,
		Result:          result,
	}
	if result == models.ResultSuccess {
		rec.ActionsTaken = []interface{}{map[string]interface{}{"action": "generate_draft"}}
	}
	return rec
}

func (f *debuggerFixture) append(t *testing.T, recs ...*models.ExecutionRecord) {
	for _, r := range recs {
		require.NoError(t, f.records.Append(context.Background(), r))
	}
}

func TestDebugger_ListLogs(t *testing.T) {
	f := newDebuggerFixture(t)
	f.append(t,
		debugRecord("auto_1", time.Hour, models.ResultSuccess, 10),
		debugRecord("auto_1", 2*time.Hour, models.ResultSkipped, 20),
		debugRecord("auto_1", 3*time.Hour, models.ResultFailed, 30),
		debugRecord("auto_1", 10*24*time.Hour, models.ResultSuccess, 40),
		debugRecord("auto_2", time.Hour, models.ResultSuccess, 5),
	)
	ctx := context.Background()

	listing, err := f.svc.ListLogs(ctx, "auto_1", LogQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, listing.TotalLogs)
	assert.Equal(t, LogSummary{TotalRuns: 3, Successful: 1, Skipped: 1, Failed: 1, AvgExecutionTimeMs: 20}, listing.Summary)
	// 最新的记录在前
	assert.True(t, listing.Logs[0].Action.Executed)

	listing, err = f.svc.ListLogs(ctx, "auto_1", LogQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, listing.Logs, 2)
	assert.Equal(t, 3, listing.Summary.TotalRuns)

	listing, err = f.svc.ListLogs(ctx, "auto_1", LogQuery{Days: 30, Result: models.ResultSuccess})
	require.NoError(t, err)
	assert.Equal(t, 2, listing.TotalLogs)

	_, err = f.svc.ListLogs(ctx, "auto_1", LogQuery{Result: "partial"})
	assert.Error(t, err)
}

func TestDebugger_ListLogsEmpty(t *testing.T) {
	f := newDebuggerFixture(t)

	listing, err := f.svc.ListLogs(context.Background(), "auto_none", LogQuery{})
	require.NoError(t, err)
	assert.NotNil(t, listing.Logs)
	assert.Zero(t, listing.Summary.TotalRuns)
	assert.Zero(t, listing.Summary.AvgExecutionTimeMs)
}

func TestDebugger_Latest(t *testing.T) {
	f := newDebuggerFixture(t)
	ctx := context.Background()

	_, err := f.svc.Latest(ctx, "auto_1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	old := debugRecord("auto_1", 2*time.Hour, models.ResultSkipped, 1)
	latest := debugRecord("auto_1", time.Minute, models.ResultSuccess, 1)
	f.append(t, old, latest)

	log, err := f.svc.Latest(ctx, "auto_1")
	require.NoError(t, err)
	assert.Equal(t, latest.ID, log.LogID)
}

func TestDebugger_GetFormats(t *testing.T) {
	f := newDebuggerFixture(t)
	rec := debugRecord("auto_1", time.Hour, models.ResultSkipped, 1)
	f.append(t, rec)
	ctx := context.Background()

	full, err := f.svc.Get(ctx, rec.ID, "full")
	require.NoError(t, err)
	assert.IsType(t, &models.ExecutionRecord{}, full)

	clean, err := f.svc.Get(ctx, rec.ID, "")
	require.NoError(t, err)
	assert.IsType(t, CleanLog{}, clean)

	minimal, err := f.svc.Get(ctx, rec.ID, "minimal")
	require.NoError(t, err)
	require.IsType(t, MinimalLog{}, minimal)
	assert.Equal(t, "Trigger did not fire", *minimal.(MinimalLog).Action.Reason)

	_, err = f.svc.Get(ctx, rec.ID, "xml")
	assert.Error(t, err)
	_, err = f.svc.Get(ctx, "missing", "full")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDebugger_CreateFromClean(t *testing.T) {
	f := newDebuggerFixture(t)
	ctx := context.Background()
	raw := []byte(`{
		"automation_id": "auto_ext",
		"trigger": {"type": "event", "fired": true, "timestamp": "2024-03-04T10:00:00Z"},
		"conditions": [{"id": 1, "passed": true, "value": 2}],
		"action": {"executed": true, "reason": null, "workflow_id": null},
		"metrics": {"execution_time_ms": 7}
	}`)

	rec, err := f.svc.CreateFromClean(ctx, "tenant_9", raw)
	require.NoError(t, err)
	assert.Equal(t, "tenant_9", rec.TenantID)
	// 未执行任何动作，提交的 executed 被忽略
	assert.Equal(t, models.ResultFailed, rec.Result)
	assert.Equal(t, "Condition 1", rec.ConditionsEvaluated[0].Condition)

	stored, err := f.records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "auto_ext", stored.AutomationID)

	_, err = f.svc.CreateFromClean(ctx, "tenant_9", []byte(`{"trigger": {"type": "event"}}`))
	assert.Error(t, err)
	_, err = f.svc.CreateFromClean(ctx, "tenant_9", []byte(`{`))
	assert.Error(t, err)
}

func TestDebugger_Health(t *testing.T) {
	f := newDebuggerFixture(t)
	ctx := context.Background()
	rule, err := f.rules.CreateRule(ctx, ruleRequest("tenant_1", "drafts", models.ActionGenerateDraft))
	require.NoError(t, err)

	report, err := f.svc.Health(ctx, rule.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	// 无历史记录视为休眠
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "DORMANT_AUTOMATION", report.Warnings[0].Code)

	f.append(t,
		debugRecord(rule.ID, time.Hour, models.ResultFailed, 1),
		debugRecord(rule.ID, 2*time.Hour, models.ResultFailed, 1),
		debugRecord(rule.ID, 3*time.Hour, models.ResultFailed, 1),
	)
	report, err = f.svc.Health(ctx, rule.ID)
	require.NoError(t, err)
	codes := []string{}
	for _, issue := range report.Issues() {
		codes = append(codes, issue.Code)
	}
	assert.Contains(t, codes, "HIGH_FAILURE_RATE")
	assert.Less(t, report.HealthScore, 100)

	_, err = f.svc.Health(ctx, "auto_missing")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestDebugger_Simulate(t *testing.T) {
	f := newDebuggerFixture(t)
	ctx := context.Background()
	rule, err := f.rules.CreateRule(ctx, ruleRequest("tenant_1", "drafts", models.ActionGenerateDraft))
	require.NoError(t, err)

	sim, err := f.svc.Simulate(ctx, rule.ID, map[string]interface{}{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, "ready", sim.Status)
	assert.True(t, sim.Trigger.WouldFire)
	require.NotNil(t, sim.Trigger.NextRun)
	assert.Equal(t, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), *sim.Trigger.NextRun)
	assert.True(t, sim.Action.WouldExecute)
	assert.Nil(t, sim.Action.Reason)
	assert.Equal(t, verdictWouldRun, sim.Summary.Verdict)
	assert.Equal(t, 1, sim.Summary.ConditionsPassed)

	sim, err = f.svc.Simulate(ctx, rule.ID, map[string]interface{}{"count": 5})
	require.NoError(t, err)
	assert.Equal(t, "blocked", sim.Status)
	require.NotNil(t, sim.Action.Reason)
	assert.Equal(t, reasonConditionsFailed, *sim.Action.Reason)
	assert.Equal(t, verdictWouldNotRun, sim.Summary.Verdict)

	sim, err = f.svc.Simulate(ctx, rule.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"count"}, sim.Diagnostics.MissingData)
	assert.Contains(t, sim.Diagnostics.Warnings, "Missing data: count")

	// 模拟不写入记录
	recent, err := f.records.Recent(ctx, rule.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestDebugger_SimulateApprovalAndEvent(t *testing.T) {
	f := newDebuggerFixture(t)
	ctx := context.Background()

	req := ruleRequest("tenant_1", "pricing", models.ActionPriceUpdate)
	req.RiskLevel = models.RiskHigh
	req.RequiresApproval = true
	held, err := f.rules.CreateRule(ctx, req)
	require.NoError(t, err)

	sim, err := f.svc.Simulate(ctx, held.ID, map[string]interface{}{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, "blocked", sim.Status)
	assert.Equal(t, reasonApproval, *sim.Action.Reason)
	assert.Contains(t, sim.Diagnostics.Warnings, reasonApproval)

	req = ruleRequest("tenant_1", "orders", models.ActionUpdateStore)
	req.Trigger = models.TriggerSpec{Type: models.TriggerEvent, EventType: "order_created"}
	req.Conditions = nil
	evt, err := f.rules.CreateRule(ctx, req)
	require.NoError(t, err)

	sim, err = f.svc.Simulate(ctx, evt.ID, map[string]interface{}{
		"event": map[string]interface{}{"type": "order_created"},
	})
	require.NoError(t, err)
	assert.True(t, sim.Trigger.WouldFire)

	sim, err = f.svc.Simulate(ctx, evt.ID, map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, sim.Trigger.WouldFire)
	assert.Equal(t, reasonTriggerNotFired, *sim.Action.Reason)

	_, err = f.svc.Simulate(ctx, "auto_missing", nil)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestDebugger_CouncilAudit(t *testing.T) {
	f := newDebuggerFixture(t)
	ctx := context.Background()

	newPricing := func(name string) *models.AutomationRule {
		req := ruleRequest("tenant_1", name, models.ActionPriceUpdate)
		req.CouncilID = "council_1"
		rule, err := f.rules.CreateRule(ctx, req)
		require.NoError(t, err)
		return rule
	}
	a := newPricing("a")
	b := newPricing("b")
	_, err := f.rules.CreateRule(ctx, ruleRequest("tenant_1", "other", models.ActionPriceUpdate))
	require.NoError(t, err)

	failed := debugRecord(a.ID, time.Hour, models.ResultFailed, 1)
	failed.Errors = []string{"pricing service unavailable"}
	f.append(t,
		failed,
		debugRecord(b.ID, time.Hour, models.ResultSuccess, 1),
		debugRecord(b.ID, 60*24*time.Hour, models.ResultSuccess, 1),
	)

	audit, err := f.svc.CouncilAudit(ctx, "council_1", 0)
	require.NoError(t, err)
	assert.Equal(t, 30, audit.PeriodDays)
	assert.Equal(t, 2, audit.AutomationsMonitored)
	require.Len(t, audit.GovernanceViolations, 1)
	assert.Equal(t, "Automation failed: pricing service unavailable", audit.GovernanceViolations[0].Message)
	require.Len(t, audit.RiskFlags, 1)
	assert.Equal(t, b.ID, audit.RiskFlags[0].AutomationID)
	require.Len(t, audit.AutomationConflicts, 1)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, audit.AutomationConflicts[0].Automations)
	assert.Equal(t, 2, audit.HistoricalPatterns.TotalExecutions)
	assert.Equal(t, 90, audit.HistoricalPatterns.GovernanceComplianceScore)
	assert.InDelta(t, 50.0, audit.HistoricalPatterns.FailureRate, 0.001)
	assert.Equal(t, 3, audit.TotalIssues)
	assert.True(t, audit.Summary.RequiresAttention)

	empty, err := f.svc.CouncilAudit(ctx, "council_none", 7)
	require.NoError(t, err)
	assert.Zero(t, empty.AutomationsMonitored)
	assert.Equal(t, 100, empty.HistoricalPatterns.GovernanceComplianceScore)

	_, err = f.svc.CouncilAudit(ctx, "", 7)
	assert.Error(t, err)
}
