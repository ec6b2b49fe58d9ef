package services

import (
	"encoding/json"
	"testing"
	"time"

	"autoflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *models.ExecutionRecord {
	return &models.ExecutionRecord{
		ID:           "log_1",
		AutomationID: "auto_1",
		Timestamp:    time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		TriggerType:  models.TriggerThreshold,
		TriggerFired: true,
		ConditionsEvaluated: []models.ConditionResult{
			{Condition: "inventory less_than 10", Passed: true, ActualValue: 4, Expected: 10},
			{Condition: "status equals active", Passed: false, ActualValue: "paused", Expected: "active"},
		},
		AllConditionsPassed: false,
		ActionsTaken:        []interface{}{},
		ExecutionTimeMs:     12,
		Result:              models.ResultSkipped,
	}
}

func TestFormatClean(t *testing.T) {
	out := FormatClean(sampleRecord())

	assert.Equal(t, "log_1", out.LogID)
	assert.Equal(t, "2024-03-04T09:00:00Z", out.Trigger.Timestamp)
	require.Len(t, out.Conditions, 2)
	assert.Equal(t, 1, out.Conditions[0].ID)
	assert.Equal(t, 2, out.Conditions[1].ID)
	assert.False(t, out.Action.Executed)
	require.NotNil(t, out.Action.Reason)
	assert.Equal(t, "Conditions failed: status equals active", *out.Action.Reason)
	assert.Nil(t, out.Action.WorkflowID)
	assert.Equal(t, int64(12), out.Metrics.ExecutionTimeMs)
}

func TestFormatMinimal_ReasonUsesIndices(t *testing.T) {
	out := FormatMinimal(sampleRecord())

	require.Len(t, out.Conditions, 2)
	assert.Equal(t, "paused", out.Conditions[1].Value)
	require.NotNil(t, out.Action.Reason)
	assert.Equal(t, "Conditions failed: 2", *out.Action.Reason)
}

func TestFormatClean_ExecutedHasNoReason(t *testing.T) {
	rec := sampleRecord()
	rec.ConditionsEvaluated[1].Passed = true
	rec.AllConditionsPassed = true
	rec.ActionsTaken = []interface{}{map[string]interface{}{"action": "start_workflow"}}
	rec.WorkflowID = "wf_1"

	out := FormatClean(rec)
	assert.True(t, out.Action.Executed)
	assert.Nil(t, out.Action.Reason)
	require.NotNil(t, out.Action.WorkflowID)
	assert.Equal(t, "wf_1", *out.Action.WorkflowID)
}

func TestNotExecutedReason_Precedence(t *testing.T) {
	rec := sampleRecord()
	rec.TriggerFired = false
	assert.Equal(t, "Trigger did not fire", *FormatClean(rec).Action.Reason)

	rec = sampleRecord()
	rec.AllConditionsPassed = true
	rec.Errors = []string{"start_workflow: boom"}
	assert.Equal(t, "Action failed: start_workflow: boom", *FormatClean(rec).Action.Reason)

	rec = sampleRecord()
	rec.AllConditionsPassed = true
	rec.ActionsSkipped = []models.SkippedAction{{Action: "price_update", Reason: "Requires council approval"}}
	assert.Equal(t, "Requires council approval", *FormatClean(rec).Action.Reason)
}

func TestParseClean_RoundTripPreservesVerdicts(t *testing.T) {
	rec := sampleRecord()
	raw := mustJSON(t, FormatClean(rec))

	back, err := ParseClean("tenant_1", "", raw)
	require.NoError(t, err)
	assert.Equal(t, "auto_1", back.AutomationID)
	assert.Equal(t, "tenant_1", back.TenantID)
	assert.Equal(t, rec.Timestamp, back.Timestamp)
	assert.Equal(t, rec.TriggerFired, back.TriggerFired)
	assert.Equal(t, rec.AllConditionsPassed, back.AllConditionsPassed)
	assert.Equal(t, rec.Result, back.Result)
	require.Len(t, back.ConditionsEvaluated, 2)
	assert.Equal(t, "status equals active", back.ConditionsEvaluated[1].Condition)
}

func TestParseClean_ExecutedFlagIgnored(t *testing.T) {
	raw := []byte(`{
		"automation_id": "auto_9",
		"trigger": {"type": "event", "fired": true, "timestamp": "2024-03-04T09:00:00Z"},
		"conditions": [{"passed": true, "value": 1}],
		"action": {"executed": true, "reason": null, "workflow_id": null},
		"metrics": {"execution_time_ms": 3}
	}`)

	rec, err := ParseClean("tenant_1", "", raw)
	require.NoError(t, err)
	assert.Equal(t, "Condition 1", rec.ConditionsEvaluated[0].Condition)
	assert.Empty(t, rec.ActionsTaken)
	// 触发且条件通过但没有动作：FAILED
	assert.Equal(t, models.ResultFailed, rec.Result)
}

func TestParseClean_InvalidJSON(t *testing.T) {
	_, err := ParseClean("t", "a", []byte("{"))
	assert.Error(t, err)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
