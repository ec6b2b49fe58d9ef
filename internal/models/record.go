package models

import "time"

// ConditionResult is the audit entry for one evaluated condition.
type ConditionResult struct {
	Condition   string      `json:"condition"`
	Passed      bool        `json:"passed"`
	ActualValue interface{} `json:"actual_value"`
	Expected    interface{} `json:"expected"`
}

// SkippedAction records an action that was not executed and why.
type SkippedAction struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// ExecutionRecord 单次 tick 的执行审计记录（只追加，不修改）
type ExecutionRecord struct {
	ID                  string                 `gorm:"primaryKey;size:64" json:"id"`
	TenantID            string                 `gorm:"size:64;index" json:"tenant_id"`
	AutomationID        string                 `gorm:"size:64;index:idx_record_automation_ts" json:"automation_id"`
	Timestamp           time.Time              `gorm:"index:idx_record_automation_ts" json:"timestamp"`
	TriggerType         TriggerType            `gorm:"size:32" json:"trigger_type"`
	TriggerFired        bool                   `json:"trigger_fired"`
	TriggerDetails      map[string]interface{} `gorm:"serializer:json;type:text" json:"trigger_details"`
	ConditionsEvaluated []ConditionResult      `gorm:"serializer:json;type:text" json:"conditions_evaluated"`
	AllConditionsPassed bool                   `json:"all_conditions_passed"`
	ActionsTaken        []interface{}          `gorm:"serializer:json;type:text" json:"actions_taken"`
	ActionsSkipped      []SkippedAction        `gorm:"serializer:json;type:text" json:"actions_skipped"`
	ExecutionTimeMs     int64                  `json:"execution_time_ms"`
	Errors              []string               `gorm:"serializer:json;type:text" json:"errors"`
	Warnings            []string               `gorm:"serializer:json;type:text" json:"warnings"`
	Result              EventResult            `gorm:"size:16;index" json:"result"`
	WorkflowID          string                 `gorm:"size:128" json:"workflow_id,omitempty"`
	NextScheduledRun    *time.Time             `json:"next_scheduled_run,omitempty"`
	DataSnapshot        map[string]interface{} `gorm:"serializer:json;type:text" json:"data_snapshot,omitempty"`
}

// DeriveResult applies the result precedence: any action taken wins,
// then an unfired trigger, then failed conditions; everything else is a
// failure, including a passing run that produced no action.
func DeriveResult(triggerFired, allConditionsPassed bool, actionsTaken int) EventResult {
	switch {
	case actionsTaken > 0:
		return ResultSuccess
	case !triggerFired:
		return ResultSkipped
	case !allConditionsPassed:
		return ResultSkipped
	default:
		return ResultFailed
	}
}

// AllPassed is the conjunction of every condition's verdict.
func AllPassed(results []ConditionResult) bool {
	for _, c := range results {
		if !c.Passed {
			return false
		}
	}
	return true
}
