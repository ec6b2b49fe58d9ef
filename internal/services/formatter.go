package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"autoflow/internal/models"
)

// CleanLog is the presentation form of an execution record used by the
// debugger and by external collaborators that submit records.
type CleanLog struct {
	LogID        string             `json:"log_id,omitempty"`
	AutomationID string             `json:"automation_id,omitempty"`
	Trigger      CleanTrigger       `json:"trigger"`
	Conditions   []CleanCondition   `json:"conditions"`
	Action       CleanAction        `json:"action"`
	Metrics      CleanMetrics       `json:"metrics"`
	Result       models.EventResult `json:"result,omitempty"`
}

type CleanTrigger struct {
	Type      models.TriggerType     `json:"type"`
	Fired     bool                   `json:"fired"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type CleanCondition struct {
	ID        int         `json:"id"`
	Condition string      `json:"condition,omitempty"`
	Passed    bool        `json:"passed"`
	Value     interface{} `json:"value"`
	Expected  interface{} `json:"expected,omitempty"`
}

type CleanAction struct {
	Executed     bool          `json:"executed"`
	Reason       *string       `json:"reason"`
	ActionsTaken []interface{} `json:"actions_taken,omitempty"`
	WorkflowID   *string       `json:"workflow_id"`
}

type CleanMetrics struct {
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	Errors          []string `json:"errors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// MinimalLog is the compact projection used in list views.
type MinimalLog struct {
	Trigger    MinimalTrigger     `json:"trigger"`
	Conditions []MinimalCondition `json:"conditions"`
	Action     MinimalAction      `json:"action"`
	Metrics    MinimalMetrics     `json:"metrics"`
}

type MinimalTrigger struct {
	Type      models.TriggerType `json:"type"`
	Fired     bool               `json:"fired"`
	Timestamp string             `json:"timestamp"`
}

type MinimalCondition struct {
	ID     int         `json:"id"`
	Passed bool        `json:"passed"`
	Value  interface{} `json:"value"`
}

type MinimalAction struct {
	Executed bool    `json:"executed"`
	Reason   *string `json:"reason"`
}

type MinimalMetrics struct {
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// FormatClean projects a record into its clean form.
func FormatClean(rec *models.ExecutionRecord) CleanLog {
	out := CleanLog{
		LogID:        rec.ID,
		AutomationID: rec.AutomationID,
		Trigger: CleanTrigger{
			Type:      rec.TriggerType,
			Fired:     rec.TriggerFired,
			Timestamp: formatTimestamp(rec.Timestamp),
			Details:   rec.TriggerDetails,
		},
		Conditions: make([]CleanCondition, 0, len(rec.ConditionsEvaluated)),
		Action: CleanAction{
			Executed:     len(rec.ActionsTaken) > 0,
			Reason:       notExecutedReason(rec, false),
			ActionsTaken: rec.ActionsTaken,
		},
		Metrics: CleanMetrics{
			ExecutionTimeMs: rec.ExecutionTimeMs,
			Errors:          rec.Errors,
			Warnings:        rec.Warnings,
		},
		Result: rec.Result,
	}
	if rec.WorkflowID != "" {
		wf := rec.WorkflowID
		out.Action.WorkflowID = &wf
	}
	for i, c := range rec.ConditionsEvaluated {
		out.Conditions = append(out.Conditions, CleanCondition{
			ID:        i + 1,
			Condition: c.Condition,
			Passed:    c.Passed,
			Value:     c.ActualValue,
			Expected:  c.Expected,
		})
	}
	return out
}

// FormatMinimal projects a record into its minimal form. Failed conditions
// are referred to by their 1-based index.
func FormatMinimal(rec *models.ExecutionRecord) MinimalLog {
	out := MinimalLog{
		Trigger: MinimalTrigger{
			Type:      rec.TriggerType,
			Fired:     rec.TriggerFired,
			Timestamp: formatTimestamp(rec.Timestamp),
		},
		Conditions: make([]MinimalCondition, 0, len(rec.ConditionsEvaluated)),
		Action: MinimalAction{
			Executed: len(rec.ActionsTaken) > 0,
			Reason:   notExecutedReason(rec, true),
		},
		Metrics: MinimalMetrics{ExecutionTimeMs: rec.ExecutionTimeMs},
	}
	for i, c := range rec.ConditionsEvaluated {
		out.Conditions = append(out.Conditions, MinimalCondition{ID: i + 1, Passed: c.Passed, Value: c.ActualValue})
	}
	return out
}

// notExecutedReason explains a record that took no action, following the
// result precedence. It is nil when an action was taken.
func notExecutedReason(rec *models.ExecutionRecord, byIndex bool) *string {
	if len(rec.ActionsTaken) > 0 {
		return nil
	}
	var reason string
	switch {
	case !rec.TriggerFired:
		reason = reasonTriggerNotFired
	case !rec.AllConditionsPassed:
		var failing []string
		for i, c := range rec.ConditionsEvaluated {
			if c.Passed {
				continue
			}
			if byIndex {
				failing = append(failing, strconv.Itoa(i+1))
			} else {
				failing = append(failing, c.Condition)
			}
		}
		reason = reasonConditionsFailed + ": " + strings.Join(failing, ", ")
	case len(rec.Errors) > 0:
		reason = "Action failed: " + strings.Join(rec.Errors, "; ")
	case len(rec.ActionsSkipped) > 0 && rec.ActionsSkipped[0].Reason != "":
		reason = rec.ActionsSkipped[0].Reason
	default:
		reason = "No action executed"
	}
	return &reason
}

// ParseClean rebuilds a record from its clean form. The verdicts are
// recomputed from the conditions and actions; the submitted executed flag
// and result are ignored.
func ParseClean(tenantID, automationID string, raw []byte) (*models.ExecutionRecord, error) {
	var in CleanLog
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("parse clean log: %w", err)
	}
	return FromClean(tenantID, automationID, in), nil
}

// FromClean is ParseClean for an already decoded log. An empty
// automationID falls back to the one carried by the log.
func FromClean(tenantID, automationID string, in CleanLog) *models.ExecutionRecord {
	if automationID == "" {
		automationID = in.AutomationID
	}
	ts, err := time.Parse(time.RFC3339Nano, in.Trigger.Timestamp)
	if err != nil {
		ts = time.Now()
	}

	conditions := make([]models.ConditionResult, 0, len(in.Conditions))
	for i, c := range in.Conditions {
		id := c.ID
		if id == 0 {
			id = i + 1
		}
		text := c.Condition
		if text == "" {
			text = fmt.Sprintf("Condition %d", id)
		}
		conditions = append(conditions, models.ConditionResult{
			Condition:   text,
			Passed:      c.Passed,
			ActualValue: c.Value,
			Expected:    c.Expected,
		})
	}

	rec := &models.ExecutionRecord{
		TenantID:            tenantID,
		AutomationID:        automationID,
		Timestamp:           ts.UTC(),
		TriggerType:         in.Trigger.Type,
		TriggerFired:        in.Trigger.Fired,
		TriggerDetails:      in.Trigger.Details,
		ConditionsEvaluated: conditions,
		AllConditionsPassed: models.AllPassed(conditions),
		ActionsTaken:        in.Action.ActionsTaken,
		ActionsSkipped:      []models.SkippedAction{},
		ExecutionTimeMs:     in.Metrics.ExecutionTimeMs,
		Errors:              in.Metrics.Errors,
		Warnings:            in.Metrics.Warnings,
	}
	if rec.TriggerDetails == nil {
		rec.TriggerDetails = map[string]interface{}{}
	}
	if rec.ActionsTaken == nil {
		rec.ActionsTaken = []interface{}{}
	}
	if rec.Errors == nil {
		rec.Errors = []string{}
	}
	if rec.Warnings == nil {
		rec.Warnings = []string{}
	}
	if in.Action.WorkflowID != nil {
		rec.WorkflowID = *in.Action.WorkflowID
	}
	rec.Result = models.DeriveResult(rec.TriggerFired, rec.AllConditionsPassed, len(rec.ActionsTaken))
	return rec
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
