package services

import (
	"context"
	"time"

	"autoflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("autoflow.engine")

// Engine runs one rule through trigger, conditions and dispatch and builds
// the execution record for it.
type Engine struct {
	dispatcher *Dispatcher
	logger     *logrus.Logger
}

func NewEngine(dispatcher *Dispatcher, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{dispatcher: dispatcher, logger: logger}
}

// Evaluate produces exactly one record for rule at now. It does not store
// the record.
func (e *Engine) Evaluate(ctx context.Context, rule *models.AutomationRule, now time.Time, snap models.Snapshot) *models.ExecutionRecord {
	ctx, span := tracer.Start(ctx, "engine.evaluate", trace.WithAttributes(
		attribute.String("tenant_id", rule.TenantID),
		attribute.String("automation_id", rule.ID),
		attribute.String("trigger_type", string(rule.Trigger.Type)),
	))
	defer span.End()

	start := time.Now()
	fired, details := EvaluateTrigger(rule.Trigger, now, snap)
	if details == nil {
		details = map[string]interface{}{}
	}
	data := BuildData(snap, details)
	conditions, allPassed := EvaluateConditions(rule.Conditions, data)

	var d Dispatch
	if e.dispatcher != nil {
		d = e.dispatcher.Dispatch(ctx, rule, fired, conditions, data)
	} else {
		d = Dispatch{ActionsTaken: []interface{}{}, ActionsSkipped: []models.SkippedAction{}, Errors: []string{}, Warnings: []string{}}
	}

	rec := &models.ExecutionRecord{
		ID:                  uuid.NewString(),
		TenantID:            rule.TenantID,
		AutomationID:        rule.ID,
		Timestamp:           now.UTC(),
		TriggerType:         rule.Trigger.Type,
		TriggerFired:        fired,
		TriggerDetails:      details,
		ConditionsEvaluated: conditions,
		AllConditionsPassed: allPassed,
		ActionsTaken:        d.ActionsTaken,
		ActionsSkipped:      d.ActionsSkipped,
		ExecutionTimeMs:     time.Since(start).Milliseconds(),
		Errors:              d.Errors,
		Warnings:            d.Warnings,
		WorkflowID:          d.WorkflowID,
		NextScheduledRun:    NextScheduledRun(rule.Trigger, now),
		DataSnapshot:        data,
	}
	rec.Result = models.DeriveResult(rec.TriggerFired, rec.AllConditionsPassed, len(rec.ActionsTaken))

	span.SetAttributes(attribute.String("result", string(rec.Result)))
	if rec.Result == models.ResultFailed {
		span.SetStatus(codes.Error, "automation failed")
	}
	if len(rec.Errors) > 0 {
		e.logger.WithFields(logrus.Fields{
			"tenant_id":     rule.TenantID,
			"automation_id": rule.ID,
		}).Warnf("automation: action errors: %v", rec.Errors)
	}
	return rec
}

// BuildData is the map conditions read from: the snapshot data, metrics
// that data does not shadow, and the triggering event under "event".
func BuildData(snap models.Snapshot, triggerDetails map[string]interface{}) map[string]interface{} {
	data := make(map[string]interface{}, len(snap.Data)+len(snap.Metrics)+1)
	for k, v := range snap.Data {
		data[k] = v
	}
	for k, v := range snap.Metrics {
		if _, ok := data[k]; !ok {
			data[k] = v
		}
	}
	if evt, ok := triggerDetails["event"]; ok {
		if _, taken := data["event"]; !taken {
			data["event"] = evt
		}
	}
	return data
}
