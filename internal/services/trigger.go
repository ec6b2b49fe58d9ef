package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"autoflow/internal/models"

	"github.com/Knetic/govaluate"
)

const defaultBehaviorWindowHours = 24

// thresholdOperators are the comparators a threshold trigger may use.
var thresholdOperators = map[string]bool{"<": true, ">": true, "==": true, "!=": true}

// EvaluateTrigger decides whether spec fires at now given the snapshot. It
// never fails: malformed specs do not fire and say why in the details.
func EvaluateTrigger(spec models.TriggerSpec, now time.Time, snap models.Snapshot) (bool, map[string]interface{}) {
	switch spec.Type {
	case models.TriggerSchedule:
		return evaluateSchedule(spec, now)
	case models.TriggerEvent:
		return evaluateEvent(spec, snap)
	case models.TriggerThreshold:
		return evaluateThreshold(spec, snap)
	case models.TriggerBehavior:
		return evaluateBehavior(spec, now, snap)
	default:
		return false, map[string]interface{}{
			"unsupported_trigger_type": true,
			"type":                     string(spec.Type),
		}
	}
}

// Schedule is a parsed "minute hour day * weekday" expression. Day is 0
// and Weekday nil when their fields are wildcards.
type Schedule struct {
	Minute  int
	Hour    int
	Day     int
	Weekday *time.Weekday
}

// Matches reports whether t falls on the scheduled minute.
func (s Schedule) Matches(t time.Time) bool {
	if t.Minute() != s.Minute || t.Hour() != s.Hour {
		return false
	}
	if s.Day != 0 && t.Day() != s.Day {
		return false
	}
	return s.Weekday == nil || t.Weekday() == *s.Weekday
}

// ParseSchedule parses the "minute hour * * *" subset. Month must be a
// wildcard; day-of-month (1-31) or day-of-week (0-6) may be set, not both.
func ParseSchedule(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("schedule %q: expected 5 fields, got %d", expr, len(fields))
	}
	if fields[3] != "*" {
		return Schedule{}, fmt.Errorf("schedule %q: only wildcard month is supported", expr)
	}
	if fields[2] != "*" && fields[4] != "*" {
		return Schedule{}, fmt.Errorf("schedule %q: day-of-month and weekday cannot both be set", expr)
	}
	var s Schedule
	var err error
	s.Minute, err = strconv.Atoi(fields[0])
	if err != nil || s.Minute < 0 || s.Minute > 59 {
		return Schedule{}, fmt.Errorf("schedule %q: invalid minute %q", expr, fields[0])
	}
	s.Hour, err = strconv.Atoi(fields[1])
	if err != nil || s.Hour < 0 || s.Hour > 23 {
		return Schedule{}, fmt.Errorf("schedule %q: invalid hour %q", expr, fields[1])
	}
	if fields[2] != "*" {
		s.Day, err = strconv.Atoi(fields[2])
		if err != nil || s.Day < 1 || s.Day > 31 {
			return Schedule{}, fmt.Errorf("schedule %q: invalid day %q", expr, fields[2])
		}
	}
	if fields[4] != "*" {
		wd, err := strconv.Atoi(fields[4])
		if err != nil || wd < 0 || wd > 6 {
			return Schedule{}, fmt.Errorf("schedule %q: invalid weekday %q", expr, fields[4])
		}
		w := time.Weekday(wd)
		s.Weekday = &w
	}
	return s, nil
}

// NextScheduledRun returns the first minute strictly after now at which a
// schedule trigger fires, or nil for other trigger types.
func NextScheduledRun(spec models.TriggerSpec, now time.Time) *time.Time {
	if spec.Type != models.TriggerSchedule {
		return nil
	}
	s, err := ParseSchedule(spec.Schedule)
	if err != nil {
		return nil
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, now.Location())
	// 月度计划最多跨两个月（例如 31 号）
	for i := 0; i < 64; i++ {
		if next.After(now) && s.Matches(next) {
			return &next
		}
		next = next.AddDate(0, 0, 1)
	}
	return nil
}

func evaluateSchedule(spec models.TriggerSpec, now time.Time) (bool, map[string]interface{}) {
	details := map[string]interface{}{
		"schedule": spec.Schedule,
		"now":      now.Format("15:04"),
	}
	s, err := ParseSchedule(spec.Schedule)
	if err != nil {
		details["invalid_schedule"] = true
		details["error"] = err.Error()
		return false, details
	}
	fired := s.Matches(now)
	details["matched"] = fired
	return fired, details
}

func evaluateEvent(spec models.TriggerSpec, snap models.Snapshot) (bool, map[string]interface{}) {
	details := map[string]interface{}{"event_type": spec.EventType}
	if spec.Source != "" {
		details["source"] = spec.Source
	}
	if spec.EventType == "" {
		details["missing_event_type"] = true
		return false, details
	}
	matched := 0
	for _, evt := range snap.Events {
		if evt.Type != spec.EventType {
			continue
		}
		if spec.Source != "" && evt.Source != "" && evt.Source != spec.Source {
			continue
		}
		if matched == 0 && evt.Data != nil {
			details["event"] = evt.Data
		}
		matched++
	}
	details["matched_events"] = matched
	return matched > 0, details
}

func evaluateThreshold(spec models.TriggerSpec, snap models.Snapshot) (bool, map[string]interface{}) {
	details := map[string]interface{}{
		"metric":    spec.Metric,
		"operator":  spec.Operator,
		"threshold": spec.Threshold,
	}
	if !thresholdOperators[spec.Operator] {
		details["unsupported_operator"] = true
		return false, details
	}
	raw, ok := LookupField(snap.Metrics, spec.Metric)
	if !ok {
		details["missing_metric"] = true
		return false, details
	}
	details["value"] = raw
	value, ok := toFloat(raw)
	if !ok {
		details["non_numeric_value"] = true
		return false, details
	}
	threshold, ok := toFloat(spec.Threshold)
	if !ok {
		details["non_numeric_threshold"] = true
		return false, details
	}
	fired, err := compareThreshold(value, spec.Operator, threshold)
	if err != nil {
		details["error"] = err.Error()
		return false, details
	}
	return fired, details
}

// compareThreshold evaluates "value <op> threshold" as an expression.
func compareThreshold(value float64, op string, threshold float64) (bool, error) {
	expr, err := govaluate.NewEvaluableExpression("value " + op + " threshold")
	if err != nil {
		return false, fmt.Errorf("threshold expression: %w", err)
	}
	out, err := expr.Evaluate(map[string]interface{}{"value": value, "threshold": threshold})
	if err != nil {
		return false, fmt.Errorf("threshold evaluate: %w", err)
	}
	fired, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("threshold expression returned %T", out)
	}
	return fired, nil
}

func evaluateBehavior(spec models.TriggerSpec, now time.Time, snap models.Snapshot) (bool, map[string]interface{}) {
	hours := spec.TimeframeHours
	if hours <= 0 {
		hours = defaultBehaviorWindowHours
	}
	details := map[string]interface{}{
		"behavior_type":   spec.BehaviorType,
		"timeframe_hours": hours,
	}
	if spec.BehaviorType == "" {
		details["missing_behavior_type"] = true
		return false, details
	}
	since := now.Add(-time.Duration(hours) * time.Hour)
	var (
		matches  int
		latest   time.Time
		subjects []string
	)
	for _, b := range snap.Behaviors {
		if b.Type != spec.BehaviorType {
			continue
		}
		if b.MatchedAt.Before(since) || b.MatchedAt.After(now) {
			continue
		}
		matches++
		if b.MatchedAt.After(latest) {
			latest = b.MatchedAt
		}
		if b.Subject != "" {
			subjects = append(subjects, b.Subject)
		}
	}
	details["matches"] = matches
	if matches > 0 {
		details["last_matched_at"] = latest
	}
	if len(subjects) > 0 {
		details["subjects"] = subjects
	}
	return matches > 0, details
}
