package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"autoflow/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	dormantAfterDays        = 30
	failureWindow           = 5
	minRecordsForFailure    = 3
	failureRateThreshold    = 0.6
	slowExecutionMs         = 10000
	maxCommonErrors         = 3
	recommendedTemplateVers = "v3"
)

// deprecatedTemplates lists template versions per action type that have a
// newer replacement.
var deprecatedTemplates = map[string][]string{
	string(models.ActionSocialPostGeneration): {"v1", "v2"},
	string(models.ActionProductBundling):      {"v1"},
}

// HighRiskActions are action types with public or irreversible effects.
var HighRiskActions = map[string]bool{
	string(models.ActionSocialPostGeneration): true,
	string(models.ActionEmailCampaign):        true,
	string(models.ActionPriceUpdate):          true,
	string(models.ActionInventoryDeletion):    true,
}

// knownConflicts groups automations known to compete for the same effect.
var knownConflicts = map[string][]string{
	string(models.ActionSocialPostGeneration): {"auto_daily_social", "auto_weekly_social"},
	string(models.ActionPriceUpdate):          {"auto_sale_pricing", "auto_dynamic_pricing"},
}

// ConflictFinder returns automations that may interfere with automationID
// because they perform actionType.
type ConflictFinder func(actionType, automationID string) []string

// StaticConflicts looks conflicts up in the built-in conflict groups.
func StaticConflicts(actionType, automationID string) []string {
	var out []string
	for _, id := range knownConflicts[actionType] {
		if id != automationID {
			out = append(out, id)
		}
	}
	return out
}

// Diagnostics scans rule configuration and execution history for defects.
type Diagnostics struct {
	now       func() time.Time
	conflicts ConflictFinder
	logger    *logrus.Logger
}

func NewDiagnostics(logger *logrus.Logger) *Diagnostics {
	if logger == nil {
		logger = logrus.New()
	}
	return &Diagnostics{now: time.Now, conflicts: StaticConflicts, logger: logger}
}

// WithClock replaces the wall clock used for dormancy checks.
func (d *Diagnostics) WithClock(now func() time.Time) *Diagnostics {
	d.now = now
	return d
}

// WithConflictFinder replaces the conflict lookup.
func (d *Diagnostics) WithConflictFinder(f ConflictFinder) *Diagnostics {
	if f != nil {
		d.conflicts = f
	}
	return d
}

type check struct {
	name string
	run  func() []models.AutomationIssue
}

// DetectIssues runs every check with a default Diagnostics.
func DetectIssues(automationID string, cfg models.RuleConfig, records []models.ExecutionRecord) *models.IssueReport {
	return NewDiagnostics(nil).DetectIssues(automationID, cfg, records)
}

// DetectIssues builds an issue report for one automation. A nil records
// slice means history is unavailable and the history checks are skipped;
// an empty one means the automation never ran.
func (d *Diagnostics) DetectIssues(automationID string, cfg models.RuleConfig, records []models.ExecutionRecord) *models.IssueReport {
	now := d.now()
	checks := []check{
		{"missing_config", func() []models.AutomationIssue { return checkMissingConfig(cfg) }},
		{"invalid_config", func() []models.AutomationIssue { return checkInvalidConfig(cfg) }},
		{"deprecated_template", func() []models.AutomationIssue { return checkDeprecatedTemplate(cfg) }},
	}
	if records != nil {
		checks = append(checks,
			check{"dormant", func() []models.AutomationIssue { return checkDormant(records, now) }},
			check{"failure_rate", func() []models.AutomationIssue { return checkFailureRate(records) }},
			check{"slow_execution", func() []models.AutomationIssue { return checkSlowExecution(records) }},
		)
	}
	checks = append(checks,
		check{"high_risk", func() []models.AutomationIssue { return checkHighRisk(cfg) }},
		check{"conflicts", func() []models.AutomationIssue { return d.checkConflicts(automationID, cfg) }},
	)

	report := &models.IssueReport{
		AutomationID: automationID,
		CheckedAt:    now.UTC(),
		Errors:       []models.AutomationIssue{},
		Warnings:     []models.AutomationIssue{},
		Info:         []models.AutomationIssue{},
	}
	for _, c := range checks {
		for _, issue := range d.safeCheck(automationID, c.name, c.run) {
			issue.AutomationID = automationID
			issue.DetectedAt = now.UTC()
			if issue.Details == nil {
				issue.Details = map[string]interface{}{}
			}
			switch issue.IssueType {
			case models.IssueError:
				report.Errors = append(report.Errors, issue)
			case models.IssueWarning:
				report.Warnings = append(report.Warnings, issue)
			default:
				report.Info = append(report.Info, issue)
			}
		}
	}

	all := report.Issues()
	report.TotalIssues = len(all)
	report.HealthScore = CalculateHealthScore(all)
	for _, issue := range all {
		switch issue.Severity {
		case models.SeverityCritical:
			if issue.IssueType == models.IssueError {
				report.Summary.CriticalCount++
			}
		case models.SeverityHigh:
			report.Summary.HighCount++
		case models.SeverityMedium:
			report.Summary.MediumCount++
		case models.SeverityLow:
			report.Summary.LowCount++
		}
	}
	return report
}

// safeCheck isolates a check: a panic yields no issues.
func (d *Diagnostics) safeCheck(automationID, name string, run func() []models.AutomationIssue) (issues []models.AutomationIssue) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"automation_id": automationID,
				"check":         name,
			}).Errorf("diagnostics: check panicked: %v", r)
			issues = nil
		}
	}()
	return run()
}

// CalculateHealthScore deducts per issue from 100 and clamps at 0.
func CalculateHealthScore(issues []models.AutomationIssue) int {
	score := 100
	for _, issue := range issues {
		switch issue.IssueType {
		case models.IssueError:
			switch issue.Severity {
			case models.SeverityCritical:
				score -= 25
			case models.SeverityHigh:
				score -= 15
			case models.SeverityMedium:
				score -= 10
			default:
				score -= 5
			}
		case models.IssueWarning:
			switch issue.Severity {
			case models.SeverityHigh:
				score -= 10
			case models.SeverityMedium:
				score -= 5
			default:
				score -= 2
			}
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

func checkMissingConfig(cfg models.RuleConfig) []models.AutomationIssue {
	var issues []models.AutomationIssue
	for _, f := range []string{"trigger", "conditions", "action"} {
		if !isEmptyValue(cfg[f]) {
			continue
		}
		issues = append(issues, models.AutomationIssue{
			IssueType:   models.IssueError,
			Severity:    models.SeverityCritical,
			Code:        "MISSING_CONFIG",
			Message:     fmt.Sprintf("Missing required field: %s", f),
			Details:     map[string]interface{}{"missing_field": f},
			Remediation: fmt.Sprintf("Add %s configuration to automation", f),
		})
	}
	for idx, c := range conditionMaps(cfg) {
		if field, _ := c["field"].(string); field != "" {
			continue
		}
		issues = append(issues, models.AutomationIssue{
			IssueType:   models.IssueError,
			Severity:    models.SeverityHigh,
			Code:        "MISSING_CONDITION_FIELD",
			Message:     fmt.Sprintf("Condition %d missing field specification", idx+1),
			Details:     map[string]interface{}{"condition_index": idx},
			Remediation: "Specify which field this condition should evaluate",
		})
	}
	return issues
}

func checkInvalidConfig(cfg models.RuleConfig) []models.AutomationIssue {
	var issues []models.AutomationIssue
	trigger, _ := cfg["trigger"].(map[string]interface{})
	if len(trigger) > 0 {
		if t, _ := trigger["type"].(string); !isSupportedTrigger(models.TriggerType(t)) {
			issues = append(issues, models.AutomationIssue{
				IssueType:   models.IssueError,
				Severity:    models.SeverityMedium,
				Code:        "INVALID_TRIGGER_TYPE",
				Message:     fmt.Sprintf("Unsupported trigger type: %q", t),
				Details:     map[string]interface{}{"trigger_type": t},
				Remediation: "Use one of: schedule, event, threshold, behavior",
			})
		}
	}
	if t, _ := trigger["type"].(string); t == string(models.TriggerSchedule) {
		if s, _ := trigger["schedule"].(string); strings.TrimSpace(s) == "" {
			issues = append(issues, models.AutomationIssue{
				IssueType:   models.IssueError,
				Severity:    models.SeverityHigh,
				Code:        "INVALID_SCHEDULE",
				Message:     "Schedule trigger missing schedule configuration",
				Remediation: `Add schedule (e.g., "weekly", "daily", "0 9 * * *")`,
			})
		}
	}
	for idx, c := range conditionMaps(cfg) {
		op, _ := c["operator"].(string)
		if op == "" || IsValidOperator(op) {
			continue
		}
		issues = append(issues, models.AutomationIssue{
			IssueType: models.IssueError,
			Severity:  models.SeverityMedium,
			Code:      "INVALID_OPERATOR",
			Message:   fmt.Sprintf("Condition %d uses invalid operator: %s", idx+1, op),
			Details: map[string]interface{}{
				"condition_index":  idx,
				"invalid_operator": op,
			},
			Remediation: "Use one of: " + strings.Join(ValidOperators, ", "),
		})
	}
	return issues
}

func checkDeprecatedTemplate(cfg models.RuleConfig) []models.AutomationIssue {
	action, _ := cfg["action"].(map[string]interface{})
	actionType, _ := action["type"].(string)
	version, _ := action["template_version"].(string)
	if actionType == "" || version == "" {
		return nil
	}
	for _, v := range deprecatedTemplates[actionType] {
		if v != version {
			continue
		}
		return []models.AutomationIssue{{
			IssueType: models.IssueWarning,
			Severity:  models.SeverityMedium,
			Code:      "DEPRECATED_TEMPLATE",
			Message:   fmt.Sprintf("Using deprecated template version: %s", version),
			Details: map[string]interface{}{
				"action_type":         actionType,
				"current_version":     version,
				"recommended_version": recommendedTemplateVers,
			},
			Remediation: "Update to latest template version for improved features",
		}}
	}
	return nil
}

func checkDormant(records []models.ExecutionRecord, now time.Time) []models.AutomationIssue {
	if len(records) == 0 {
		return []models.AutomationIssue{{
			IssueType:   models.IssueWarning,
			Severity:    models.SeverityLow,
			Code:        "DORMANT_AUTOMATION",
			Message:     "Automation has no execution history",
			Details:     map[string]interface{}{"days_since_last_run": nil},
			Remediation: "Verify automation is configured correctly and trigger conditions are reachable",
		}}
	}
	latest := records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	days := int(now.Sub(latest).Hours() / 24)
	if days <= dormantAfterDays {
		return nil
	}
	return []models.AutomationIssue{{
		IssueType: models.IssueWarning,
		Severity:  models.SeverityMedium,
		Code:      "DORMANT_AUTOMATION",
		Message:   fmt.Sprintf("Automation hasn't fired in %d days", days),
		Details: map[string]interface{}{
			"days_since_last_run": days,
			"last_run":            latest.UTC().Format(time.RFC3339),
		},
		Remediation: "Review trigger conditions or disable if no longer needed",
	}}
}

func checkFailureRate(records []models.ExecutionRecord) []models.AutomationIssue {
	if len(records) < minRecordsForFailure {
		return nil
	}
	sorted := make([]models.ExecutionRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })
	if len(sorted) > failureWindow {
		sorted = sorted[:failureWindow]
	}

	var failed []models.ExecutionRecord
	for _, r := range sorted {
		if r.Result == models.ResultFailed {
			failed = append(failed, r)
		}
	}
	rate := float64(len(failed)) / float64(len(sorted))
	if rate < failureRateThreshold {
		return nil
	}
	return []models.AutomationIssue{{
		IssueType: models.IssueError,
		Severity:  models.SeverityHigh,
		Code:      "HIGH_FAILURE_RATE",
		Message:   fmt.Sprintf("Automation failing %d%% of the time", int(rate*100)),
		Details: map[string]interface{}{
			"failure_rate":      rate,
			"recent_executions": len(sorted),
			"failed_executions": len(failed),
			"common_errors":     commonErrors(failed),
		},
		Remediation: "Review error logs and fix underlying issues",
	}}
}

// commonErrors returns up to three distinct error strings, first seen first.
func commonErrors(failed []models.ExecutionRecord) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, r := range failed {
		for _, e := range r.Errors {
			if seen[e] {
				continue
			}
			seen[e] = true
			out = append(out, e)
			if len(out) == maxCommonErrors {
				return out
			}
		}
	}
	return out
}

func checkSlowExecution(records []models.ExecutionRecord) []models.AutomationIssue {
	var (
		sum      int64
		n        int
		min, max int64
	)
	for _, r := range records {
		ms := r.ExecutionTimeMs
		if ms == 0 {
			continue
		}
		if n == 0 || ms < min {
			min = ms
		}
		if n == 0 || ms > max {
			max = ms
		}
		sum += ms
		n++
	}
	if n == 0 {
		return nil
	}
	avg := float64(sum) / float64(n)
	if avg <= slowExecutionMs {
		return nil
	}
	return []models.AutomationIssue{{
		IssueType: models.IssueWarning,
		Severity:  models.SeverityLow,
		Code:      "SLOW_EXECUTION",
		Message:   fmt.Sprintf("Average execution time is %.1f seconds", avg/1000),
		Details: map[string]interface{}{
			"avg_execution_ms": avg,
			"max_execution_ms": max,
			"min_execution_ms": min,
		},
		Remediation: "Optimize automation logic or break into smaller workflows",
	}}
}

func checkHighRisk(cfg models.RuleConfig) []models.AutomationIssue {
	actionType := configActionType(cfg)
	if !HighRiskActions[actionType] {
		return nil
	}
	return []models.AutomationIssue{{
		IssueType:   models.IssueInfo,
		Severity:    models.SeverityMedium,
		Code:        "HIGH_RISK_ACTION",
		Message:     fmt.Sprintf("This automation performs high-risk action: %s", actionType),
		Details:     map[string]interface{}{"action_type": actionType},
		Remediation: "Ensure proper testing and monitoring. Consider adding council oversight.",
	}}
}

func (d *Diagnostics) checkConflicts(automationID string, cfg models.RuleConfig) []models.AutomationIssue {
	actionType := configActionType(cfg)
	if actionType == "" {
		return nil
	}
	conflicts := d.conflicts(actionType, automationID)
	if len(conflicts) == 0 {
		return nil
	}
	return []models.AutomationIssue{{
		IssueType: models.IssueWarning,
		Severity:  models.SeverityMedium,
		Code:      "POTENTIAL_CONFLICT",
		Message:   "Similar automations detected: " + strings.Join(conflicts, ", "),
		Details: map[string]interface{}{
			"action_type":             actionType,
			"conflicting_automations": conflicts,
		},
		Remediation: "Review automation logic to ensure they don't interfere with each other",
	}}
}

func configActionType(cfg models.RuleConfig) string {
	action, _ := cfg["action"].(map[string]interface{})
	t, _ := action["type"].(string)
	return t
}

// conditionMaps returns the condition entries of cfg that are objects.
func conditionMaps(cfg models.RuleConfig) []map[string]interface{} {
	var out []map[string]interface{}
	switch list := cfg["conditions"].(type) {
	case []interface{}:
		for _, c := range list {
			m, _ := c.(map[string]interface{})
			out = append(out, m)
		}
	case []map[string]interface{}:
		out = append(out, list...)
	}
	return out
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	case []map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}
