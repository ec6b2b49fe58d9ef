package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"autoflow/internal/models"
	"autoflow/internal/store"

	"github.com/sirupsen/logrus"
)

const (
	defaultLogDays     = 7
	defaultLogLimit    = 50
	defaultAuditDays   = 30
	healthHistorySize  = 10
	verdictWouldRun    = "✅ Action WOULD run"
	verdictWouldNotRun = "❌ Action would NOT run"
)

// RuleLookup is the read side of the rule store the debugger needs.
type RuleLookup interface {
	GetRule(ctx context.Context, id string) (*models.AutomationRule, error)
	ListRules(ctx context.Context, tenantID string, enabledOnly bool) ([]models.AutomationRule, error)
}

// DebuggerService answers the debugging questions asked about rules and
// their execution records. It never executes actions.
type DebuggerService struct {
	records     store.Store
	rules       RuleLookup
	diagnostics *Diagnostics
	now         func() time.Time
	logger      *logrus.Logger
}

func NewDebuggerService(records store.Store, rules RuleLookup, diagnostics *Diagnostics, logger *logrus.Logger) *DebuggerService {
	if logger == nil {
		logger = logrus.New()
	}
	if diagnostics == nil {
		diagnostics = NewDiagnostics(logger)
	}
	return &DebuggerService{records: records, rules: rules, diagnostics: diagnostics, now: time.Now, logger: logger}
}

// WithClock replaces the clock used for windows and simulation.
func (s *DebuggerService) WithClock(now func() time.Time) *DebuggerService {
	s.now = now
	return s
}

// LogQuery 日志查询参数
type LogQuery struct {
	Days   int                `form:"days"`
	Limit  int                `form:"limit"`
	Result models.EventResult `form:"result"`
}

// LogSummary aggregates records in a window.
type LogSummary struct {
	TotalRuns          int     `json:"total_runs"`
	Successful         int     `json:"successful"`
	Skipped            int     `json:"skipped"`
	Failed             int     `json:"failed"`
	AvgExecutionTimeMs float64 `json:"avg_execution_time_ms"`
}

// LogListing is a page of clean logs plus the summary of the whole window.
type LogListing struct {
	AutomationID string     `json:"automation_id"`
	TotalLogs    int        `json:"total_logs"`
	Logs         []CleanLog `json:"logs"`
	Summary      LogSummary `json:"summary"`
}

// ListLogs returns the newest records of an automation in the last
// q.Days days. The summary covers the whole filtered window, the logs at
// most q.Limit of it.
func (s *DebuggerService) ListLogs(ctx context.Context, automationID string, q LogQuery) (*LogListing, error) {
	if q.Days <= 0 {
		q.Days = defaultLogDays
	}
	if q.Limit <= 0 {
		q.Limit = defaultLogLimit
	}
	if q.Result != "" && !q.Result.Valid() {
		return nil, fmt.Errorf("unknown result filter: %s", q.Result)
	}
	records, err := s.records.List(ctx, store.Query{
		AutomationID: automationID,
		Result:       q.Result,
		Since:        s.now().Add(-time.Duration(q.Days) * 24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	out := &LogListing{AutomationID: automationID, Summary: summarize(records), Logs: []CleanLog{}}
	for i := range records {
		if i >= q.Limit {
			break
		}
		out.Logs = append(out.Logs, FormatClean(&records[i]))
	}
	out.TotalLogs = len(out.Logs)
	return out, nil
}

func summarize(records []models.ExecutionRecord) LogSummary {
	var sum LogSummary
	var elapsed int64
	for _, r := range records {
		sum.TotalRuns++
		elapsed += r.ExecutionTimeMs
		switch r.Result {
		case models.ResultSuccess:
			sum.Successful++
		case models.ResultSkipped:
			sum.Skipped++
		case models.ResultFailed:
			sum.Failed++
		}
	}
	if sum.TotalRuns > 0 {
		sum.AvgExecutionTimeMs = float64(elapsed) / float64(sum.TotalRuns)
	}
	return sum
}

// Latest returns the newest record of an automation in clean form.
func (s *DebuggerService) Latest(ctx context.Context, automationID string) (*CleanLog, error) {
	recs, err := s.records.Recent(ctx, automationID, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	clean := FormatClean(&recs[0])
	return &clean, nil
}

// Get returns one record in the requested format: "full" (the record
// itself), "clean" (the default) or "minimal".
func (s *DebuggerService) Get(ctx context.Context, id, format string) (interface{}, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch format {
	case "full":
		return rec, nil
	case "minimal":
		return FormatMinimal(rec), nil
	case "", "clean":
		return FormatClean(rec), nil
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}

// CreateFromClean parses a clean log submitted by an external collaborator
// and appends it.
func (s *DebuggerService) CreateFromClean(ctx context.Context, tenantID string, raw []byte) (*models.ExecutionRecord, error) {
	rec, err := ParseClean(tenantID, "", raw)
	if err != nil {
		return nil, err
	}
	if rec.AutomationID == "" {
		return nil, fmt.Errorf("automation_id required")
	}
	if err := s.records.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("append record: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "automation_id": rec.AutomationID}).
		Debugf("debugger: record %s imported", rec.ID)
	return rec, nil
}

// Health diagnoses a rule from its stored config and its last records.
func (s *DebuggerService) Health(ctx context.Context, automationID string) (*models.IssueReport, error) {
	rule, err := s.rules.GetRule(ctx, automationID)
	if err != nil {
		return nil, err
	}
	records, err := s.records.Recent(ctx, automationID, healthHistorySize)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	diag := s.diagnostics
	if cs, ok := s.rules.(conflictSource); ok {
		diag = &Diagnostics{now: diag.now, conflicts: cs.ConflictFinder(ctx, rule.TenantID), logger: diag.logger}
	}
	return diag.DetectIssues(rule.ID, rule.Config(), records), nil
}

// SimulationTrigger describes whether the trigger would fire.
type SimulationTrigger struct {
	Type      models.TriggerType     `json:"type"`
	WouldFire bool                   `json:"would_fire"`
	NextRun   *time.Time             `json:"next_run,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type SimulationAction struct {
	WouldExecute bool              `json:"would_execute"`
	Reason       *string           `json:"reason"`
	Type         models.ActionType `json:"type"`
	Steps        int               `json:"steps"`
}

type SimulationDiagnostics struct {
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	MissingData []string `json:"missing_data"`
}

type SimulationSummary struct {
	Verdict          string `json:"verdict"`
	ConditionsPassed int    `json:"conditions_passed"`
	ConditionsFailed int    `json:"conditions_failed"`
	ErrorsCount      int    `json:"errors_count"`
	WarningsCount    int    `json:"warnings_count"`
}

// Simulation is the outcome of a dry run.
type Simulation struct {
	AutomationID        string                `json:"automation_id"`
	AutomationName      string                `json:"automation_name"`
	TestTime            time.Time             `json:"test_time"`
	Status              string                `json:"status"`
	Trigger             SimulationTrigger     `json:"trigger"`
	Conditions          []CleanCondition      `json:"conditions"`
	AllConditionsPassed bool                  `json:"all_conditions_passed"`
	Action              SimulationAction      `json:"action"`
	Diagnostics         SimulationDiagnostics `json:"diagnostics"`
	Summary             SimulationSummary     `json:"summary"`
}

// Simulate runs a rule's trigger, conditions and approval gate against the
// supplied data without executing anything or appending a record. The
// data serves as both metrics and condition data; a map under "event" is
// treated as an event of that type. Schedule triggers are reported as
// firing at their next run.
func (s *DebuggerService) Simulate(ctx context.Context, automationID string, data map[string]interface{}) (*Simulation, error) {
	rule, err := s.rules.GetRule(ctx, automationID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	now := s.now().UTC()

	snap := models.Snapshot{Data: data, Metrics: data}
	if evt, ok := data["event"].(map[string]interface{}); ok {
		e := models.Event{Timestamp: now}
		e.Type, _ = evt["type"].(string)
		e.Source, _ = evt["source"].(string)
		e.Data, _ = evt["data"].(map[string]interface{})
		snap.Events = []models.Event{e}
	}

	trigger := SimulationTrigger{Type: rule.Trigger.Type, NextRun: NextScheduledRun(rule.Trigger, now)}
	if rule.Trigger.Type == models.TriggerSchedule {
		trigger.WouldFire = trigger.NextRun != nil
	} else {
		trigger.WouldFire, trigger.Details = EvaluateTrigger(rule.Trigger, now, snap)
	}

	evalData := BuildData(snap, trigger.Details)
	results, allPassed := EvaluateConditions(rule.Conditions, evalData)

	sim := &Simulation{
		AutomationID:        rule.ID,
		AutomationName:      rule.Name,
		TestTime:            now,
		Trigger:             trigger,
		Conditions:          make([]CleanCondition, 0, len(results)),
		AllConditionsPassed: allPassed,
		Action:              SimulationAction{Type: rule.Action.Type, Steps: len(rule.Action.Steps)},
		Diagnostics: SimulationDiagnostics{
			Errors:      []string{},
			Warnings:    []string{},
			MissingData: []string{},
		},
	}
	for i, c := range results {
		sim.Conditions = append(sim.Conditions, CleanCondition{
			ID: i + 1, Condition: c.Condition, Passed: c.Passed, Value: c.ActualValue, Expected: c.Expected,
		})
		if c.Passed {
			sim.Summary.ConditionsPassed++
		} else {
			sim.Summary.ConditionsFailed++
		}
	}
	for _, c := range rule.Conditions {
		if _, ok := LookupField(evalData, c.Field); !ok && !containsString(sim.Diagnostics.MissingData, c.Field) {
			sim.Diagnostics.MissingData = append(sim.Diagnostics.MissingData, c.Field)
		}
	}
	if len(sim.Diagnostics.MissingData) > 0 {
		sim.Diagnostics.Warnings = append(sim.Diagnostics.Warnings, "Missing data: "+strings.Join(sim.Diagnostics.MissingData, ", "))
	}

	report := s.diagnostics.DetectIssues(rule.ID, rule.Config(), nil)
	for _, issue := range report.Errors {
		sim.Diagnostics.Errors = append(sim.Diagnostics.Errors, issue.Message)
	}
	for _, issue := range report.Warnings {
		sim.Diagnostics.Warnings = append(sim.Diagnostics.Warnings, issue.Message)
	}

	approved := !rule.RequiresApproval || ShouldAutoApprove(rule, evalData, now)
	var reason string
	switch {
	case !trigger.WouldFire:
		reason = reasonTriggerNotFired
	case !allPassed:
		reason = reasonConditionsFailed
	case len(sim.Diagnostics.Errors) > 0:
		reason = "Errors present"
	case !approved:
		reason = reasonApproval
		sim.Diagnostics.Warnings = append(sim.Diagnostics.Warnings, reasonApproval)
	}
	if reason == "" {
		sim.Status = "ready"
		sim.Action.WouldExecute = true
		sim.Summary.Verdict = verdictWouldRun
		if HighRiskActions[string(rule.Action.Type)] {
			sim.Diagnostics.Warnings = append(sim.Diagnostics.Warnings,
				fmt.Sprintf("This automation will perform high-risk action: %s", rule.Action.Type))
		}
	} else {
		sim.Status = "blocked"
		sim.Action.Reason = &reason
		sim.Summary.Verdict = verdictWouldNotRun
	}
	sim.Summary.ErrorsCount = len(sim.Diagnostics.Errors)
	sim.Summary.WarningsCount = len(sim.Diagnostics.Warnings)
	return sim, nil
}

// AuditFinding is one governance finding about an automation.
type AuditFinding struct {
	AutomationID string                 `json:"automation_id"`
	Code         string                 `json:"code"`
	Severity     models.IssueSeverity   `json:"severity"`
	Message      string                 `json:"message"`
	Timestamp    string                 `json:"timestamp,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// AuditConflict is a group of active automations competing for one effect.
type AuditConflict struct {
	ConflictType string               `json:"conflict_type"`
	Severity     models.IssueSeverity `json:"severity"`
	ActionType   string               `json:"action_type"`
	Automations  []string             `json:"automations"`
	Message      string               `json:"message"`
}

type AuditPatterns struct {
	TotalExecutions           int     `json:"total_executions"`
	SuccessRate               float64 `json:"success_rate"`
	SkipRate                  float64 `json:"skip_rate"`
	FailureRate               float64 `json:"failure_rate"`
	HighRiskActionsCount      int     `json:"high_risk_actions_count"`
	GovernanceComplianceScore int     `json:"governance_compliance_score"`
}

type AuditSummary struct {
	CriticalIssues    int  `json:"critical_issues"`
	MediumIssues      int  `json:"medium_issues"`
	LowIssues         int  `json:"low_issues"`
	RequiresAttention bool `json:"requires_attention"`
}

// CouncilAudit is the governance view across the automations a council
// oversees.
type CouncilAudit struct {
	CouncilID            string          `json:"council_id"`
	AuditTime            time.Time       `json:"audit_time"`
	PeriodDays           int             `json:"period_days"`
	AutomationsMonitored int             `json:"automations_monitored"`
	TotalIssues          int             `json:"total_issues"`
	RiskFlags            []AuditFinding  `json:"risk_flags"`
	GovernanceViolations []AuditFinding  `json:"governance_violations"`
	TemplateMismatches   []AuditFinding  `json:"template_mismatches"`
	AutomationConflicts  []AuditConflict `json:"automation_conflicts"`
	HistoricalPatterns   AuditPatterns   `json:"historical_patterns"`
	Summary              AuditSummary    `json:"summary"`
}

// CouncilAudit audits the rules assigned to councilID and their records of
// the last days days.
func (s *DebuggerService) CouncilAudit(ctx context.Context, councilID string, days int) (*CouncilAudit, error) {
	if councilID == "" {
		return nil, errors.New("council_id required")
	}
	if days <= 0 {
		days = defaultAuditDays
	}
	now := s.now().UTC()

	all, err := s.rules.ListRules(ctx, "", false)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	byID := map[string]*models.AutomationRule{}
	var ids []string
	for i := range all {
		if all[i].CouncilID != councilID {
			continue
		}
		byID[all[i].ID] = &all[i]
		ids = append(ids, all[i].ID)
	}

	audit := &CouncilAudit{
		CouncilID:            councilID,
		AuditTime:            now,
		PeriodDays:           days,
		AutomationsMonitored: len(ids),
		RiskFlags:            []AuditFinding{},
		GovernanceViolations: []AuditFinding{},
		TemplateMismatches:   []AuditFinding{},
		AutomationConflicts:  []AuditConflict{},
	}
	if len(ids) == 0 {
		audit.HistoricalPatterns.GovernanceComplianceScore = 100
		return audit, nil
	}

	records, err := s.records.List(ctx, store.Query{
		AutomationIDs: ids,
		Since:         now.Add(-time.Duration(days) * 24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	var successful, skipped, failed int
	for _, rec := range records {
		switch rec.Result {
		case models.ResultSuccess:
			successful++
		case models.ResultSkipped:
			skipped++
		case models.ResultFailed:
			failed++
			if len(rec.Errors) > 0 {
				audit.GovernanceViolations = append(audit.GovernanceViolations, AuditFinding{
					AutomationID: rec.AutomationID,
					Code:         "REPEATED_FAILURE",
					Severity:     models.SeverityHigh,
					Message:      "Automation failed: " + rec.Errors[0],
					Timestamp:    formatTimestamp(rec.Timestamp),
				})
			}
		}
		rule := byID[rec.AutomationID]
		if rule == nil || !HighRiskActions[string(rule.Action.Type)] {
			continue
		}
		for range rec.ActionsTaken {
			audit.RiskFlags = append(audit.RiskFlags, AuditFinding{
				AutomationID: rec.AutomationID,
				Code:         "HIGH_RISK_ACTION",
				Severity:     models.SeverityMedium,
				Message:      fmt.Sprintf("High-risk action %s executed without council approval", rule.Action.Type),
				Timestamp:    formatTimestamp(rec.Timestamp),
			})
		}
	}

	groups := map[string][]string{}
	for _, id := range ids {
		rule := byID[id]
		for _, issue := range checkDeprecatedTemplate(rule.Config()) {
			audit.TemplateMismatches = append(audit.TemplateMismatches, AuditFinding{
				AutomationID: id,
				Code:         issue.Code,
				Severity:     models.SeverityLow,
				Message:      issue.Message,
				Details:      issue.Details,
			})
		}
		if rule.Enabled && rule.Action.Type != "" {
			groups[string(rule.Action.Type)] = append(groups[string(rule.Action.Type)], id)
		}
	}
	actionTypes := make([]string, 0, len(groups))
	for t := range groups {
		actionTypes = append(actionTypes, t)
	}
	sort.Strings(actionTypes)
	for _, t := range actionTypes {
		members := groups[t]
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		audit.AutomationConflicts = append(audit.AutomationConflicts, AuditConflict{
			ConflictType: "OVERLAPPING_SCHEDULES",
			Severity:     models.SeverityMedium,
			ActionType:   t,
			Automations:  members,
			Message:      fmt.Sprintf("Multiple %s automations may create duplicate effects", humanize(t)),
		})
	}

	total := len(records)
	audit.HistoricalPatterns = AuditPatterns{
		TotalExecutions:           total,
		HighRiskActionsCount:      len(audit.RiskFlags),
		GovernanceComplianceScore: 100 - len(audit.GovernanceViolations)*10,
	}
	if audit.HistoricalPatterns.GovernanceComplianceScore < 0 {
		audit.HistoricalPatterns.GovernanceComplianceScore = 0
	}
	if total > 0 {
		audit.HistoricalPatterns.SuccessRate = float64(successful) / float64(total) * 100
		audit.HistoricalPatterns.SkipRate = float64(skipped) / float64(total) * 100
		audit.HistoricalPatterns.FailureRate = float64(failed) / float64(total) * 100
	}

	audit.TotalIssues = len(audit.RiskFlags) + len(audit.GovernanceViolations) +
		len(audit.TemplateMismatches) + len(audit.AutomationConflicts)
	audit.Summary = AuditSummary{
		CriticalIssues:    len(audit.GovernanceViolations),
		MediumIssues:      len(audit.RiskFlags) + len(audit.AutomationConflicts),
		LowIssues:         len(audit.TemplateMismatches),
		RequiresAttention: len(audit.GovernanceViolations) > 0 || len(audit.RiskFlags) > 2,
	}
	return audit, nil
}
