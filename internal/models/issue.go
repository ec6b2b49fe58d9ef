package models

import "time"

// IssueType classifies a diagnostics finding.
type IssueType string

const (
	IssueError   IssueType = "error"
	IssueWarning IssueType = "warning"
	IssueInfo    IssueType = "info"
)

// IssueSeverity 问题严重程度
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityHigh     IssueSeverity = "high"
	SeverityMedium   IssueSeverity = "medium"
	SeverityLow      IssueSeverity = "low"
)

// AutomationIssue is a configuration or behavioural defect found by a
// diagnostics run. It only lives inside an IssueReport.
type AutomationIssue struct {
	IssueType    IssueType              `json:"issue_type"`
	Severity     IssueSeverity          `json:"severity"`
	Code         string                 `json:"code"`
	Message      string                 `json:"message"`
	AutomationID string                 `json:"automation_id"`
	Details      map[string]interface{} `json:"details"`
	Remediation  string                 `json:"remediation"`
	DetectedAt   time.Time              `json:"detected_at"`
}

// IssueSummary counts issues by severity. CriticalCount only counts errors.
type IssueSummary struct {
	CriticalCount int `json:"critical_count"`
	HighCount     int `json:"high_count"`
	MediumCount   int `json:"medium_count"`
	LowCount      int `json:"low_count"`
}

// IssueReport is the self-contained result of one diagnostics run.
type IssueReport struct {
	AutomationID string            `json:"automation_id"`
	CheckedAt    time.Time         `json:"checked_at"`
	TotalIssues  int               `json:"total_issues"`
	HealthScore  int               `json:"health_score"`
	Errors       []AutomationIssue `json:"errors"`
	Warnings     []AutomationIssue `json:"warnings"`
	Info         []AutomationIssue `json:"info"`
	Summary      IssueSummary      `json:"summary"`
}

// Issues returns every issue in the report, errors first.
func (r *IssueReport) Issues() []AutomationIssue {
	out := make([]AutomationIssue, 0, r.TotalIssues)
	out = append(out, r.Errors...)
	out = append(out, r.Warnings...)
	out = append(out, r.Info...)
	return out
}
