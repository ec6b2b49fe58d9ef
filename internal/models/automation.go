package models

import (
	"encoding/json"
	"time"
)

// TriggerType is the kind of trigger that makes a rule eligible to run.
type TriggerType string

const (
	TriggerSchedule  TriggerType = "schedule"
	TriggerEvent     TriggerType = "event"
	TriggerThreshold TriggerType = "threshold"
	TriggerBehavior  TriggerType = "behavior"
)

// ActionType identifies the effect a rule performs.
type ActionType string

const (
	ActionStartWorkflow     ActionType = "start_workflow"
	ActionSendNotification  ActionType = "send_notification"
	ActionUpdateProduct     ActionType = "update_product"
	ActionGenerateCampaign  ActionType = "generate_campaign"
	ActionCreateLandingPage ActionType = "create_landing_page"
	ActionAddProduct        ActionType = "add_product"
	ActionUpdateStore       ActionType = "update_store"
	ActionGenerateDraft     ActionType = "generate_draft"

	// 诊断层关注的动作类型（风险/冲突/模板版本）
	ActionSocialPostGeneration ActionType = "social_post_generation"
	ActionEmailCampaign        ActionType = "email_campaign"
	ActionPriceUpdate          ActionType = "price_update"
	ActionInventoryDeletion    ActionType = "inventory_deletion"
	ActionProductBundling      ActionType = "product_bundling"
	ActionWebhook              ActionType = "webhook"
)

// RiskLevel 动作风险等级
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// EventResult is the outcome of one evaluation tick for one rule.
type EventResult string

const (
	ResultSuccess EventResult = "success"
	ResultSkipped EventResult = "skipped"
	ResultFailed  EventResult = "failed"
)

// Valid reports whether r is one of the known results.
func (r EventResult) Valid() bool {
	switch r {
	case ResultSuccess, ResultSkipped, ResultFailed:
		return true
	default:
		return false
	}
}

// TriggerSpec describes when a rule is eligible to run. Only the fields
// belonging to Type are meaningful.
type TriggerSpec struct {
	Type TriggerType `json:"type" yaml:"type"`

	// schedule: "minute hour * * *"
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// event
	EventType string `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	Source    string `json:"source,omitempty" yaml:"source,omitempty"`

	// threshold
	Metric    string      `json:"metric,omitempty" yaml:"metric,omitempty"`
	Operator  string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Threshold interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	// behavior
	BehaviorType   string `json:"behavior_type,omitempty" yaml:"behavior_type,omitempty"`
	TimeframeHours int    `json:"timeframe_hours,omitempty" yaml:"timeframe_hours,omitempty"`
}

// ConditionSpec is a single comparator check against the data snapshot.
type ConditionSpec struct {
	Field    string      `json:"field,omitempty" yaml:"field,omitempty"`
	Operator string      `json:"operator" yaml:"operator"`
	Expected interface{} `json:"expected" yaml:"expected"`
}

// UnmarshalJSON accepts "value" as an alias of "expected", which is how
// catalog data and older rule configs spell it.
func (c *ConditionSpec) UnmarshalJSON(data []byte) error {
	var raw struct {
		Field    string          `json:"field"`
		Operator string          `json:"operator"`
		Expected json.RawMessage `json:"expected"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Field = raw.Field
	c.Operator = raw.Operator
	c.Expected = nil
	src := raw.Expected
	if len(src) == 0 {
		src = raw.Value
	}
	if len(src) > 0 {
		if err := json.Unmarshal(src, &c.Expected); err != nil {
			return err
		}
	}
	return nil
}

// ActionSpec describes what a rule does. Steps, when present, are executed
// as independent sub-actions.
type ActionSpec struct {
	Type            ActionType             `json:"type" yaml:"type"`
	TemplateVersion string                 `json:"template_version,omitempty" yaml:"template_version,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Steps           []ActionSpec           `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// AutoApprovalRules relax the approval gate for rules that require it.
type AutoApprovalRules struct {
	MaxBudget         float64 `json:"max_budget,omitempty"`
	TrustedUsersOnly  bool    `json:"trusted_users_only,omitempty"`
	BusinessHoursOnly bool    `json:"business_hours_only,omitempty"`
}

// AutomationRule 自动化规则定义（按租户隔离）
type AutomationRule struct {
	ID               string             `gorm:"primaryKey;size:64" json:"id"`
	TenantID         string             `gorm:"size:64;index;not null" json:"tenant_id"`
	Name             string             `gorm:"size:255" json:"name"`
	Description      string             `gorm:"type:text" json:"description,omitempty"`
	Enabled          bool               `gorm:"index" json:"enabled"`
	Trigger          TriggerSpec        `gorm:"serializer:json;type:text" json:"trigger"`
	Conditions       []ConditionSpec    `gorm:"serializer:json;type:text" json:"conditions"`
	Action           ActionSpec         `gorm:"serializer:json;type:text" json:"action"`
	RiskLevel        RiskLevel          `gorm:"size:16" json:"risk_level"`
	RequiresApproval bool               `json:"requires_approval"`
	AutoApproval     *AutoApprovalRules `gorm:"serializer:json;type:text" json:"auto_approval_rules,omitempty"`
	CouncilID        string             `gorm:"size:64;index" json:"council_id,omitempty"`
	TemplateID       string             `gorm:"size:128" json:"template_id,omitempty"`

	LastTriggeredAt    *time.Time `json:"last_triggered_at,omitempty"`
	TotalRuns          int        `json:"total_runs"`
	SuccessCount       int        `json:"success_count"`
	FailureCount       int        `json:"failure_count"`
	AvgExecutionTimeMs float64    `json:"avg_execution_time_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config renders the rule as the loose configuration map Diagnostics
// inspects. Empty sections are omitted so they read as missing.
func (r *AutomationRule) Config() RuleConfig {
	cfg := RuleConfig{}
	if r.Trigger.Type != "" {
		cfg["trigger"] = toGeneric(r.Trigger)
	}
	if len(r.Conditions) > 0 {
		cfg["conditions"] = toGeneric(r.Conditions)
	}
	if r.Action.Type != "" {
		cfg["action"] = toGeneric(r.Action)
	}
	return cfg
}

// RuleConfig is the untyped rule configuration as stored or submitted by
// external collaborators.
type RuleConfig map[string]interface{}

func toGeneric(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
