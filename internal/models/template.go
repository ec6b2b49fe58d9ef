package models

import "time"

// Config schema targets.
const (
	TargetTriggerConfig = "trigger_config"
	TargetActionConfig  = "action_config"
	TargetConditions    = "conditions"
)

// ConfigField is one user-editable template parameter.
type ConfigField struct {
	Key       string      `json:"key" yaml:"key"`
	Label     string      `json:"label" yaml:"label"`
	Type      string      `json:"type" yaml:"type"` // number, text, select, multiselect, boolean
	Default   interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Required  bool        `json:"required" yaml:"required"`
	HelpText  string      `json:"help_text,omitempty" yaml:"help_text,omitempty"`
	Options   []string    `json:"options,omitempty" yaml:"options,omitempty"`
	Target    string      `json:"target,omitempty" yaml:"target,omitempty"`
	TargetKey string      `json:"target_key,omitempty" yaml:"target_key,omitempty"`
}

// Predicate is a single field/operator/value clause of a suggestion rule.
type Predicate struct {
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value" yaml:"value"`
}

// SuggestionRules tell the advisor when to propose a template. All clauses
// in SuggestWhen must hold.
type SuggestionRules struct {
	SuggestWhen       map[string]Predicate `json:"suggest_when" yaml:"suggest_when"`
	SuggestionMessage string               `json:"suggestion_message" yaml:"suggestion_message"`
}

// AutomationTemplate 自动化模板（目录数据，只读为主）
type AutomationTemplate struct {
	ID                   string                 `json:"id" yaml:"id"`
	Name                 string                 `json:"name" yaml:"name"`
	Description          string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Category             string                 `json:"category" yaml:"category"`
	TriggerType          TriggerType            `json:"trigger_type" yaml:"trigger_type"`
	DefaultTriggerConfig map[string]interface{} `json:"default_trigger_config" yaml:"default_trigger_config"`
	DefaultConditions    []ConditionSpec        `json:"default_conditions" yaml:"default_conditions"`
	ActionType           ActionType             `json:"action_type" yaml:"action_type"`
	DefaultActionConfig  map[string]interface{} `json:"default_action_config" yaml:"default_action_config"`
	ConfigSchema         []ConfigField          `json:"config_schema" yaml:"config_schema"`
	RiskLevel            RiskLevel              `json:"risk_level" yaml:"risk_level"`
	RequiresApproval     bool                   `json:"requires_approval" yaml:"requires_approval"`
	RecommendedCouncilID string                 `json:"recommended_council_id,omitempty" yaml:"recommended_council_id,omitempty"`
	AISuggestionRules    *SuggestionRules       `json:"ai_suggestion_rules,omitempty" yaml:"ai_suggestion_rules,omitempty"`
	RecommendationType   RecommendationType     `json:"recommendation_type,omitempty" yaml:"recommendation_type,omitempty"`
	ImpactLevel          string                 `json:"impact_level,omitempty" yaml:"impact_level,omitempty"`
	PopularityScore      float64                `json:"popularity_score" yaml:"popularity_score"`
	SuccessRate          float64                `json:"success_rate" yaml:"success_rate"`
	Active               bool                   `json:"active" yaml:"active"`
}

// RuleDraft is a rule configuration produced from a template with user
// overrides applied. It is not persisted.
type RuleDraft struct {
	TemplateID       string                 `json:"template_id"`
	Name             string                 `json:"name"`
	Category         string                 `json:"category"`
	TriggerType      TriggerType            `json:"trigger_type"`
	TriggerConfig    map[string]interface{} `json:"trigger_config"`
	Conditions       []ConditionSpec        `json:"conditions"`
	ActionType       ActionType             `json:"action_type"`
	ActionConfig     map[string]interface{} `json:"action_config"`
	RiskLevel        RiskLevel              `json:"risk_level"`
	RequiresApproval bool                   `json:"requires_approval"`
	CouncilID        string                 `json:"council_id,omitempty"`
	Summary          string                 `json:"summary"`
}

// RecommendationType 推荐类型
type RecommendationType string

const (
	RecommendationWorkflow     RecommendationType = "workflow"
	RecommendationAutomation   RecommendationType = "automation"
	RecommendationProduct      RecommendationType = "product"
	RecommendationCampaign     RecommendationType = "campaign"
	RecommendationOptimization RecommendationType = "optimization"
	RecommendationAlert        RecommendationType = "alert"
)

// RecommendationStatus is the review state of a recommendation.
type RecommendationStatus string

const (
	StatusPending   RecommendationStatus = "pending"
	StatusAccepted  RecommendationStatus = "accepted"
	StatusDismissed RecommendationStatus = "dismissed"
	StatusExpired   RecommendationStatus = "expired"
	StatusCompleted RecommendationStatus = "completed"
)

// AdvisorRecommendation 顾问推荐（由模板建议规则匹配产生）
// At most one pending row exists per (tenant, template).
type AdvisorRecommendation struct {
	ID                string                 `gorm:"primaryKey;size:64" json:"id"`
	TenantID          string                 `gorm:"size:64;index:idx_rec_tenant_template;uniqueIndex:idx_rec_pending,where:status = 'pending'" json:"tenant_id"`
	TemplateID        string                 `gorm:"size:128;index:idx_rec_tenant_template;uniqueIndex:idx_rec_pending,where:status = 'pending'" json:"template_id"`
	Type              RecommendationType     `gorm:"size:32" json:"type"`
	Status            RecommendationStatus   `gorm:"size:16;index" json:"status"`
	Title             string                 `gorm:"size:255" json:"title"`
	Description       string                 `gorm:"type:text" json:"description"`
	ImpactLevel       string                 `gorm:"size:16" json:"impact_level"`
	ConfidenceScore   int                    `json:"confidence_score"`
	TriggeringSignals map[string]interface{} `gorm:"serializer:json;type:text" json:"triggering_signals"`
	PrimaryAction     string                 `gorm:"size:64" json:"primary_action"`
	SecondaryAction   string                 `gorm:"size:64" json:"secondary_action,omitempty"`
	ExpiresAt         *time.Time             `json:"expires_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	ResolvedAt        *time.Time             `json:"resolved_at,omitempty"`
}

// Open reports whether the recommendation still blocks a duplicate for the
// same tenant and template at time now.
func (r *AdvisorRecommendation) Open(now time.Time) bool {
	if r.Status != StatusPending {
		return false
	}
	return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
}
