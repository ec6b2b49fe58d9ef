package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autoflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RuleService manages automation rules and their run counters.
type RuleService struct {
	db      *gorm.DB
	catalog *Catalog
	logger  *logrus.Logger
}

func NewRuleService(db *gorm.DB, catalog *Catalog, logger *logrus.Logger) *RuleService {
	if logger == nil {
		logger = logrus.New()
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &RuleService{db: db, catalog: catalog, logger: logger}
}

// AutomationRuleRequest 创建自动化规则的请求
type AutomationRuleRequest struct {
	TenantID         string                    `json:"tenant_id" binding:"required"`
	Name             string                    `json:"name" binding:"required"`
	Description      string                    `json:"description"`
	Trigger          models.TriggerSpec        `json:"trigger"`
	Conditions       []models.ConditionSpec    `json:"conditions"`
	Action           models.ActionSpec         `json:"action"`
	RiskLevel        models.RiskLevel          `json:"risk_level"`
	RequiresApproval bool                      `json:"requires_approval"`
	AutoApproval     *models.AutoApprovalRules `json:"auto_approval_rules"`
	CouncilID        string                    `json:"council_id"`
	Enabled          *bool                     `json:"enabled"`
}

// CreateRule validates and persists a new rule.
func (s *RuleService) CreateRule(ctx context.Context, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !isSupportedTrigger(req.Trigger.Type) {
		return nil, fmt.Errorf("unsupported trigger type: %s", req.Trigger.Type)
	}
	for i, c := range req.Conditions {
		if c.Operator != "" && !IsValidOperator(c.Operator) {
			return nil, fmt.Errorf("condition %d: unsupported operator: %s", i+1, c.Operator)
		}
	}
	risk := req.RiskLevel
	if risk == "" {
		risk = models.RiskLow
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule := &models.AutomationRule{
		TenantID:         req.TenantID,
		Name:             req.Name,
		Description:      req.Description,
		Enabled:          enabled,
		Trigger:          req.Trigger,
		Conditions:       req.Conditions,
		Action:           req.Action,
		RiskLevel:        risk,
		RequiresApproval: req.RequiresApproval,
		AutoApproval:     req.AutoApproval,
		CouncilID:        req.CouncilID,
	}
	if err := s.save(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// CreateFromTemplate applies user values to a template and persists the
// resulting rule. Schema violations are returned joined under
// ErrInvalidConfig.
func (s *RuleService) CreateFromTemplate(ctx context.Context, tenantID, templateID string, values map[string]interface{}) (*models.AutomationRule, error) {
	tpl, err := s.catalog.Get(templateID)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = map[string]interface{}{}
	}
	if errs := ValidateConfig(tpl.ConfigSchema, values); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	rule := DraftToRule(tenantID, ApplyOverrides(tpl, values))
	if err := s.save(ctx, rule); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"template_id": templateID,
		"rule_id":     rule.ID,
	}).Info("automation: rule created from template")
	return rule, nil
}

func (s *RuleService) save(ctx context.Context, rule *models.AutomationRule) error {
	if rule.ID == "" {
		rule.ID = "auto_" + uuid.NewString()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// GetRule 按 ID 获取规则
func (s *RuleService) GetRule(ctx context.Context, id string) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// ListRules 返回租户的规则；tenantID 为空时返回全部
func (s *RuleService) ListRules(ctx context.Context, tenantID string, enabledOnly bool) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	if err := q.Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// ActiveRules returns every enabled rule across tenants.
func (s *RuleService) ActiveRules(ctx context.Context) ([]models.AutomationRule, error) {
	return s.ListRules(ctx, "", true)
}

// SetEnabled 启用/停用规则；进行中的评估不受影响，下一轮生效
func (s *RuleService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"enabled": enabled, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRule 删除规则
func (s *RuleService) DeleteRule(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.AutomationRule{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// RecordExecution folds one run into the rule's counters. The average
// execution time is an exponential moving average.
func (s *RuleService) RecordExecution(ctx context.Context, id string, success bool, elapsedMs int64, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rule models.AutomationRule
		if err := tx.First(&rule, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRuleNotFound
			}
			return err
		}
		updates := map[string]interface{}{
			"total_runs":        rule.TotalRuns + 1,
			"last_triggered_at": at,
		}
		if success {
			updates["success_count"] = rule.SuccessCount + 1
		} else {
			updates["failure_count"] = rule.FailureCount + 1
		}
		avg := float64(elapsedMs)
		if rule.AvgExecutionTimeMs > 0 {
			avg = rule.AvgExecutionTimeMs*0.9 + float64(elapsedMs)*0.1
		}
		updates["avg_execution_time_ms"] = avg
		return tx.Model(&models.AutomationRule{}).Where("id = ?", id).Updates(updates).Error
	})
}

// ConflictFinder returns a lookup of other enabled rules of the same tenant
// performing the same action type.
func (s *RuleService) ConflictFinder(ctx context.Context, tenantID string) ConflictFinder {
	return func(actionType, automationID string) []string {
		rules, err := s.ListRules(ctx, tenantID, true)
		if err != nil {
			s.logger.Warnf("automation: conflict lookup failed: %v", err)
			return StaticConflicts(actionType, automationID)
		}
		var ids []string
		for _, r := range rules {
			if r.ID != automationID && string(r.Action.Type) == actionType {
				ids = append(ids, r.ID)
			}
		}
		return mergeUnique(StaticConflicts(actionType, automationID), ids)
	}
}

func mergeUnique(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func isSupportedTrigger(t models.TriggerType) bool {
	switch t {
	case models.TriggerSchedule, models.TriggerEvent, models.TriggerThreshold, models.TriggerBehavior:
		return true
	default:
		return false
	}
}
