package services

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"autoflow/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type catalogFile struct {
	Templates []models.AutomationTemplate `yaml:"templates"`
}

// Catalog is the read-mostly set of automation templates.
type Catalog struct {
	templates []models.AutomationTemplate
	byID      map[string]int
}

// NewCatalog indexes templates by id. Later duplicates replace earlier ones.
func NewCatalog(templates []models.AutomationTemplate) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(templates))}
	for _, t := range templates {
		if i, ok := c.byID[t.ID]; ok {
			c.templates[i] = t
			continue
		}
		c.byID[t.ID] = len(c.templates)
		c.templates = append(c.templates, t)
	}
	return c
}

// DefaultCatalog returns the built-in templates.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog: %v", err))
	}
	return c
}

// LoadCatalog reads a YAML catalog from path, or the built-in catalog when
// path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(b)
}

// ParseCatalog decodes catalog YAML.
func ParseCatalog(b []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, t := range f.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("parse catalog: template %d has no id", i)
		}
	}
	return NewCatalog(f.Templates), nil
}

// List returns active templates, optionally filtered by category, ordered
// by popularity.
func (c *Catalog) List(category string) []models.AutomationTemplate {
	out := make([]models.AutomationTemplate, 0, len(c.templates))
	for _, t := range c.templates {
		if !t.Active {
			continue
		}
		if category != "" && !strings.EqualFold(t.Category, category) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PopularityScore > out[j].PopularityScore })
	return out
}

// All returns every template in catalog order.
func (c *Catalog) All() []models.AutomationTemplate {
	out := make([]models.AutomationTemplate, len(c.templates))
	copy(out, c.templates)
	return out
}

// Get looks a template up by id.
func (c *Catalog) Get(id string) (models.AutomationTemplate, error) {
	i, ok := c.byID[id]
	if !ok {
		return models.AutomationTemplate{}, ErrTemplateNotFound
	}
	return c.templates[i], nil
}

// ApplyOverrides builds a rule draft from tpl with the user's values placed
// where the template's config schema says they belong.
func ApplyOverrides(tpl models.AutomationTemplate, values map[string]interface{}) models.RuleDraft {
	triggerCfg := copyMap(tpl.DefaultTriggerConfig)
	actionCfg := copyMap(tpl.DefaultActionConfig)
	conditions := make([]models.ConditionSpec, 0, len(tpl.DefaultConditions))
	for _, c := range tpl.DefaultConditions {
		c.Operator = NormalizeOperator(c.Operator)
		conditions = append(conditions, c)
	}

	for _, f := range tpl.ConfigSchema {
		v, ok := values[f.Key]
		if !ok {
			continue
		}
		key := f.Key
		if f.TargetKey != "" {
			key = f.TargetKey
		}
		switch f.Target {
		case models.TargetTriggerConfig:
			triggerCfg[key] = v
		case models.TargetConditions:
			conditions = overrideCondition(conditions, f.Key, f.TargetKey, v)
		default:
			actionCfg[key] = v
		}
	}

	draft := models.RuleDraft{
		TemplateID:       tpl.ID,
		Name:             tpl.Name + " (from template)",
		Category:         tpl.Category,
		TriggerType:      tpl.TriggerType,
		TriggerConfig:    triggerCfg,
		Conditions:       conditions,
		ActionType:       tpl.ActionType,
		ActionConfig:     actionCfg,
		RiskLevel:        tpl.RiskLevel,
		RequiresApproval: tpl.RequiresApproval,
		CouncilID:        tpl.RecommendedCouncilID,
	}
	draft.Summary = GenerateSummary(draft.TriggerType, draft.TriggerConfig, draft.ActionType, draft.ActionConfig)
	return draft
}

// overrideCondition writes v into one attribute of a condition. The
// condition is the one whose field equals key, else the first one; attr
// names the attribute ("value"/"expected" or "operator", default value).
// With no conditions at all an equality condition on key is added.
func overrideCondition(conds []models.ConditionSpec, key, attr string, v interface{}) []models.ConditionSpec {
	if len(conds) == 0 {
		return append(conds, models.ConditionSpec{Field: key, Operator: OpEquals, Expected: v})
	}
	target := 0
	for i := range conds {
		if conds[i].Field == key {
			target = i
			break
		}
	}
	switch attr {
	case "operator":
		if op, ok := v.(string); ok {
			conds[target].Operator = NormalizeOperator(op)
		}
	default:
		conds[target].Expected = v
	}
	return conds
}

// DraftToRule turns a draft into a rule for tenantID. Rules that need
// approval start disabled.
func DraftToRule(tenantID string, draft models.RuleDraft) *models.AutomationRule {
	return &models.AutomationRule{
		TenantID:         tenantID,
		Name:             draft.Name,
		Description:      draft.Summary,
		Enabled:          !draft.RequiresApproval,
		Trigger:          TriggerSpecFromConfig(draft.TriggerType, draft.TriggerConfig),
		Conditions:       draft.Conditions,
		Action:           ActionSpecFromConfig(draft.ActionType, draft.ActionConfig),
		RiskLevel:        draft.RiskLevel,
		RequiresApproval: draft.RequiresApproval,
		CouncilID:        draft.CouncilID,
		TemplateID:       draft.TemplateID,
	}
}

var weekdays = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3, "thursday": 4, "friday": 5, "saturday": 6,
}

// TriggerSpecFromConfig decodes a loose trigger config. Schedule configs
// given as pattern/day/date/time are rewritten into the cron subset; other
// patterns (seasonal, biweekly) leave the schedule empty.
func TriggerSpecFromConfig(t models.TriggerType, cfg map[string]interface{}) models.TriggerSpec {
	var spec models.TriggerSpec
	if b, err := json.Marshal(cfg); err == nil {
		_ = json.Unmarshal(b, &spec)
	}
	spec.Type = t
	if t == models.TriggerSchedule && spec.Schedule == "" {
		spec.Schedule = scheduleFromPattern(cfg)
	}
	return spec
}

func scheduleFromPattern(cfg map[string]interface{}) string {
	pattern, _ := cfg["pattern"].(string)
	at, _ := cfg["time"].(string)
	var hour, minute int
	if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil {
		return ""
	}
	switch pattern {
	case "daily":
		return fmt.Sprintf("%d %d * * *", minute, hour)
	case "weekly":
		day, _ := cfg["day"].(string)
		wd, ok := weekdays[strings.ToLower(day)]
		if !ok {
			return ""
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, wd)
	case "monthly":
		date, ok := numeric(cfg["date"])
		if !ok {
			date = 1
		}
		if date < 1 || date > 31 {
			return ""
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, int(date))
	default:
		return ""
	}
}

// ActionSpecFromConfig builds an action spec whose config is cfg. A
// template_version key in cfg is lifted onto the spec.
func ActionSpecFromConfig(t models.ActionType, cfg map[string]interface{}) models.ActionSpec {
	spec := models.ActionSpec{Type: t, Config: cfg}
	if v, ok := cfg["template_version"].(string); ok {
		spec.TemplateVersion = v
	}
	return spec
}

// ValidateConfig checks user values against a template's config schema and
// returns one message per problem.
func ValidateConfig(schema []models.ConfigField, values map[string]interface{}) []string {
	var errs []string
	for _, f := range schema {
		v, ok := values[f.Key]
		if !ok {
			if f.Required {
				errs = append(errs, fmt.Sprintf("Missing required field: %s", f.Key))
			}
			continue
		}
		switch f.Type {
		case "number":
			if _, ok := numeric(v); !ok {
				errs = append(errs, fmt.Sprintf("%s must be a number", f.Key))
			}
		case "select":
			s := fmt.Sprintf("%v", v)
			if !containsString(f.Options, s) {
				errs = append(errs, fmt.Sprintf("%s must be one of: %s", f.Key, strings.Join(f.Options, ", ")))
			}
		case "multiselect":
			list, ok := stringList(v)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s must be a list", f.Key))
				continue
			}
			var invalid []string
			for _, item := range list {
				if !containsString(f.Options, item) {
					invalid = append(invalid, item)
				}
			}
			if len(invalid) > 0 {
				errs = append(errs, fmt.Sprintf("%s contains invalid values: %s", f.Key, strings.Join(invalid, ", ")))
			}
		}
	}
	return errs
}

// GenerateSummary describes a rule in one plain sentence.
func GenerateSummary(triggerType models.TriggerType, triggerCfg map[string]interface{}, actionType models.ActionType, actionCfg map[string]interface{}) string {
	var trigger string
	switch triggerType {
	case models.TriggerEvent:
		trigger = humanize(stringOr(triggerCfg, "event_type", "an event")) + " occurs"
	case models.TriggerSchedule:
		pattern := stringOr(triggerCfg, "pattern", "scheduled time")
		day := stringOr(triggerCfg, "day", "")
		at := stringOr(triggerCfg, "time", "")
		switch {
		case pattern == "weekly" && day != "":
			trigger = fmt.Sprintf("every %s at %s", day, at)
		case pattern == "daily" && at != "":
			trigger = "every day at " + at
		default:
			trigger = fmt.Sprintf("on %s schedule", pattern)
		}
	case models.TriggerThreshold:
		value := triggerCfg["value"]
		if value == nil {
			value = 0
		}
		trigger = fmt.Sprintf("%s %s %v", humanize(stringOr(triggerCfg, "metric", "metric")), stringOr(triggerCfg, "operator", "="), value)
	case models.TriggerBehavior:
		trigger = "customer " + humanize(stringOr(triggerCfg, "behavior_type", "behavior"))
	}

	var action string
	switch actionType {
	case models.ActionStartWorkflow:
		action = fmt.Sprintf("start %s workflow", humanize(stringOr(actionCfg, "workflow_type_id", "workflow")))
	case models.ActionSendNotification:
		recipients, ok := stringList(actionCfg["recipients"])
		if !ok || len(recipients) == 0 {
			recipients = []string{"users"}
		}
		action = "send notification to " + strings.Join(recipients, ", ")
	case models.ActionGenerateCampaign:
		channels, ok := stringList(actionCfg["channels"])
		if !ok || len(channels) == 0 {
			channels = []string{"channels"}
		}
		action = "generate campaign on " + strings.Join(channels, ", ")
	case models.ActionAddProduct:
		count := actionCfg["count"]
		if count == nil {
			count = 1
		}
		action = fmt.Sprintf("add %v new product(s)", count)
	default:
		action = humanize(string(actionType))
	}
	return fmt.Sprintf("When %s, %s.", trigger, action)
}

// EvaluatePredicate reports whether every suggest_when clause holds for
// signals. A missing signal fails its clause; an empty rule set never
// matches.
func EvaluatePredicate(rules *models.SuggestionRules, signals map[string]interface{}) bool {
	if rules == nil || len(rules.SuggestWhen) == 0 {
		return false
	}
	for field, p := range rules.SuggestWhen {
		if !clauseHolds(field, p, signals) {
			return false
		}
	}
	return true
}

func clauseHolds(field string, p models.Predicate, signals map[string]interface{}) bool {
	actual, ok := LookupField(signals, field)
	if !ok {
		return false
	}
	switch strings.TrimSpace(p.Operator) {
	case "<=":
		return CompareValues(actual, OpLessThan, p.Value) || CompareValues(actual, OpEquals, p.Value)
	case ">=":
		return CompareValues(actual, OpGreaterThan, p.Value) || CompareValues(actual, OpEquals, p.Value)
	default:
		return CompareValues(actual, NormalizeOperator(p.Operator), p.Value)
	}
}

// RelevanceScore ranks a template for a tenant in [0, 1]: half for the
// share of satisfied clauses, plus small boosts for popularity and success
// rate.
func RelevanceScore(tpl models.AutomationTemplate, signals map[string]interface{}) float64 {
	score := 0.5
	if tpl.AISuggestionRules != nil && len(tpl.AISuggestionRules.SuggestWhen) > 0 {
		matched := 0
		for field, p := range tpl.AISuggestionRules.SuggestWhen {
			if clauseHolds(field, p, signals) {
				matched++
			}
		}
		score = 0.5 + float64(matched)/float64(len(tpl.AISuggestionRules.SuggestWhen))*0.5
	}
	if tpl.PopularityScore > 0 {
		score += math.Min(tpl.PopularityScore, 100) / 100 * 0.1
	}
	if tpl.SuccessRate > 0 {
		score += tpl.SuccessRate * 0.1
	}
	return math.Min(score, 1.0)
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringOr(m map[string]interface{}, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

func humanize(s string) string { return strings.ReplaceAll(s, "_", " ") }

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func stringList(v interface{}) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out, true
	default:
		return nil, false
	}
}
