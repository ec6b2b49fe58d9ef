package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autoflow/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	reasonTriggerNotFired  = "Trigger did not fire"
	reasonConditionsFailed = "Conditions failed"
	reasonApproval         = "Requires council approval"
	warnNoAction           = "No action configured"

	defaultActionTimeout = 30 * time.Second
)

// Dispatch is the outcome of dispatching one rule's action.
type Dispatch struct {
	ActionsTaken   []interface{}
	ActionsSkipped []models.SkippedAction
	Errors         []string
	Warnings       []string
	WorkflowID     string
}

// Dispatcher runs a rule's action through an ActionExecutor once the
// trigger and conditions allow it. Every sub-action shares one deadline.
type Dispatcher struct {
	executor ActionExecutor
	timeout  time.Duration
	now      func() time.Time
	logger   *logrus.Logger
}

func NewDispatcher(executor ActionExecutor, timeout time.Duration, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	return &Dispatcher{executor: executor, timeout: timeout, now: time.Now, logger: logger}
}

// Timeout returns the per-rule action deadline.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Dispatch decides whether the action runs and runs it. Executor errors,
// panics and timeouts land in Errors; they never escape.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *models.AutomationRule, fired bool, conditions []models.ConditionResult, data map[string]interface{}) Dispatch {
	out := Dispatch{
		ActionsTaken:   []interface{}{},
		ActionsSkipped: []models.SkippedAction{},
		Errors:         []string{},
		Warnings:       []string{},
	}
	actionName := string(rule.Action.Type)

	if !fired {
		out.ActionsSkipped = append(out.ActionsSkipped, models.SkippedAction{Action: actionName, Reason: reasonTriggerNotFired})
		return out
	}
	if failing := FailingConditions(conditions); len(failing) > 0 {
		out.ActionsSkipped = append(out.ActionsSkipped, models.SkippedAction{
			Action: actionName,
			Reason: reasonConditionsFailed + ": " + strings.Join(failing, ", "),
		})
		return out
	}
	if rule.Action.Type == "" && len(rule.Action.Steps) == 0 {
		out.Warnings = append(out.Warnings, warnNoAction)
		return out
	}
	if rule.RequiresApproval && !ShouldAutoApprove(rule, data, d.now()) {
		out.ActionsSkipped = append(out.ActionsSkipped, models.SkippedAction{Action: actionName, Reason: reasonApproval})
		out.Warnings = append(out.Warnings, reasonApproval)
		d.logger.WithFields(logrus.Fields{
			"tenant_id":     rule.TenantID,
			"automation_id": rule.ID,
			"council_id":    rule.CouncilID,
		}).Info("automation: action held for council approval")
		return out
	}

	steps := rule.Action.Steps
	if len(steps) == 0 {
		steps = []models.ActionSpec{rule.Action}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	for _, step := range steps {
		if step.Type == "" {
			out.Warnings = append(out.Warnings, warnNoAction)
			continue
		}
		res, err := d.run(ctx, step, data)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", step.Type, err))
			out.ActionsSkipped = append(out.ActionsSkipped, models.SkippedAction{Action: string(step.Type), Reason: err.Error()})
			continue
		}
		taken := res.Result
		if taken == nil {
			taken = map[string]interface{}{"action": string(step.Type)}
		}
		out.ActionsTaken = append(out.ActionsTaken, taken)
		if out.WorkflowID == "" && res.WorkflowID != "" {
			out.WorkflowID = res.WorkflowID
		}
	}
	return out
}

type execResult struct {
	outcome ActionOutcome
	err     error
}

// run executes one step and waits for it or for the deadline, whichever
// comes first. A late executor is abandoned; its result is discarded.
func (d *Dispatcher) run(ctx context.Context, step models.ActionSpec, data map[string]interface{}) (ActionOutcome, error) {
	if d.executor == nil {
		return ActionOutcome{}, fmt.Errorf("no action executor configured")
	}
	if ctx.Err() != nil {
		return ActionOutcome{}, fmt.Errorf("%w after %s", ErrActionTimeout, d.timeout)
	}
	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		o, err := d.executor.Execute(ctx, step, data)
		done <- execResult{outcome: o, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == context.DeadlineExceeded {
			return ActionOutcome{}, fmt.Errorf("%w after %s", ErrActionTimeout, d.timeout)
		}
		return r.outcome, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return ActionOutcome{}, fmt.Errorf("%w after %s", ErrActionTimeout, d.timeout)
		}
		return ActionOutcome{}, ctx.Err()
	}
}

// FailingConditions returns the texts of the conditions that did not pass,
// in evaluation order.
func FailingConditions(conditions []models.ConditionResult) []string {
	var failing []string
	for _, c := range conditions {
		if !c.Passed {
			failing = append(failing, c.Condition)
		}
	}
	return failing
}

// ShouldAutoApprove reports whether a rule that requires approval may run
// without a council decision. Without explicit rules only low-risk rules
// qualify.
func ShouldAutoApprove(rule *models.AutomationRule, data map[string]interface{}, now time.Time) bool {
	rules := rule.AutoApproval
	if rules == nil {
		return rule.RiskLevel == models.RiskLow
	}
	if rules.MaxBudget > 0 {
		budget, ok := toFloat(data["budget"])
		if ok && budget > rules.MaxBudget {
			return false
		}
	}
	if rules.TrustedUsersOnly {
		trusted, _ := data["user_trusted"].(bool)
		if !trusted {
			return false
		}
	}
	if rules.BusinessHoursOnly {
		h := now.UTC().Hour()
		if h < 9 || h > 17 {
			return false
		}
	}
	return true
}
