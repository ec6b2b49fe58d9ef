package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"autoflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ActionOutcome is what a successful action reports back.
type ActionOutcome struct {
	Result     map[string]interface{}
	WorkflowID string
}

// ActionExecutor performs an action's external effect. Implementations must
// honour ctx cancellation; the dispatcher enforces the deadline regardless.
type ActionExecutor interface {
	Execute(ctx context.Context, action models.ActionSpec, data map[string]interface{}) (ActionOutcome, error)
}

// ActionExecutorFunc adapts a function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, action models.ActionSpec, data map[string]interface{}) (ActionOutcome, error)

func (f ActionExecutorFunc) Execute(ctx context.Context, action models.ActionSpec, data map[string]interface{}) (ActionOutcome, error) {
	return f(ctx, action, data)
}

// BuiltinExecutor performs the built-in action types. Effects on external
// systems are simulated and logged.
type BuiltinExecutor struct {
	logger *logrus.Logger
}

func NewBuiltinExecutor(logger *logrus.Logger) *BuiltinExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	return &BuiltinExecutor{logger: logger}
}

func (e *BuiltinExecutor) Execute(ctx context.Context, action models.ActionSpec, data map[string]interface{}) (ActionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return ActionOutcome{}, err
	}
	cfg := action.Config
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	switch action.Type {
	case models.ActionStartWorkflow:
		wfID := "wf_" + uuid.NewString()
		e.logger.Infof("automation: starting workflow %v (%s)", cfg["workflow_type_id"], wfID)
		return ActionOutcome{
			Result:     map[string]interface{}{"action": string(action.Type), "workflow_id": wfID, "status": "started"},
			WorkflowID: wfID,
		}, nil
	case models.ActionSendNotification:
		recipients := cfg["recipients"]
		if recipients == nil {
			return ActionOutcome{}, fmt.Errorf("recipients required")
		}
		e.logger.Infof("automation notify: %v: %v", recipients, cfg["message"])
		return outcome(action.Type, "sent", map[string]interface{}{"recipients": recipients}), nil
	case models.ActionUpdateProduct:
		productID := cfg["product_id"]
		if productID == nil {
			productID = data["product_id"]
		}
		if productID == nil {
			return ActionOutcome{}, fmt.Errorf("product_id required")
		}
		return outcome(action.Type, "updated", map[string]interface{}{"product_id": productID}), nil
	case models.ActionGenerateCampaign, models.ActionEmailCampaign, models.ActionSocialPostGeneration:
		return outcome(action.Type, "created", map[string]interface{}{"campaign_id": "campaign_" + uuid.NewString()}), nil
	case models.ActionCreateLandingPage:
		return outcome(action.Type, "created", map[string]interface{}{"page_id": "page_" + uuid.NewString()}), nil
	case models.ActionAddProduct:
		count := cfg["count"]
		if count == nil {
			count = 1
		}
		return outcome(action.Type, "created", map[string]interface{}{"products_added": count}), nil
	case models.ActionUpdateStore, models.ActionPriceUpdate:
		return outcome(action.Type, "updated", nil), nil
	case models.ActionGenerateDraft, models.ActionProductBundling:
		return outcome(action.Type, "created", map[string]interface{}{"draft_id": "draft_" + uuid.NewString()}), nil
	default:
		return ActionOutcome{}, fmt.Errorf("unsupported action type: %s", action.Type)
	}
}

func outcome(t models.ActionType, status string, extra map[string]interface{}) ActionOutcome {
	res := map[string]interface{}{"action": string(t), "status": status}
	for k, v := range extra {
		res[k] = v
	}
	return ActionOutcome{Result: res}
}

// WebhookExecutor delivers actions to an external HTTP endpoint.
type WebhookExecutor struct {
	url    string
	client *http.Client
}

// NewWebhookExecutor builds a webhook executor whose client propagates
// trace context through otelhttp.
func NewWebhookExecutor(url string, timeout time.Duration) *WebhookExecutor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookExecutor{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type webhookPayload struct {
	Action models.ActionSpec      `json:"action"`
	Data   map[string]interface{} `json:"data,omitempty"`
	SentAt time.Time              `json:"sent_at"`
}

func (e *WebhookExecutor) Execute(ctx context.Context, action models.ActionSpec, data map[string]interface{}) (ActionOutcome, error) {
	if e.url == "" {
		return ActionOutcome{}, fmt.Errorf("webhook url not configured")
	}
	body, err := json.Marshal(webhookPayload{Action: action, Data: data, SentAt: time.Now().UTC()})
	if err != nil {
		return ActionOutcome{}, fmt.Errorf("webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return ActionOutcome{}, fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return ActionOutcome{}, fmt.Errorf("webhook call: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ActionOutcome{}, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	res := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) > 0 {
		_ = json.Unmarshal(raw, &res)
	}
	if _, ok := res["action"]; !ok {
		res["action"] = string(action.Type)
	}
	if _, ok := res["status"]; !ok {
		res["status"] = "delivered"
	}
	wfID, _ := res["workflow_id"].(string)
	return ActionOutcome{Result: res, WorkflowID: wfID}, nil
}

// MultiExecutor routes actions to an executor by type, falling back to a
// default for unrouted types.
type MultiExecutor struct {
	routes   map[models.ActionType]ActionExecutor
	fallback ActionExecutor
}

func NewMultiExecutor(fallback ActionExecutor) *MultiExecutor {
	return &MultiExecutor{routes: map[models.ActionType]ActionExecutor{}, fallback: fallback}
}

// Route registers exec for action type t.
func (m *MultiExecutor) Route(t models.ActionType, exec ActionExecutor) *MultiExecutor {
	m.routes[t] = exec
	return m
}

func (m *MultiExecutor) Execute(ctx context.Context, action models.ActionSpec, data map[string]interface{}) (ActionOutcome, error) {
	if exec, ok := m.routes[action.Type]; ok {
		return exec.Execute(ctx, action, data)
	}
	if m.fallback == nil {
		return ActionOutcome{}, fmt.Errorf("unsupported action type: %s", action.Type)
	}
	return m.fallback.Execute(ctx, action, data)
}
