package handlers

import (
	"net/http"

	"autoflow/internal/models"
	"autoflow/internal/services"

	"github.com/gin-gonic/gin"
)

// SignalHandler 接收事件与租户指标，供下一次调度使用
type SignalHandler struct {
	events  services.EventPublisher
	signals *services.MemorySignals
}

func NewSignalHandler(events services.EventPublisher, signals *services.MemorySignals) *SignalHandler {
	return &SignalHandler{events: events, signals: signals}
}

// EventRequest 事件上报请求
type EventRequest struct {
	TenantID string                 `json:"tenant_id" binding:"required"`
	Type     string                 `json:"type" binding:"required"`
	Source   string                 `json:"source"`
	Data     map[string]interface{} `json:"data"`
}

// ValuesRequest 指标或业务数据
type ValuesRequest struct {
	Values map[string]interface{} `json:"values" binding:"required"`
}

// PublishEvent 入队事件，下一次 tick 时被取出
func (h *SignalHandler) PublishEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	evt := models.Event{Type: req.Type, Source: req.Source, Data: req.Data}
	if err := h.events.Publish(c.Request.Context(), req.TenantID, evt); err != nil {
		fail(c, "Failed to publish event", err)
		return
	}
	c.JSON(http.StatusAccepted, SuccessResponse{Message: "queued"})
}

func (h *SignalHandler) SetMetrics(c *gin.Context) {
	var req ValuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	h.signals.SetMetrics(c.Param("tenant_id"), req.Values)
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

func (h *SignalHandler) SetData(c *gin.Context) {
	var req ValuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	h.signals.SetData(c.Param("tenant_id"), req.Values)
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

// ObserveBehavior 记录一次行为匹配，供 behavior 触发器使用
func (h *SignalHandler) ObserveBehavior(c *gin.Context) {
	var req models.BehaviorMatch
	if err := c.ShouldBindJSON(&req); err != nil || req.Type == "" {
		msg := "type is required"
		if err != nil {
			msg = err.Error()
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: msg})
		return
	}
	h.signals.ObserveBehavior(c.Param("tenant_id"), req)
	c.JSON(http.StatusAccepted, SuccessResponse{Message: "recorded"})
}

// GetSignals 当前租户的信号视图（指标与数据合并）
func (h *SignalHandler) GetSignals(c *gin.Context) {
	c.JSON(http.StatusOK, h.signals.Signals(c.Param("tenant_id")))
}

// RegisterSignalRoutes 注册事件与指标路由
func RegisterSignalRoutes(r *gin.RouterGroup, handler *SignalHandler) {
	if handler.events != nil {
		r.POST("/events", handler.PublishEvent)
	}
	if handler.signals != nil {
		tenants := r.Group("/tenants/:tenant_id")
		tenants.GET("/signals", handler.GetSignals)
		tenants.PUT("/metrics", handler.SetMetrics)
		tenants.PUT("/data", handler.SetData)
		tenants.POST("/behaviors", handler.ObserveBehavior)
	}
}
