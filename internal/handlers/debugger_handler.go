package handlers

import (
	"io"
	"net/http"
	"strconv"

	"autoflow/internal/services"

	"github.com/gin-gonic/gin"
)

// DebuggerHandler 执行记录调试接口
type DebuggerHandler struct {
	service *services.DebuggerService
	hub     *services.RecordHub
}

func NewDebuggerHandler(service *services.DebuggerService, hub *services.RecordHub) *DebuggerHandler {
	return &DebuggerHandler{service: service, hub: hub}
}

// SimulateRequest 模拟执行请求
type SimulateRequest struct {
	AutomationID string                 `json:"automation_id" binding:"required"`
	Data         map[string]interface{} `json:"data"`
}

// ListLogs 获取自动化的执行日志
func (h *DebuggerHandler) ListLogs(c *gin.Context) {
	var q services.LogQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}
	if q.Result != "" && !q.Result.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: "unknown result: " + string(q.Result)})
		return
	}
	listing, err := h.service.ListLogs(c.Request.Context(), c.Param("id"), q)
	if err != nil {
		fail(c, "Failed to list logs", err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// Latest 获取最新一条日志
func (h *DebuggerHandler) Latest(c *gin.Context) {
	log, err := h.service.Latest(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "No logs found", err)
		return
	}
	c.JSON(http.StatusOK, log)
}

// GetLog 按格式获取单条日志
func (h *DebuggerHandler) GetLog(c *gin.Context) {
	format := c.DefaultQuery("format", "clean")
	switch format {
	case "full", "clean", "minimal":
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid format", Message: "format must be full, clean or minimal"})
		return
	}
	out, err := h.service.Get(c.Request.Context(), c.Param("log_id"), format)
	if err != nil {
		fail(c, "Failed to get log", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CreateLog 以 clean 格式导入日志
func (h *DebuggerHandler) CreateLog(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rec, err := h.service.CreateFromClean(c.Request.Context(), c.Query("tenant_id"), raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create log", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Message: "created", Data: services.FormatClean(rec)})
}

// Simulate 模拟执行，不触发动作也不写入记录
func (h *DebuggerHandler) Simulate(c *gin.Context) {
	var req SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	sim, err := h.service.Simulate(c.Request.Context(), req.AutomationID, req.Data)
	if err != nil {
		fail(c, "Simulation failed", err)
		return
	}
	c.JSON(http.StatusOK, sim)
}

// Health 自动化健康检查
func (h *DebuggerHandler) Health(c *gin.Context) {
	report, err := h.service.Health(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "Health check failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CouncilAudit 治理委员会审计
func (h *DebuggerHandler) CouncilAudit(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	audit, err := h.service.CouncilAudit(c.Request.Context(), c.Param("council_id"), days)
	if err != nil {
		fail(c, "Audit failed", err)
		return
	}
	c.JSON(http.StatusOK, audit)
}

// RegisterDebuggerRoutes 注册调试路由
func RegisterDebuggerRoutes(r *gin.RouterGroup, handler *DebuggerHandler) {
	auto := r.Group("/automations")
	{
		auto.POST("/simulate", handler.Simulate)
		auto.POST("/log", handler.CreateLog)
		auto.GET("/log/:log_id", handler.GetLog)
		auto.GET("/council/:council_id/audit", handler.CouncilAudit)
		auto.GET("/:id/logs", handler.ListLogs)
		auto.GET("/:id/latest", handler.Latest)
		auto.GET("/:id/health", handler.Health)
		if handler.hub != nil {
			auto.GET("/stream", handler.hub.HandleWebSocket)
		}
	}
}
