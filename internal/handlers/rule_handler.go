package handlers

import (
	"net/http"

	"autoflow/internal/services"

	"github.com/gin-gonic/gin"
)

// RuleHandler 管理自动化规则
type RuleHandler struct {
	service *services.RuleService
}

func NewRuleHandler(service *services.RuleService) *RuleHandler {
	return &RuleHandler{service: service}
}

// ListRules 获取规则列表
func (h *RuleHandler) ListRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context(), c.Query("tenant_id"), c.Query("enabled") == "true")
	if err != nil {
		fail(c, "Failed to list rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule 创建规则
func (h *RuleHandler) CreateRule(c *gin.Context) {
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRule 获取规则详情
func (h *RuleHandler) GetRule(c *gin.Context) {
	rule, err := h.service.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "Failed to get rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Enable 启用规则
func (h *RuleHandler) Enable(c *gin.Context) {
	h.setEnabled(c, true)
}

// Disable 停用规则，下一轮 tick 生效
func (h *RuleHandler) Disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *RuleHandler) setEnabled(c *gin.Context, enabled bool) {
	if err := h.service.SetEnabled(c.Request.Context(), c.Param("id"), enabled); err != nil {
		fail(c, "Failed to update rule", err)
		return
	}
	msg := "disabled"
	if enabled {
		msg = "enabled"
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: msg})
}

// DeleteRule 删除规则
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	if err := h.service.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, "Failed to delete rule", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// RegisterRuleRoutes 注册规则路由
func RegisterRuleRoutes(r *gin.RouterGroup, handler *RuleHandler) {
	rules := r.Group("/rules")
	{
		rules.GET("", handler.ListRules)
		rules.POST("", handler.CreateRule)
		rules.GET("/:id", handler.GetRule)
		rules.POST("/:id/enable", handler.Enable)
		rules.POST("/:id/disable", handler.Disable)
		rules.DELETE("/:id", handler.DeleteRule)
	}
}
