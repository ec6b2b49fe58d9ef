package handlers

import (
	"net/http"

	"autoflow/internal/services"

	"github.com/gin-gonic/gin"
)

// TemplateHandler 模板目录接口
type TemplateHandler struct {
	catalog *services.Catalog
	rules   *services.RuleService
}

func NewTemplateHandler(catalog *services.Catalog, rules *services.RuleService) *TemplateHandler {
	return &TemplateHandler{catalog: catalog, rules: rules}
}

// TemplateValuesRequest carries user values for a template.
type TemplateValuesRequest struct {
	TenantID string                 `json:"tenant_id"`
	Values   map[string]interface{} `json:"values"`
}

// List 获取模板列表，可按分类过滤
func (h *TemplateHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.List(c.Query("category")))
}

// Get 获取模板详情
func (h *TemplateHandler) Get(c *gin.Context) {
	tpl, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		fail(c, "Template not found", err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// Preview 预览套用用户配置后的规则草稿，不落库
func (h *TemplateHandler) Preview(c *gin.Context) {
	tpl, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		fail(c, "Template not found", err)
		return
	}
	var req TemplateValuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"draft":  services.ApplyOverrides(tpl, req.Values),
		"errors": services.ValidateConfig(tpl.ConfigSchema, req.Values),
	})
}

// Enable 由模板创建规则
func (h *TemplateHandler) Enable(c *gin.Context) {
	var req TemplateValuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if req.TenantID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "tenant_id is required"})
		return
	}
	rule, err := h.rules.CreateFromTemplate(c.Request.Context(), req.TenantID, c.Param("id"), req.Values)
	if err != nil {
		fail(c, "Failed to enable template", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// RegisterTemplateRoutes 注册模板路由
func RegisterTemplateRoutes(r *gin.RouterGroup, handler *TemplateHandler) {
	tpl := r.Group("/templates")
	{
		tpl.GET("", handler.List)
		tpl.GET("/:id", handler.Get)
		tpl.POST("/:id/preview", handler.Preview)
		tpl.POST("/:id/enable", handler.Enable)
	}
}
