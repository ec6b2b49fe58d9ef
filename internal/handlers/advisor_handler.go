package handlers

import (
	"context"
	"net/http"

	"autoflow/internal/models"
	"autoflow/internal/services"

	"github.com/gin-gonic/gin"
)

// AdvisorHandler 推荐接口
type AdvisorHandler struct {
	service *services.AdvisorService
}

func NewAdvisorHandler(service *services.AdvisorService) *AdvisorHandler {
	return &AdvisorHandler{service: service}
}

// MatchRequest 以给定信号匹配推荐
type MatchRequest struct {
	TenantID string                 `json:"tenant_id" binding:"required"`
	Signals  map[string]interface{} `json:"signals"`
}

// List 获取推荐列表
func (h *AdvisorHandler) List(c *gin.Context) {
	recs, err := h.service.List(c.Request.Context(), c.Query("tenant_id"), models.RecommendationStatus(c.Query("status")))
	if err != nil {
		fail(c, "Failed to list recommendations", err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// Match 匹配并保存新推荐
func (h *AdvisorHandler) Match(c *gin.Context) {
	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	created, err := h.service.Match(c.Request.Context(), req.TenantID, req.Signals)
	if err != nil {
		fail(c, "Failed to match recommendations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created, "count": len(created)})
}

func (h *AdvisorHandler) Accept(c *gin.Context) {
	h.transition(c, h.service.Accept)
}

func (h *AdvisorHandler) Dismiss(c *gin.Context) {
	h.transition(c, h.service.Dismiss)
}

func (h *AdvisorHandler) Complete(c *gin.Context) {
	h.transition(c, h.service.Complete)
}

type transitionFunc func(ctx context.Context, id string) (*models.AdvisorRecommendation, error)

func (h *AdvisorHandler) transition(c *gin.Context, apply transitionFunc) {
	rec, err := apply(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "Failed to update recommendation", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// RegisterAdvisorRoutes 注册推荐路由
func RegisterAdvisorRoutes(r *gin.RouterGroup, handler *AdvisorHandler) {
	adv := r.Group("/advisor")
	{
		adv.GET("/recommendations", handler.List)
		adv.POST("/match", handler.Match)
		adv.POST("/recommendations/:id/accept", handler.Accept)
		adv.POST("/recommendations/:id/dismiss", handler.Dismiss)
		adv.POST("/recommendations/:id/complete", handler.Complete)
	}
}
