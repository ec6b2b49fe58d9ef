package handlers

import (
	"errors"
	"net/http"

	"autoflow/internal/services"
	"autoflow/internal/store"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// statusFor maps service sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, services.ErrRuleNotFound),
		errors.Is(err, services.ErrTemplateNotFound),
		errors.Is(err, services.ErrRecommendationNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidStatusTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, what string, err error) {
	c.JSON(statusFor(err), ErrorResponse{Error: what, Message: err.Error()})
}
