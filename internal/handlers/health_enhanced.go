package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"autoflow/internal/metrics"
	"autoflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Version 构建版本，由 cmd 在启动时设置
var Version = "dev"

// StatsProvider exposes scheduler counters.
type StatsProvider interface {
	Stats() services.SchedulerStats
}

// HealthHandler 服务健康检查
type HealthHandler struct {
	db        *gorm.DB
	redis     redis.UniversalClient
	scheduler StatsProvider
	hub       *services.RecordHub
}

// NewHealthHandler 创建健康检查处理器；redis、scheduler、hub 可以为空
func NewHealthHandler(db *gorm.DB, rdb redis.UniversalClient, scheduler StatsProvider, hub *services.RecordHub) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, scheduler: scheduler, hub: hub}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

// Health 健康检查端点
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	database := h.checkDatabase(ctx)
	response.Services["database"] = database
	if database.Status != "healthy" {
		response.Status = "unhealthy"
	}

	if h.redis != nil {
		info := h.checkRedis(ctx)
		response.Services["redis"] = info
		if info.Status != "healthy" && response.Status == "healthy" {
			// 事件源不可用时仍可评估其余触发器
			response.Status = "degraded"
		}
	}

	if h.scheduler != nil {
		response.Services["scheduler"] = ServiceInfo{Status: "healthy", Details: h.scheduler.Stats()}
	}
	if h.hub != nil {
		response.Services["stream"] = ServiceInfo{
			Status:  "healthy",
			Details: map[string]interface{}{"connected_clients": h.hub.ClientCount()},
		}
	}
	dropped, bySource := metrics.EventDropSnapshot()
	response.Services["events"] = ServiceInfo{
		Status:  "healthy",
		Details: map[string]interface{}{"dropped_total": dropped, "dropped_by_source": bySource},
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// Ready 就绪检查端点，只检查数据库
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	database := h.checkDatabase(ctx)
	ready := database.Status == "healthy"
	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"ready":     ready,
		"timestamp": time.Now().UTC(),
		"services":  map[string]string{"database": database.Status},
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceInfo {
	if h.db == nil {
		return ServiceInfo{Status: "unhealthy", Error: "database connection not initialized"}
	}
	start := time.Now()
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return ServiceInfo{Status: "unhealthy", Error: err.Error()}
	}
	return ServiceInfo{Status: "healthy", Latency: time.Since(start).String()}
}

func (h *HealthHandler) checkRedis(ctx context.Context) ServiceInfo {
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ServiceInfo{Status: "unhealthy", Error: err.Error()}
	}
	return ServiceInfo{Status: "healthy", Latency: time.Since(start).String()}
}
