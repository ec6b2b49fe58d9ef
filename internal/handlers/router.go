package handlers

import (
	"autoflow/internal/config"
	"autoflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

// RouterDeps are the services the HTTP surface exposes. Redis, Scheduler,
// Hub, Events and Signals may be nil.
type RouterDeps struct {
	DB        *gorm.DB
	Redis     redis.UniversalClient
	Rules     *services.RuleService
	Catalog   *services.Catalog
	Advisor   *services.AdvisorService
	Debugger  *services.DebuggerService
	Scheduler StatsProvider
	Hub       *services.RecordHub
	Events    services.EventPublisher
	Signals   *services.MemorySignals
	Logger    *logrus.Logger
}

// NewRouter 组装 HTTP 路由
func NewRouter(cfg *config.Config, deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	r := gin.New()
	r.Use(gin.LoggerWithWriter(deps.Logger.Writer()))
	r.Use(gin.Recovery())
	// OpenTelemetry Gin 中间件
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	health := NewHealthHandler(deps.DB, deps.Redis, deps.Scheduler, deps.Hub)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)

	if cfg.Monitoring.Enabled {
		r.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api/v1")
	RegisterDebuggerRoutes(api, NewDebuggerHandler(deps.Debugger, deps.Hub))
	RegisterRuleRoutes(api, NewRuleHandler(deps.Rules))
	RegisterTemplateRoutes(api, NewTemplateHandler(deps.Catalog, deps.Rules))
	if deps.Events != nil || deps.Signals != nil {
		RegisterSignalRoutes(api, NewSignalHandler(deps.Events, deps.Signals))
	}
	if deps.Advisor != nil {
		RegisterAdvisorRoutes(api, NewAdvisorHandler(deps.Advisor))
	}
	return r
}
