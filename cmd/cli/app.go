package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"autoflow/internal/config"
	"autoflow/internal/database"
	"autoflow/internal/models"
	"autoflow/internal/services"
	"autoflow/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type eventQueue interface {
	services.EventSource
	services.EventPublisher
}

// app holds the wired services shared by the commands.
type app struct {
	cfg         *config.Config
	logger      *logrus.Logger
	db          *gorm.DB
	redis       redis.UniversalClient
	catalog     *services.Catalog
	rules       *services.RuleService
	records     store.Store
	diagnostics *services.Diagnostics
	advisor     *services.AdvisorService
	debugger    *services.DebuggerService
	hub         *services.RecordHub
	events      eventQueue
	signals     *services.MemorySignals
	engine      *services.Engine
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.InitLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func loadCatalog(cfg *config.Config) (*services.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return services.DefaultCatalog(), nil
	}
	return services.LoadCatalog(cfg.Catalog.Path)
}

// newApp connects storage and builds every service. Redis is optional; when
// it is disabled or unreachable events are queued in memory.
func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db, catalog: catalog}

	var events eventQueue = services.NewMemoryEventSource(cfg.Engine.EventBatchSize)
	if cfg.Redis.Enabled {
		client, err := database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warnf("redis unavailable, using in-memory events: %v", err)
		} else {
			a.redis = client
			events = services.NewRedisEventSource(client, cfg.Redis.EventKeyPrefix, cfg.Engine.EventBatchSize, logger)
		}
	}

	var executor services.ActionExecutor = services.NewBuiltinExecutor(logger)
	if cfg.Executor.WebhookURL != "" {
		executor = services.NewMultiExecutor(executor).
			Route(models.ActionWebhook, services.NewWebhookExecutor(cfg.Executor.WebhookURL, cfg.Executor.WebhookTimeout))
	}

	a.rules = services.NewRuleService(db, catalog, logger)
	a.records = store.NewGormStore(db)
	a.diagnostics = services.NewDiagnostics(logger)
	a.advisor = services.NewAdvisorService(db, catalog, cfg.Advisor.RecommendationTTL, logger)
	a.debugger = services.NewDebuggerService(a.records, a.rules, a.diagnostics, logger)
	a.hub = services.NewRecordHub(logger)
	a.events = events
	a.signals = services.NewMemorySignals(events)
	a.engine = services.NewEngine(services.NewDispatcher(executor, cfg.Engine.ActionTimeout, logger), logger)
	return a, nil
}

func (a *app) newScheduler() *services.Scheduler {
	return services.NewScheduler(services.SchedulerDeps{
		Rules:       a.rules,
		Engine:      a.engine,
		Store:       a.records,
		Signals:     a.signals,
		Diagnostics: a.diagnostics,
		Hub:         a.hub,
		Counters:    a.rules,
		Advisor:     a.advisor,
	}, services.SchedulerConfig{
		TickInterval:        a.cfg.Engine.TickInterval,
		Workers:             a.cfg.Engine.Workers,
		DiagnosticsInterval: a.cfg.Engine.DiagnosticsInterval,
		DiagnosticsWindow:   a.cfg.Engine.DiagnosticsWindow,
		AdvisorInterval:     a.cfg.Advisor.Interval,
	}, a.logger)
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// withApp loads configuration, builds the services for a one-shot command
// and closes them afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
