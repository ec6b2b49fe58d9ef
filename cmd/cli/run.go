package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autoflow/internal/database"
	"autoflow/internal/handlers"
	"autoflow/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the automation engine and HTTP API",
	Long:  `Run the scheduler, diagnostics and advisor jobs together with the HTTP API`,
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		logger.Warnf("tracing disabled: %v", err)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	if err := database.Migrate(a.db); err != nil {
		return err
	}

	handlers.Version = Version

	go a.hub.Run(ctx)
	scheduler := a.newScheduler()
	scheduler.Start(ctx)

	// 设置 Gin 模式
	if cfg.Server.Host != "localhost" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(cfg, handlers.RouterDeps{
		DB:        a.db,
		Redis:     a.redis,
		Rules:     a.rules,
		Catalog:   a.catalog,
		Advisor:   a.advisor,
		Debugger:  a.debugger,
		Scheduler: scheduler,
		Hub:       a.hub,
		Events:    a.events,
		Signals:   a.signals,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Errorf("Server failed: %v", err)
	}

	logger.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	// 等待进行中的 tick 写完记录
	scheduler.Stop()
	cancel()

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warnf("tracing shutdown: %v", err)
		}
	}

	logger.Info("Server exited")
	return nil
}
