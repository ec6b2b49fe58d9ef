package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Host == "" {
		t.Error("expected Server.Host to be set")
	}
	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.Database.Name == "" {
		t.Error("expected Database.Name to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}
	require.NoError(t, cfg.Validate())
}

func TestConfig_EngineDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, time.Minute, cfg.Engine.TickInterval)
	assert.Greater(t, cfg.Engine.Workers, 0)
	assert.Greater(t, cfg.Engine.ActionTimeout, time.Duration(0))
	assert.Equal(t, 10, cfg.Engine.DiagnosticsWindow)
	assert.Equal(t, 7*24*time.Hour, cfg.Advisor.RecommendationTTL)
}

func TestConfig_TracingDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Monitoring.Tracing.Enabled {
		t.Error("expected tracing to be disabled by default")
	}
	if cfg.Monitoring.Tracing.ServiceName != "autoflow" {
		t.Errorf("unexpected service name %q", cfg.Monitoring.Tracing.ServiceName)
	}
	if cfg.Monitoring.MetricsPath != "/metrics" {
		t.Errorf("unexpected metrics path %q", cfg.Monitoring.MetricsPath)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }},
		{"zero tick", func(c *Config) { c.Engine.TickInterval = 0 }},
		{"negative timeout", func(c *Config) { c.Engine.ActionTimeout = -time.Second }},
		{"zero diagnostics interval", func(c *Config) { c.Engine.DiagnosticsInterval = 0 }},
		{"zero advisor interval", func(c *Config) { c.Advisor.Interval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseConfig_ConnString(t *testing.T) {
	db := GetDefaultConfig().Database
	assert.Contains(t, db.ConnString(), "dbname=autoflow")
	assert.Contains(t, db.ConnString(), "port=5432")

	db.Driver = "sqlite"
	assert.Equal(t, "autoflow.db", db.ConnString())

	db.DSN = "file::memory:"
	assert.Equal(t, "file::memory:", db.ConnString())
}

func TestLoad_OverridesKeepDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("engine.workers", 3)
	viper.Set("engine.tick_interval", "30s")
	viper.Set("database.driver", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, 30*time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	// 未覆盖的键保留默认值
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Engine.ActionTimeout)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("engine.workers", 0)

	_, err := Load()
	assert.Error(t, err)
}

func TestConfigureLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	err := configureLogger(logger, LogConfig{Level: "invalid", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, isText := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}

func TestConfigureLogger_FileOutput(t *testing.T) {
	logger := logrus.New()
	path := filepath.Join(t.TempDir(), "logs", "autoflow.log")

	err := configureLogger(logger, LogConfig{Level: "debug", Format: "json", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.DirExists(t, filepath.Dir(path))
}

func TestInitLogger_DefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("InitLogger failed: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger")
	}
}
