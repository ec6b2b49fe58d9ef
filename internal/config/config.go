package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	Engine     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Advisor    AdvisorConfig    `mapstructure:"advisor" yaml:"advisor"`
	Catalog    CatalogConfig    `mapstructure:"catalog" yaml:"catalog"`
	Executor   ExecutorConfig   `mapstructure:"executor" yaml:"executor"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // postgres, sqlite
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"` // 覆盖 host/port/user 拼接
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	Password       string `mapstructure:"password" yaml:"password"`
	DB             int    `mapstructure:"db" yaml:"db"`
	PoolSize       int    `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns   int    `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	EventKeyPrefix string `mapstructure:"event_key_prefix" yaml:"event_key_prefix"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	Output     string `mapstructure:"output" yaml:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // MB
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // days
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // number of backup files
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type MonitoringConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	Tracing     TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`         // OTLP gRPC 端点，例如 http://otel-collector:4317
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`         // 是否使用明文（本地/开发）
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
}

// EngineConfig 调度与执行参数
type EngineConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	Workers             int           `mapstructure:"workers" yaml:"workers"`
	ActionTimeout       time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	DiagnosticsInterval time.Duration `mapstructure:"diagnostics_interval" yaml:"diagnostics_interval"`
	DiagnosticsWindow   int           `mapstructure:"diagnostics_window" yaml:"diagnostics_window"`
	EventBatchSize      int           `mapstructure:"event_batch_size" yaml:"event_batch_size"`
}

type AdvisorConfig struct {
	Interval          time.Duration `mapstructure:"interval" yaml:"interval"`
	RecommendationTTL time.Duration `mapstructure:"recommendation_ttl" yaml:"recommendation_ttl"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path" yaml:"path"` // 为空时使用内置模板
}

type ExecutorConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout" yaml:"webhook_timeout"`
}

// Load 读取 viper 中的配置，缺失的键保留默认值
func Load() (*Config, error) {
	cfg := GetDefaultConfig()
	bindEnvs(reflect.TypeOf(*cfg), "")
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers every config key with viper so AutomaticEnv can
// override keys that no config file mentions.
func bindEnvs(t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(f.Type, key)
			continue
		}
		_ = viper.BindEnv(key)
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive")
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Engine.ActionTimeout <= 0 {
		return fmt.Errorf("engine.action_timeout must be positive")
	}
	if c.Engine.DiagnosticsInterval <= 0 {
		return fmt.Errorf("engine.diagnostics_interval must be positive")
	}
	if c.Advisor.Interval <= 0 {
		return fmt.Errorf("advisor.interval must be positive")
	}
	return nil
}

// ConnString returns the connection string for the configured driver.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	if strings.ToLower(d.Driver) == "sqlite" {
		return d.Name + ".db"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port)
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "autoflow",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           6379,
			DB:             0,
			PoolSize:       10,
			MinIdleConns:   2,
			EventKeyPrefix: "autoflow:events:",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/autoflow.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "autoflow",
			},
		},
		Engine: EngineConfig{
			TickInterval:        time.Minute,
			Workers:             8,
			ActionTimeout:       30 * time.Second,
			DiagnosticsInterval: 15 * time.Minute,
			DiagnosticsWindow:   10,
			EventBatchSize:      500,
		},
		Advisor: AdvisorConfig{
			Interval:          time.Hour,
			RecommendationTTL: 7 * 24 * time.Hour,
		},
		Executor: ExecutorConfig{
			WebhookTimeout: 10 * time.Second,
		},
	}
}
