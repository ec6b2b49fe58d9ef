package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger 初始化日志系统，返回配置后的全局 logger
func InitLogger(cfg *Config) (*logrus.Logger, error) {
	logger := logrus.StandardLogger()
	if err := configureLogger(logger, cfg.Log); err != nil {
		return nil, err
	}
	logger.Infof("Logger initialized - Level: %s, Format: %s, Output: %s",
		cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	return logger, nil
}

func configureLogger(logger *logrus.Logger, lc LogConfig) error {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		logger.Warnf("Invalid log level '%s', using 'info'", lc.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch strings.ToLower(lc.Format) {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	switch strings.ToLower(lc.Output) {
	case "file":
		w, err := rotatingWriter(lc)
		if err != nil {
			return err
		}
		logger.SetOutput(w)
	case "both":
		// 同时输出到控制台和文件
		w, err := rotatingWriter(lc)
		if err != nil {
			return err
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, w))
	default:
		logger.SetOutput(os.Stdout)
	}
	return nil
}

func rotatingWriter(lc LogConfig) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(lc.FilePath), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   lc.FilePath,
		MaxSize:    lc.MaxSize,    // MB
		MaxBackups: lc.MaxBackups, // 保留文件数
		MaxAge:     lc.MaxAge,     // 保留天数
		Compress:   lc.Compress,
		LocalTime:  true,
	}, nil
}
