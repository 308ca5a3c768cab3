package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dexcache/dexcache/internal/config"
)

// InitLogger 根据配置初始化 JSON 结构化日志。每条日志都会带上当前部署的
// cache_version / asset_store / request_store，便于区分新旧版本的输出。
func InitLogger(cfg *config.Config) (*logrus.Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	level, err := logrus.ParseLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, outErr := openOutput(cfg.Global)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.AddHook(newDeploymentHook(cfg.App))

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.Global.LogFilePath,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

// openOutput 未配置文件时写 stdout；目录不可用时降级到 stdout 并返回原因。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}

	dir := filepath.Dir(cfg.LogFilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// deploymentHook 给每条日志补充部署身份，调用方显式传入的同名字段优先。
type deploymentHook struct {
	fields logrus.Fields
}

func newDeploymentHook(app config.AppConfig) *deploymentHook {
	assetStore, requestStore := app.StoreNames()
	fields := logrus.Fields{}
	if app.CacheVersion != "" {
		fields["cache_version"] = app.CacheVersion
		fields["asset_store"] = assetStore
	}
	if requestStore != "" {
		fields["request_store"] = requestStore
	}
	return &deploymentHook{fields: fields}
}

func (h *deploymentHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *deploymentHook) Fire(entry *logrus.Entry) error {
	for key, value := range h.fields {
		if _, ok := entry.Data[key]; !ok {
			entry.Data[key] = value
		}
	}
	return nil
}
