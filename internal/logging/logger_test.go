package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dexcache/dexcache/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(&config.Config{Global: config.GlobalConfig{LogLevel: "info"}})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 会绕过目录权限位")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := &config.Config{Global: config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "dexcache.log"),
	}}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dexcache.log")
	cfg := &config.Config{Global: config.GlobalConfig{LogLevel: "debug", LogFilePath: path}}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestInitLoggerRejectsInvalidLevel(t *testing.T) {
	if _, err := InitLogger(&config.Config{Global: config.GlobalConfig{LogLevel: "loud"}}); err == nil {
		t.Fatalf("无效日志级别应返回错误")
	}
	if _, err := InitLogger(nil); err == nil {
		t.Fatalf("nil 配置应返回错误")
	}
}

func TestLogEntriesCarryDeployment(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{LogLevel: "info"},
		App: config.AppConfig{
			CacheVersion:     "2024-06-01",
			AssetStorePrefix: "assets-",
			RequestStoreName: "requests",
		},
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.WithField("store", "requests").Info("proxy_complete")
	logger.WithField("asset_store", "override").Info("explicit")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("解析日志失败: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("解析日志失败: %v", err)
	}
	if first["cache_version"] != "2024-06-01" || first["asset_store"] != "assets-2024-06-01" || first["request_store"] != "requests" {
		t.Fatalf("日志缺少部署字段: %v", first)
	}
	if second["asset_store"] != "override" {
		t.Fatalf("显式字段不应被覆盖: %v", second)
	}
}

func TestRequestFieldsCarryDecision(t *testing.T) {
	fields := RequestFields("GET", "https://pokeapi.co/api/v2/pokemon/1", "cache-first", "requests", "trusted_host")
	if fields["strategy"] != "cache-first" || fields["store"] != "requests" || fields["rule"] != "trusted_host" {
		t.Fatalf("字段缺失: %v", fields)
	}
	base := BaseFields("startup", "config.toml")
	if base["action"] != "startup" || base["configPath"] != "config.toml" {
		t.Fatalf("基础字段错误: %v", base)
	}
}
