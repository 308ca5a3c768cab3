package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志、磁盘目录与上游客户端。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	ProbeURL        string   `mapstructure:"ProbeURL"`
	ProbeInterval   Duration `mapstructure:"ProbeInterval"`
	ProbeTimeout    Duration `mapstructure:"ProbeTimeout"`
}

// AppConfig 描述一次部署：版本、应用源站、静态清单与分类规则。
type AppConfig struct {
	CacheVersion       string   `mapstructure:"CacheVersion"`
	AppOrigin          string   `mapstructure:"AppOrigin"`
	BuildDir           string   `mapstructure:"BuildDir"`
	BuildPrefix        string   `mapstructure:"BuildPrefix"`
	StaticDir          string   `mapstructure:"StaticDir"`
	ExtraAssets        []string `mapstructure:"ExtraAssets"`
	TrustedHosts       []string `mapstructure:"TrustedHosts"`
	ProtectedSegments  []string `mapstructure:"ProtectedSegments"`
	LocalDataPrefix    string   `mapstructure:"LocalDataPrefix"`
	FreshnessThreshold Duration `mapstructure:"FreshnessThreshold"`
	RequestStoreName   string   `mapstructure:"RequestStoreName"`
	AssetStorePrefix   string   `mapstructure:"AssetStorePrefix"`
	InstallConcurrency int      `mapstructure:"InstallConcurrency"`
}

// Config 是 TOML 文件映射的整体结构，所有键都位于顶层。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	App    AppConfig    `mapstructure:",squash"`
}

// Origin 返回解析后的应用源站，假定 Validate 已经通过。
func (c *Config) Origin() *url.URL {
	parsed, err := url.Parse(strings.TrimSpace(c.App.AppOrigin))
	if err != nil {
		return nil
	}
	return parsed
}

// StoreNames 返回当前版本的资源缓存名与请求缓存名，供日志与 check-config 输出。
func (a AppConfig) StoreNames() (string, string) {
	return a.AssetStorePrefix + a.CacheVersion, a.RequestStoreName
}
