package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvCacheVersion 允许部署流水线在不改配置文件的情况下注入版本号。
const EnvCacheVersion = "DEXCACHE_CACHE_VERSION"

// Override 在读取文件之后、解码之前修改配置值，CLI 标志通过它覆盖文件内容。
type Override func(v *viper.Viper)

// WithCacheVersion 使用给定版本覆盖 CacheVersion，空字符串不生效。
func WithCacheVersion(version string) Override {
	return func(v *viper.Viper) {
		if trimmed := strings.TrimSpace(version); trimmed != "" {
			v.Set("CacheVersion", trimmed)
		}
	}
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string, overrides ...Override) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.BindEnv("CacheVersion", EnvCacheVersion); err != nil {
		return nil, fmt.Errorf("绑定环境变量失败: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	for _, override := range overrides {
		if override != nil {
			override(v)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyAppDefaults(&cfg.App)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	base := filepath.Dir(path)
	cfg.App.BuildDir = resolveRelative(base, cfg.App.BuildDir)
	cfg.App.StaticDir = resolveRelative(base, cfg.App.StaticDir)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", 0)
	v.SetDefault("ProbeURL", "")
	v.SetDefault("ProbeInterval", "15s")
	v.SetDefault("ProbeTimeout", "5s")

	v.SetDefault("BuildPrefix", "/")
	v.SetDefault("TrustedHosts", []string{"pokeapi.co", "raw.githubusercontent.com"})
	v.SetDefault("ProtectedSegments", []string{"/auth/", "/api/", "/user/"})
	v.SetDefault("LocalDataPrefix", "/src/lib/data")
	v.SetDefault("FreshnessThreshold", "30m")
	v.SetDefault("RequestStoreName", "requests")
	v.SetDefault("AssetStorePrefix", "assets-")
	v.SetDefault("InstallConcurrency", 8)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.ProbeInterval.DurationValue() == 0 {
		g.ProbeInterval = Duration(15 * time.Second)
	}
	if g.ProbeTimeout.DurationValue() == 0 {
		g.ProbeTimeout = Duration(5 * time.Second)
	}
}

func applyAppDefaults(a *AppConfig) {
	a.CacheVersion = strings.TrimSpace(a.CacheVersion)
	if a.FreshnessThreshold.DurationValue() == 0 {
		a.FreshnessThreshold = Duration(30 * time.Minute)
	}
	if strings.TrimSpace(a.RequestStoreName) == "" {
		a.RequestStoreName = "requests"
	}
	if a.AssetStorePrefix == "" {
		a.AssetStorePrefix = "assets-"
	}
	if a.InstallConcurrency <= 0 {
		a.InstallConcurrency = 8
	}
	if a.BuildPrefix == "" {
		a.BuildPrefix = "/"
	}
	for i, host := range a.TrustedHosts {
		a.TrustedHosts[i] = strings.ToLower(strings.TrimSpace(host))
	}
}

// resolveRelative 让相对目录以配置文件所在目录为基准。
func resolveRelative(base, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(base, dir)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
