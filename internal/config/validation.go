package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("UpstreamTimeout", "不能为负数")
	}
	if g.ProbeURL != "" {
		if err := validateHTTPURL(g.ProbeURL); err != nil {
			return fmt.Errorf("ProbeURL: %w", err)
		}
		if g.ProbeInterval.DurationValue() <= 0 {
			return newFieldError("ProbeInterval", "必须大于 0")
		}
		if g.ProbeTimeout.DurationValue() <= 0 {
			return newFieldError("ProbeTimeout", "必须大于 0")
		}
	}

	a := c.App
	if strings.TrimSpace(a.CacheVersion) == "" {
		return newFieldError("CacheVersion", "不能为空，可通过 --cache-version 或 "+EnvCacheVersion+" 提供")
	}
	if err := validateHTTPURL(a.AppOrigin); err != nil {
		return fmt.Errorf("AppOrigin: %w", err)
	}
	if a.BuildPrefix != "" && !strings.HasPrefix(a.BuildPrefix, "/") {
		return newFieldError("BuildPrefix", "必须以 / 开头")
	}
	for _, asset := range a.ExtraAssets {
		if !strings.HasPrefix(strings.TrimSpace(asset), "/") {
			return newFieldError(listField("ExtraAssets", asset), "必须是以 / 开头的路径")
		}
	}
	for _, host := range a.TrustedHosts {
		if err := validateHost(host); err != nil {
			return fmt.Errorf("%s: %w", listField("TrustedHosts", host), err)
		}
	}
	for _, segment := range a.ProtectedSegments {
		if strings.TrimSpace(segment) == "" {
			return newFieldError("ProtectedSegments", "不允许空字符串")
		}
	}
	if a.LocalDataPrefix != "" && !strings.HasPrefix(a.LocalDataPrefix, "/") {
		return newFieldError("LocalDataPrefix", "必须以 / 开头")
	}
	if a.FreshnessThreshold.DurationValue() <= 0 {
		return newFieldError("FreshnessThreshold", "必须大于 0")
	}
	if a.InstallConcurrency <= 0 {
		return newFieldError("InstallConcurrency", "必须大于 0")
	}

	assetStore, requestStore := a.StoreNames()
	if strings.TrimSpace(requestStore) == "" {
		return newFieldError("RequestStoreName", "不能为空")
	}
	if strings.HasPrefix(requestStore, ".") || strings.HasPrefix(assetStore, ".") {
		return newFieldError("AssetStorePrefix/RequestStoreName", "缓存名不能以 . 开头")
	}
	if assetStore == requestStore {
		return newFieldError("RequestStoreName", "与当前资源缓存名冲突: "+assetStore)
	}

	return nil
}

func validateHost(host string) error {
	if host == "" {
		return errors.New("Host 不能为空")
	}
	if strings.Contains(host, "/") {
		return errors.New("Host 不允许包含路径")
	}
	if strings.Contains(host, " ") {
		return errors.New("Host 不允许包含空格")
	}
	if strings.HasPrefix(host, "http") && strings.Contains(host, ":") {
		return errors.New("Host 不应包含协议头")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
