package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dexcache/dexcache/internal/cache"
	"github.com/dexcache/dexcache/internal/manifest"
	"github.com/dexcache/dexcache/internal/netstate"
	"github.com/dexcache/dexcache/internal/policy"
	"github.com/dexcache/dexcache/internal/strategy"
)

const (
	defaultAssetStorePrefix   = "assets-"
	defaultRequestStore       = "requests"
	defaultInstallConcurrency = 8
)

// Options 汇总一个部署版本的控制器参数。
type Options struct {
	// Version 是部署版本标识，资源缓存名称由它派生。
	Version            string
	AssetStorePrefix   string
	RequestStore       string
	AppOrigin          *url.URL
	Manifest           manifest.Manifest
	TrustedHosts       []string
	ProtectedSegments  []string
	LocalDataPrefix    string
	Freshness          cache.Freshness
	InstallConcurrency int
}

// Controller 是一个部署版本的缓存控制器。
type Controller struct {
	storage    cache.Storage
	fetcher    strategy.Fetcher
	online     netstate.Checker
	logger     *logrus.Logger
	classifier *policy.Classifier
	manifest   manifest.Manifest
	freshness  cache.Freshness

	version      string
	assetStore   string
	requestStore string
	concurrency  int
}

// New 校验参数并构造 Controller。
func New(storage cache.Storage, fetcher strategy.Fetcher, online netstate.Checker, logger *logrus.Logger, opts Options) (*Controller, error) {
	if storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if online == nil {
		return nil, errors.New("connectivity checker is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		return nil, errors.New("version identifier is required")
	}
	if opts.AppOrigin == nil || opts.AppOrigin.Host == "" {
		return nil, errors.New("app origin is required")
	}

	prefix := opts.AssetStorePrefix
	if prefix == "" {
		prefix = defaultAssetStorePrefix
	}
	requestStore := strings.TrimSpace(opts.RequestStore)
	if requestStore == "" {
		requestStore = defaultRequestStore
	}
	assetStore := prefix + version
	if assetStore == requestStore {
		return nil, fmt.Errorf("asset store %q collides with request store", assetStore)
	}
	concurrency := opts.InstallConcurrency
	if concurrency <= 0 {
		concurrency = defaultInstallConcurrency
	}
	freshness := opts.Freshness
	if freshness.Threshold() <= 0 {
		freshness = cache.NewFreshness(cache.DefaultFreshness)
	}

	classifier := policy.NewClassifier(policy.Options{
		Assets:            opts.Manifest,
		AssetStore:        assetStore,
		RequestStore:      requestStore,
		AppHost:           opts.AppOrigin.Host,
		TrustedHosts:      opts.TrustedHosts,
		ProtectedSegments: opts.ProtectedSegments,
		LocalDataPrefix:   opts.LocalDataPrefix,
	})

	return &Controller{
		storage:      storage,
		fetcher:      fetcher,
		online:       online,
		logger:       logger,
		classifier:   classifier,
		manifest:     opts.Manifest,
		freshness:    freshness,
		version:      version,
		assetStore:   assetStore,
		requestStore: requestStore,
		concurrency:  concurrency,
	}, nil
}

// Version 返回部署版本标识。
func (c *Controller) Version() string { return c.version }

// AssetStoreName 返回当前版本的资源缓存名称。
func (c *Controller) AssetStoreName() string { return c.assetStore }

// RequestStoreName 返回跨版本共享的请求缓存名称。
func (c *Controller) RequestStoreName() string { return c.requestStore }

// Storage 返回底层命名缓存存储，供诊断接口使用。
func (c *Controller) Storage() cache.Storage { return c.storage }

// Online 报告当前连接状态。
func (c *Controller) Online() bool { return c.online.Online() }

// Classify 返回请求对应的策略决策。
func (c *Controller) Classify(req *http.Request) policy.Decision {
	return c.classifier.Classify(req)
}

// Handle 分类请求并交给对应策略处理。返回 error 仅表示网络错误被策略原样传播。
func (c *Controller) Handle(ctx context.Context, req *http.Request) (*http.Response, policy.Decision, error) {
	decision := c.classifier.Classify(req)
	s := c.strategyFor(ctx, req, decision)
	resp, err := s.Handle(ctx, req)
	return resp, decision, err
}

func (c *Controller) strategyFor(ctx context.Context, req *http.Request, decision policy.Decision) strategy.Strategy {
	if decision.Kind == policy.NetworkOnly {
		return strategy.NewNetworkOnly(c.fetcher, c.online)
	}

	store, err := c.storage.Open(ctx, decision.Store)
	if err != nil {
		// 缓存不可用时退化为 network-only，保证请求仍能回源。
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action":   "cache_open",
			"store":    decision.Store,
			"url":      req.URL.String(),
			"strategy": string(decision.Kind),
		}).Error("cache_open_failed")
		return strategy.NewNetworkOnly(c.fetcher, c.online)
	}

	if decision.Kind == policy.CacheFirst {
		return strategy.NewCacheFirst(store, c.fetcher, c.online, c.freshness, c.logger)
	}
	return strategy.NewNetworkFirst(store, c.fetcher, c.online, c.logger)
}
