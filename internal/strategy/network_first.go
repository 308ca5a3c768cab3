package strategy

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dexcache/dexcache/internal/cache"
	"github.com/dexcache/dexcache/internal/netstate"
)

// NetworkFirst 总是先回源；回源失败时回退到任意年龄的缓存条目。
type NetworkFirst struct {
	store   cache.Cache
	fetcher Fetcher
	online  netstate.Checker
	logger  *logrus.Logger
}

// NewNetworkFirst 构造 network-first 策略。
func NewNetworkFirst(store cache.Cache, fetcher Fetcher, online netstate.Checker, logger *logrus.Logger) *NetworkFirst {
	return &NetworkFirst{
		store:   store,
		fetcher: fetcher,
		online:  online,
		logger:  logger,
	}
}

// Handle 实现 Strategy。无缓存且在线时原样返回网络错误。
func (s *NetworkFirst) Handle(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := fetchAndStore(ctx, s.fetcher, s.store, req, s.logger)
	if err == nil {
		return resp, nil
	}

	fields := logrus.Fields{
		"action":   "network_first",
		"store":    s.store.Name(),
		"url":      req.URL.String(),
		"strategy": "network-first",
	}
	entry, matchErr := s.store.Match(ctx, req)
	if matchErr == nil {
		s.logger.WithError(err).WithFields(fields).Info("network_first_cache_fallback")
		return entry.Response(req), nil
	}

	if !s.online.Online() {
		return Offline(req), nil
	}
	s.logger.WithError(err).WithFields(fields).Warn("network_first_fetch_failed")
	return nil, err
}
