package strategy

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dexcache/dexcache/internal/cache"
	"github.com/dexcache/dexcache/internal/netstate"
)

// CacheFirst 优先使用未过期的缓存；过期条目先被驱逐再回源，回源失败不会回退到旧条目。
type CacheFirst struct {
	store     cache.Cache
	fetcher   Fetcher
	online    netstate.Checker
	freshness cache.Freshness
	logger    *logrus.Logger
}

// NewCacheFirst 构造 cache-first 策略。
func NewCacheFirst(store cache.Cache, fetcher Fetcher, online netstate.Checker, freshness cache.Freshness, logger *logrus.Logger) *CacheFirst {
	return &CacheFirst{
		store:     store,
		fetcher:   fetcher,
		online:    online,
		freshness: freshness,
		logger:    logger,
	}
}

// Handle 实现 Strategy。
func (s *CacheFirst) Handle(ctx context.Context, req *http.Request) (*http.Response, error) {
	entry, err := s.store.Match(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrNotFound):
		entry = nil
	default:
		s.logger.WithError(err).WithFields(s.fields(req)).Warn("cache_match_failed")
		entry = nil
	}

	if entry != nil {
		if s.freshness.IsFresh(entry) {
			return entry.Response(req), nil
		}
		entry.Close()

		fields := s.fields(req)
		fields["age"] = s.freshness.Age(entry).String()
		if _, err := s.store.Delete(ctx, req); err != nil {
			s.logger.WithError(err).WithFields(fields).Warn("cache_evict_failed")
		}
		s.logger.WithFields(fields).Info("cache_entry_refresh")
		return s.refresh(ctx, req), nil
	}

	if !s.online.Online() {
		return Offline(req), nil
	}
	return s.refresh(ctx, req), nil
}

// refresh 回源并在成功时写入缓存；传输失败合成 503。
func (s *CacheFirst) refresh(ctx context.Context, req *http.Request) *http.Response {
	resp, err := fetchAndStore(ctx, s.fetcher, s.store, req, s.logger)
	if err != nil {
		s.logger.WithError(err).WithFields(s.fields(req)).Warn("cache_first_fetch_failed")
		return Unavailable(req)
	}
	return resp
}

func (s *CacheFirst) fields(req *http.Request) logrus.Fields {
	return logrus.Fields{
		"action":   "cache_first",
		"store":    s.store.Name(),
		"url":      req.URL.String(),
		"strategy": "cache-first",
	}
}
