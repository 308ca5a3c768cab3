package strategy

import (
	"context"
	"net/http"

	"github.com/dexcache/dexcache/internal/netstate"
)

// NetworkOnly 从不读写缓存；离线时直接合成 523，否则原样返回网络结果或错误。
type NetworkOnly struct {
	fetcher Fetcher
	online  netstate.Checker
}

// NewNetworkOnly 构造 network-only 策略。
func NewNetworkOnly(fetcher Fetcher, online netstate.Checker) *NetworkOnly {
	return &NetworkOnly{fetcher: fetcher, online: online}
}

// Handle 实现 Strategy。
func (s *NetworkOnly) Handle(ctx context.Context, req *http.Request) (*http.Response, error) {
	if !s.online.Online() {
		return Offline(req), nil
	}
	return fetch(ctx, s.fetcher, req)
}
