// Package strategy 实现三种缓存策略：cache-first、network-first、network-only。
// 每种策略都满足统一的 Strategy 接口，由 policy.Classifier 的决策选择。
package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dexcache/dexcache/internal/cache"
)

// Strategy 处理一个被拦截的请求并返回响应。返回 error 表示网络错误被原样传播。
type Strategy interface {
	Handle(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Fetcher 执行真实的网络请求，*http.Client 直接满足该接口。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetcherFunc 让普通函数满足 Fetcher，便于测试注入。
type FetcherFunc func(req *http.Request) (*http.Response, error)

// Do 实现 Fetcher。
func (f FetcherFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// cacheableStatus 判断响应是否写入缓存：状态码小于 400。
func cacheableStatus(status int) bool {
	return status < http.StatusBadRequest
}

// outboundRequest 复制拦截到的请求，清理仅服务端使用的字段后交给 Fetcher。
func outboundRequest(ctx context.Context, req *http.Request) *http.Request {
	out := req.Clone(ctx)
	out.RequestURI = ""
	return out
}

func fetch(ctx context.Context, fetcher Fetcher, req *http.Request) (*http.Response, error) {
	return fetcher.Do(outboundRequest(ctx, req))
}

// fetchAndStore 回源。可缓存的响应先流式写入缓存，再从落盘的条目返回，
// 正文不在内存中整体驻留；不可缓存的响应原样透传。读取上游正文失败视为网络失败，
// 仅缓存写入失败时记录日志并重新回源透传。
func fetchAndStore(ctx context.Context, fetcher Fetcher, store cache.Cache, req *http.Request, logger *logrus.Logger) (*http.Response, error) {
	resp, err := fetch(ctx, fetcher, req)
	if err != nil {
		return nil, err
	}
	if !cacheableStatus(resp.StatusCode) {
		return resp, nil
	}

	upstream := &upstreamBody{ReadCloser: resp.Body}
	resp.Body = upstream
	putErr := store.Put(ctx, req, resp)
	upstream.Close()
	if upstream.err != nil {
		return nil, fmt.Errorf("read response body: %w", upstream.err)
	}
	if putErr == nil {
		entry, matchErr := store.Match(ctx, req)
		if matchErr == nil {
			return entry.Response(req), nil
		}
		putErr = matchErr
	}

	logger.WithError(putErr).WithFields(logrus.Fields{
		"action": "cache_put",
		"store":  store.Name(),
		"url":    req.URL.String(),
	}).Warn("cache_put_failed")
	return fetch(ctx, fetcher, req)
}

// upstreamBody 记录上游正文的读错误，用于区分网络失败与缓存写入失败。
type upstreamBody struct {
	io.ReadCloser
	err error
}

func (b *upstreamBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.err = err
	}
	return n, err
}
