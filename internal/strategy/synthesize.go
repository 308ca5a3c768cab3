package strategy

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// StatusOffline 是客户端已知离线时合成响应使用的状态码。
	StatusOffline = 523

	ReasonUnavailable = "Failed to connect to server"
	ReasonOffline     = "Requested an online resource while offline"

	offlineBody = "You are offline"
)

// Unavailable 合成 503 响应，用于 cache-first 回源失败。
func Unavailable(req *http.Request) *http.Response {
	return synthesize(req, http.StatusServiceUnavailable, ReasonUnavailable, ReasonUnavailable)
}

// Offline 合成 523 响应，用于已知离线时不发起网络请求。
func Offline(req *http.Request) *http.Response {
	return synthesize(req, StatusOffline, ReasonOffline, offlineBody)
}

// IsSynthesized 判断响应是否由本包合成。
func IsSynthesized(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(synthesizedHeader) != ""
}

const synthesizedHeader = "X-Dexcache-Synthesized"

func synthesize(req *http.Request, status int, reason, body string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set(synthesizedHeader, "true")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, reason),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// ReasonPhrase 从 Status 行中取出原因短语，例如 "523 Requested ..." → "Requested ..."。
func ReasonPhrase(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	prefix := fmt.Sprintf("%d ", resp.StatusCode)
	if strings.HasPrefix(resp.Status, prefix) {
		return strings.TrimPrefix(resp.Status, prefix)
	}
	if resp.Status != "" && !strings.HasPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)) {
		return resp.Status
	}
	return http.StatusText(resp.StatusCode)
}
