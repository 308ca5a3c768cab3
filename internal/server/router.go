package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/dexcache/dexcache/internal/logging"
	"github.com/dexcache/dexcache/internal/policy"
	"github.com/dexcache/dexcache/internal/strategy"
)

// ProxyHandler 处理一个被拦截的请求并返回响应与分类结果，Dispatcher 是默认实现。
type ProxyHandler interface {
	Handle(ctx context.Context, req *http.Request) (*http.Response, policy.Decision, error)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Proxy      ProxyHandler
	ListenPort int
}

const (
	contextKeyRequestID = "_dexcache_request_id"

	// HeaderStrategy/HeaderRule 把分类结果回写给客户端，便于排查缓存行为。
	HeaderStrategy = "X-Dexcache-Strategy"
	HeaderRule     = "X-Dexcache-Rule"
)

// NewApp builds a Fiber application that forwards every non-diagnostics
// request through the proxy handler.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsRequest(c) {
			return c.Next()
		}
		if c.Method() == fiber.MethodConnect {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "proxy",
				"request_id": RequestID(c),
				"target":     string(c.Request().Header.RequestURI()),
			}).Warn("proxy_connect_rejected")
			return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "connect_unsupported"})
		}
		return forward(c, opts.Proxy, opts.Logger)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并回写到响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// forward 把 Fiber 请求转换为 http.Request 交给 handler，再把结果写回客户端。
func forward(c fiber.Ctx, handler ProxyHandler, logger *logrus.Logger) error {
	started := time.Now()
	requestID := RequestID(c)

	req, err := buildRequest(c)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"action":     "proxy",
			"request_id": requestID,
			"error":      err.Error(),
		}).Warn("proxy_bad_request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	resp, decision, err := handler.Handle(req.Context(), req)
	fields := logging.RequestFields(req.Method, req.URL.String(), string(decision.Kind), decision.Store, string(decision.Rule))
	fields["action"] = "proxy"
	fields["request_id"] = requestID

	c.Set(HeaderStrategy, string(decision.Kind))
	c.Set(HeaderRule, string(decision.Rule))

	if err != nil {
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		fields["error"] = err.Error()
		logger.WithFields(fields).Error("proxy_failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	copyErr := writeResponse(c, resp)
	fields["status"] = resp.StatusCode
	fields["synthesized"] = strategy.IsSynthesized(resp)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if copyErr != nil {
		fields["error"] = copyErr.Error()
		logger.WithFields(fields).Error("proxy_stream_failed")
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", copyErr))
	}
	logger.WithFields(fields).Info("proxy_complete")
	return nil
}

// buildRequest 根据请求行与 Host 还原客户端访问的绝对 URL。
func buildRequest(c fiber.Ctx) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), requestURL(c), body)
	if err != nil {
		return nil, err
	}

	CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Header.Del("X-Forwarded-Proto")
	req.Host = req.URL.Host
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	return req, nil
}

// requestURL 还原目标 URL。absolute-form 请求行自带 scheme，X-Forwarded-Proto
// 只对 origin-form 请求生效。
func requestURL(c fiber.Ctx) string {
	uri := c.Request().URI()
	scheme := string(uri.Scheme())
	if !isAbsoluteForm(c) {
		if proto := strings.TrimSpace(c.Get("X-Forwarded-Proto")); proto != "" {
			scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		}
	}
	if scheme == "" {
		scheme = "http"
	}
	host := string(uri.Host())
	if host == "" {
		host = c.Hostname()
	}
	return scheme + "://" + host + string(uri.RequestURI())
}

// writeResponse 回写状态、头与正文；非标准状态码沿用响应自带的 reason phrase。
func writeResponse(c fiber.Ctx, resp *http.Response) error {
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if isHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}

	c.Status(resp.StatusCode)
	if reason := strategy.ReasonPhrase(resp); reason != "" && reason != fasthttp.StatusMessage(resp.StatusCode) {
		c.Response().Header.SetStatusMessage([]byte(reason))
	}

	if c.Method() == http.MethodHead {
		return nil
	}
	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	return err
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// isDiagnosticsRequest 仅当请求直接发给代理本身时才进入诊断接口：origin-form 请求行，
// Host 为 localhost、回环地址或本机监听地址。代理流量中的 /-/ 路径照常转发。
func isDiagnosticsRequest(c fiber.Ctx) bool {
	if !strings.HasPrefix(string(c.Request().URI().Path()), "/-/") || isAbsoluteForm(c) {
		return false
	}
	host := string(c.Request().Header.Host())
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.Equal(c.RequestCtx().LocalIP())
}

func isAbsoluteForm(c fiber.Ctx) bool {
	raw := strings.ToLower(string(c.Request().Header.RequestURI()))
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
