package routes

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/dexcache/dexcache/internal/netstate"
	"github.com/dexcache/dexcache/internal/policy"
	"github.com/dexcache/dexcache/internal/server"
	"github.com/dexcache/dexcache/internal/version"
)

// RegisterDiagnosticsRoutes 暴露 /-/ 诊断接口：运行状态、连通性开关与 URL 分类预览。
func RegisterDiagnosticsRoutes(app *fiber.App, dispatcher *server.Dispatcher, monitor *netstate.Monitor) {
	if app == nil || dispatcher == nil || monitor == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(encodeStatus(c.Context(), dispatcher, monitor))
	})

	app.Put("/-/connectivity", func(c fiber.Ctx) error {
		var payload connectivityPayload
		if err := c.App().Config().JSONDecoder(c.Body(), &payload); err != nil || payload.Online == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "online_flag_required"})
		}
		changed := monitor.Set(*payload.Online)
		return c.JSON(fiber.Map{
			"online":  monitor.Online(),
			"changed": changed,
		})
	})

	app.Get("/-/classify", func(c fiber.Ctx) error {
		current := dispatcher.Current()
		if current == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "not_claimed"})
		}
		raw := strings.TrimSpace(c.Query("url"))
		target, err := url.Parse(raw)
		if raw == "" || err != nil || target.Host == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "absolute_url_required"})
		}
		method := strings.ToUpper(strings.TrimSpace(c.Query("method", http.MethodGet)))
		req, err := http.NewRequest(method, target.String(), nil)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_method"})
		}
		return c.JSON(encodeDecision(method, target.String(), current.Classify(req)))
	})
}

type connectivityPayload struct {
	Online *bool `json:"online"`
}

type statusPayload struct {
	Version      string   `json:"version"`
	CacheVersion string   `json:"cache_version,omitempty"`
	Claimed      bool     `json:"claimed"`
	Online       bool     `json:"online"`
	AssetStore   string   `json:"asset_store,omitempty"`
	RequestStore string   `json:"request_store,omitempty"`
	Stores       []string `json:"stores"`
	StoreError   string   `json:"store_error,omitempty"`
}

type decisionPayload struct {
	Method   string `json:"method"`
	URL      string `json:"url"`
	Strategy string `json:"strategy"`
	Store    string `json:"store,omitempty"`
	Rule     string `json:"rule"`
}

func encodeStatus(ctx context.Context, dispatcher *server.Dispatcher, monitor *netstate.Monitor) statusPayload {
	payload := statusPayload{
		Version: version.Full(),
		Online:  monitor.Online(),
		Stores:  []string{},
	}
	current := dispatcher.Current()
	if current == nil {
		return payload
	}
	payload.Claimed = true
	payload.CacheVersion = current.Version()
	payload.AssetStore = current.AssetStoreName()
	payload.RequestStore = current.RequestStoreName()
	if ctx == nil {
		ctx = context.Background()
	}
	keys, err := current.Storage().Keys(ctx)
	if err != nil {
		payload.StoreError = err.Error()
		return payload
	}
	if keys != nil {
		payload.Stores = keys
	}
	return payload
}

func encodeDecision(method, target string, decision policy.Decision) decisionPayload {
	return decisionPayload{
		Method:   method,
		URL:      target,
		Strategy: string(decision.Kind),
		Store:    decision.Store,
		Rule:     string(decision.Rule),
	}
}
