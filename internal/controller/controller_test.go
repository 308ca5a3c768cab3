package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dexcache/dexcache/internal/cache"
	"github.com/dexcache/dexcache/internal/manifest"
	"github.com/dexcache/dexcache/internal/netstate"
	"github.com/dexcache/dexcache/internal/policy"
	"github.com/dexcache/dexcache/internal/strategy"
)

func TestInstallThenActivateReplacesPreviousVersion(t *testing.T) {
	app := newAppStub(t, map[string]string{
		"/app.js":  "console.log('v1')",
		"/app2.js": "console.log('v2')",
	})
	defer app.Close()

	storage := newStorage(t)
	ctx := context.Background()

	v1 := newController(t, storage, app.Client(), netstate.NewMonitor(), Options{
		Version:   "v1",
		AppOrigin: mustURL(t, app.URL),
		Manifest:  mustManifest(t, app.URL, "/app.js"),
	})
	report := v1.Install(ctx)
	if report.Cached != 1 || report.Failed != 0 {
		t.Fatalf("v1 install report mismatch: %+v", report)
	}
	if _, err := v1.Activate(ctx, nil); err != nil {
		t.Fatalf("v1 activate failed: %v", err)
	}

	// 请求缓存跨版本保留。
	requests, _ := storage.Open(ctx, "requests")
	keepReq := httptest.NewRequest(http.MethodGet, "https://pokeapi.co/api/v2/pokemon/25", nil)
	_ = requests.Put(ctx, keepReq, okResponse("pikachu"))

	v2 := newController(t, storage, app.Client(), netstate.NewMonitor(), Options{
		Version:   "v2",
		AppOrigin: mustURL(t, app.URL),
		Manifest:  mustManifest(t, app.URL, "/app.js", "/app2.js"),
	})
	if report := v2.Install(ctx); report.Cached != 2 {
		t.Fatalf("v2 install report mismatch: %+v", report)
	}
	claimer := &recordingClaimer{}
	activation, err := v2.Activate(ctx, claimer)
	if err != nil {
		t.Fatalf("v2 activate failed: %v", err)
	}
	if len(activation.Deleted) != 1 || activation.Deleted[0] != "assets-v1" {
		t.Fatalf("expected assets-v1 to be deleted, got %+v", activation)
	}
	if claimer.claimed != v2 {
		t.Fatalf("activation should claim clients for v2")
	}

	if ok, _ := storage.Has(ctx, "assets-v1"); ok {
		t.Fatalf("assets-v1 should no longer exist")
	}
	assets, _ := storage.Open(ctx, "assets-v2")
	for _, p := range []string{"/app.js", "/app2.js"} {
		req := httptest.NewRequest(http.MethodGet, app.URL+p, nil)
		entry, err := assets.Match(ctx, req)
		if err != nil {
			t.Fatalf("assets-v2 should contain %s: %v", p, err)
		}
		entry.Close()
	}
	if _, err := requests.Match(ctx, keepReq); err != nil {
		t.Fatalf("request store should survive activation: %v", err)
	}
}

func TestInstallToleratesPartialFailures(t *testing.T) {
	app := newAppStub(t, map[string]string{"/app.js": "ok"})
	defer app.Close()

	storage := newStorage(t)
	c := newController(t, storage, app.Client(), netstate.NewMonitor(), Options{
		Version:   "v3",
		AppOrigin: mustURL(t, app.URL),
		Manifest:  mustManifest(t, app.URL, "/app.js", "/missing.js"),
	})

	report := c.Install(context.Background())
	if report.Total != 2 || report.Cached != 1 || report.Failed != 1 {
		t.Fatalf("unexpected install report: %+v", report)
	}
	if ok, _ := storage.Has(context.Background(), "assets-v3"); !ok {
		t.Fatalf("asset store should exist after partial install")
	}
}

func TestActivatePropagatesCleanupFailure(t *testing.T) {
	base := newStorage(t)
	ctx := context.Background()
	_, _ = base.Open(ctx, "assets-old")
	storage := &failingDeleteStorage{Storage: base, err: errors.New("permission denied")}

	c := newController(t, storage, strategy.FetcherFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("unused")
	}), netstate.NewMonitor(), Options{
		Version:   "v4",
		AppOrigin: mustURL(t, "https://dex.example.com"),
	})

	claimer := &recordingClaimer{}
	if _, err := c.Activate(ctx, claimer); err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("cleanup failure must propagate, got %v", err)
	}
	if claimer.claimed != nil {
		t.Fatalf("clients must not be claimed when activation fails")
	}
}

func TestHandleScenarios(t *testing.T) {
	storage := newStorage(t)
	monitor := netstate.NewMonitor()
	var mu sync.Mutex
	calls := map[string]int{}
	failAuth := errors.New("connection reset")
	fetcher := strategy.FetcherFunc(func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		calls[req.URL.String()]++
		mu.Unlock()
		switch {
		case req.URL.Host == "pokeapi.co":
			return okResponse(`{"id":25}`), nil
		case strings.HasPrefix(req.URL.Path, "/auth/"):
			return nil, failAuth
		default:
			return nil, errors.New("no route to host")
		}
	})
	c := newController(t, storage, fetcher, monitor, Options{
		Version:           "v5",
		AppOrigin:         mustURL(t, "https://dex.example.com"),
		TrustedHosts:      []string{"pokeapi.co", "raw.githubusercontent.com"},
		ProtectedSegments: []string{"/auth/", "/api/", "/user/"},
		LocalDataPrefix:   "/src/lib/data",
	})
	ctx := context.Background()

	t.Run("pokeapi cache-first stores response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "https://pokeapi.co/api/v2/pokemon/25", nil)
		resp, decision, err := c.Handle(ctx, req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		resp.Body.Close()
		if decision.Kind != policy.CacheFirst || decision.Store != "requests" {
			t.Fatalf("unexpected decision: %+v", decision)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected original status, got %d", resp.StatusCode)
		}
		store, _ := storage.Open(ctx, "requests")
		entry, err := store.Match(ctx, req)
		if err != nil {
			t.Fatalf("response should be stored: %v", err)
		}
		entry.Close()

		// 第二次命中缓存，不再回源。
		resp, _, _ = c.Handle(ctx, httptest.NewRequest(http.MethodGet, "https://pokeapi.co/api/v2/pokemon/25", nil))
		resp.Body.Close()
		mu.Lock()
		defer mu.Unlock()
		if calls["https://pokeapi.co/api/v2/pokemon/25"] != 1 {
			t.Fatalf("second request should be served from cache, got %d fetches", calls["https://pokeapi.co/api/v2/pokemon/25"])
		}
	})

	t.Run("auth signin is network-only and leaves stores alone", func(t *testing.T) {
		before, _ := storage.Keys(ctx)
		req := httptest.NewRequest(http.MethodGet, "https://dex.example.com/auth/signin", nil)
		_, decision, err := c.Handle(ctx, req)
		if decision.Kind != policy.NetworkOnly {
			t.Fatalf("expected network-only, got %+v", decision)
		}
		if !errors.Is(err, failAuth) {
			t.Fatalf("network-only should propagate the error, got %v", err)
		}
		after, _ := storage.Keys(ctx)
		if strings.Join(before, ",") != strings.Join(after, ",") {
			t.Fatalf("stores changed: %v -> %v", before, after)
		}
		store, _ := storage.Open(ctx, "requests")
		if _, err := store.Match(ctx, req); !errors.Is(err, cache.ErrNotFound) {
			t.Fatalf("auth response must never be cached")
		}
	})

	t.Run("offline third party miss returns 523", func(t *testing.T) {
		monitor.Set(false)
		defer monitor.Set(true)
		req := httptest.NewRequest(http.MethodGet, "https://cdn.example.net/lib.js", nil)
		resp, decision, err := c.Handle(ctx, req)
		if err != nil {
			t.Fatalf("offline miss must not raise: %v", err)
		}
		if decision.Kind != policy.NetworkFirst || resp.StatusCode != strategy.StatusOffline {
			t.Fatalf("expected network-first 523, got %+v %d", decision, resp.StatusCode)
		}
	})

	t.Run("non-GET is network-only", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "https://pokeapi.co/api/v2/pokemon/25", nil)
		if d := c.Classify(req); d.Kind != policy.NetworkOnly {
			t.Fatalf("POST should be network-only, got %+v", d)
		}
	})
}

func TestNewValidatesOptions(t *testing.T) {
	storage := newStorage(t)
	logger := quietLogger()
	fetcher := http.DefaultClient
	if _, err := New(storage, fetcher, netstate.NewMonitor(), logger, Options{AppOrigin: mustURL(t, "https://dex.example.com")}); err == nil {
		t.Fatalf("missing version should fail")
	}
	if _, err := New(storage, fetcher, netstate.NewMonitor(), logger, Options{Version: "v1"}); err == nil {
		t.Fatalf("missing origin should fail")
	}
	if _, err := New(storage, fetcher, netstate.NewMonitor(), logger, Options{
		Version:          "requests",
		AssetStorePrefix: "-",
		RequestStore:     "-requests",
		AppOrigin:        mustURL(t, "https://dex.example.com"),
	}); err == nil {
		t.Fatalf("colliding store names should fail")
	}
}

type recordingClaimer struct {
	claimed *Controller
}

func (r *recordingClaimer) Claim(c *Controller) {
	r.claimed = c
}

type failingDeleteStorage struct {
	cache.Storage
	err error
}

func (s *failingDeleteStorage) Delete(context.Context, string) (bool, error) {
	return false, s.err
}

func newAppStub(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
}

func newStorage(t *testing.T) cache.Storage {
	t.Helper()
	storage, err := cache.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	return storage
}

func newController(t *testing.T, storage cache.Storage, fetcher strategy.Fetcher, online netstate.Checker, opts Options) *Controller {
	t.Helper()
	c, err := New(storage, fetcher, online, quietLogger(), opts)
	if err != nil {
		t.Fatalf("controller error: %v", err)
	}
	return c
}

func mustManifest(t *testing.T, origin string, paths ...string) manifest.Manifest {
	t.Helper()
	m, err := manifest.FromPaths(mustURL(t, origin), paths)
	if err != nil {
		t.Fatalf("manifest error: %v", err)
	}
	return m
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func okResponse(body string) *http.Response {
	header := http.Header{}
	header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
