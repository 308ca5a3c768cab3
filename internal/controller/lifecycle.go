package controller

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dexcache/dexcache/internal/cache"
)

// Claimer 由宿主实现：激活完成后立即把所有客户端请求交给新的控制器。
type Claimer interface {
	Claim(c *Controller)
}

// InstallReport 汇总安装阶段结果；部分失败不会让安装失败。
type InstallReport struct {
	Store  string
	Total  int
	Cached int
	Failed int
}

// ActivateReport 汇总激活阶段删除的旧缓存。
type ActivateReport struct {
	Kept    []string
	Deleted []string
}

// Install 打开（或创建）资源缓存，并尽力写入清单中的每一项。
// 单个资源失败只记录日志，安装总是正常完成。
func (c *Controller) Install(ctx context.Context) InstallReport {
	started := time.Now()
	urls := c.manifest.URLs()
	report := InstallReport{Store: c.assetStore, Total: len(urls)}

	fields := logrus.Fields{
		"action":  "install",
		"version": c.version,
		"store":   c.assetStore,
		"assets":  len(urls),
	}

	store, err := c.storage.Open(ctx, c.assetStore)
	if err != nil {
		report.Failed = len(urls)
		fields["error"] = err.Error()
		c.logger.WithFields(fields).Error("install_open_failed")
		return report
	}

	var cached, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, assetURL := range urls {
		g.Go(func() error {
			if err := c.cacheAsset(ctx, store, assetURL); err != nil {
				failed.Add(1)
				c.logger.WithError(err).WithFields(logrus.Fields{
					"action":  "install",
					"version": c.version,
					"store":   c.assetStore,
					"url":     assetURL,
				}).Warn("install_asset_failed")
				return nil
			}
			cached.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report.Cached = int(cached.Load())
	report.Failed = int(failed.Load())
	fields["cached"] = report.Cached
	fields["failed"] = report.Failed
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	c.logger.WithFields(fields).Info("install_complete")
	return report
}

// cacheAsset 拉取单个静态资源；只有 2xx 响应才写入资源缓存。
func (c *Controller) cacheAsset(ctx context.Context, store cache.Cache, assetURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.fetcher.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return store.Put(ctx, req, resp)
}

// Activate 删除除当前资源缓存与请求缓存之外的全部命名缓存，然后立即接管客户端。
// 清理失败会直接返回错误，宿主需要视为阻断部署。
func (c *Controller) Activate(ctx context.Context, claimer Claimer) (ActivateReport, error) {
	fields := logrus.Fields{
		"action":  "activate",
		"version": c.version,
		"store":   c.assetStore,
	}

	keys, err := c.storage.Keys(ctx)
	if err != nil {
		fields["error"] = err.Error()
		c.logger.WithFields(fields).Error("activate_failed")
		return ActivateReport{}, fmt.Errorf("list caches: %w", err)
	}

	var report ActivateReport
	for _, key := range keys {
		if key == c.assetStore || key == c.requestStore {
			report.Kept = append(report.Kept, key)
			continue
		}
		if _, err := c.storage.Delete(ctx, key); err != nil {
			fields["error"] = err.Error()
			fields["cache"] = key
			c.logger.WithFields(fields).Error("activate_failed")
			return report, fmt.Errorf("delete cache %s: %w", key, err)
		}
		report.Deleted = append(report.Deleted, key)
	}

	if claimer != nil {
		claimer.Claim(c)
	}

	fields["deleted"] = report.Deleted
	fields["kept"] = report.Kept
	c.logger.WithFields(fields).Info("activate_complete")
	return report, nil
}
