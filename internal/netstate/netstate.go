// Package netstate 提供同步可查询的在线/离线状态，供缓存策略在发起网络请求前短路。
package netstate

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Checker 报告客户端当前是否在线，调用必须是同步且廉价的。
type Checker interface {
	Online() bool
}

// Monitor 保存最近一次探测（或人工设置）的在线状态，默认在线。
type Monitor struct {
	offline atomic.Bool
}

// NewMonitor 返回默认在线的 Monitor。
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Online 实现 Checker。
func (m *Monitor) Online() bool {
	return !m.offline.Load()
}

// Set 更新在线状态，返回状态是否发生变化。
func (m *Monitor) Set(online bool) bool {
	return m.offline.Swap(!online) != !online
}

// Probe 周期性地对 target 发送 HEAD 请求，据结果更新 Monitor。
type Probe struct {
	monitor  *Monitor
	client   *http.Client
	target   string
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewProbe 构造探测器；interval/timeout 非正数时使用默认值。
func NewProbe(monitor *Monitor, client *http.Client, target string, interval, timeout time.Duration, logger *logrus.Logger) *Probe {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Probe{
		monitor:  monitor,
		client:   client,
		target:   target,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run 立即探测一次，然后按 interval 循环，直到 ctx 结束。
func (p *Probe) Run(ctx context.Context) {
	p.Check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check 执行单次探测：任何 HTTP 响应都视为在线，传输错误视为离线。
func (p *Probe) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, p.target, nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.client.Do(req)
		if err == nil {
			resp.Body.Close()
			online = true
		}
	}

	if p.monitor.Set(online) && p.logger != nil {
		fields := logrus.Fields{
			"action": "connectivity",
			"target": p.target,
			"online": online,
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		p.logger.WithFields(fields).Warn("connectivity_changed")
	}
	return online
}
