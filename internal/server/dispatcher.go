package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/dexcache/dexcache/internal/controller"
	"github.com/dexcache/dexcache/internal/netstate"
	"github.com/dexcache/dexcache/internal/policy"
	"github.com/dexcache/dexcache/internal/strategy"
)

// RuleUnclaimed 标记尚未被任何控制器接管时的直连请求。
const RuleUnclaimed policy.Rule = "unclaimed"

// Dispatcher 持有当前接管客户端的控制器。Claim 之前所有请求直接走网络。
type Dispatcher struct {
	current     atomic.Pointer[controller.Controller]
	passthrough strategy.Strategy
}

// NewDispatcher 构造 Dispatcher，fetcher 与 online 用于接管前的直连。
func NewDispatcher(fetcher strategy.Fetcher, online netstate.Checker) (*Dispatcher, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if online == nil {
		return nil, errors.New("connectivity checker is required")
	}
	return &Dispatcher{passthrough: strategy.NewNetworkOnly(fetcher, online)}, nil
}

// Claim 实现 controller.Claimer：之后的请求立即交给 c 处理。
func (d *Dispatcher) Claim(c *controller.Controller) {
	d.current.Store(c)
}

// Current 返回已接管的控制器，未接管时为 nil。
func (d *Dispatcher) Current() *controller.Controller {
	return d.current.Load()
}

// Handle 将请求交给已接管的控制器；未接管时按 network-only 直连。
func (d *Dispatcher) Handle(ctx context.Context, req *http.Request) (*http.Response, policy.Decision, error) {
	if c := d.current.Load(); c != nil {
		return c.Handle(ctx, req)
	}
	decision := policy.Decision{Kind: policy.NetworkOnly, Rule: RuleUnclaimed}
	resp, err := d.passthrough.Handle(ctx, req)
	return resp, decision, err
}

var _ controller.Claimer = (*Dispatcher)(nil)
