// Package policy 将每个被拦截的请求按固定优先级分类到唯一的缓存策略。
package policy

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Kind 标识缓存策略。
type Kind string

const (
	CacheFirst   Kind = "cache-first"
	NetworkFirst Kind = "network-first"
	NetworkOnly  Kind = "network-only"
)

// Rule 记录命中的分类规则，便于日志与诊断。
type Rule string

const (
	RuleNonGET      Rule = "non_get"
	RuleStaticAsset Rule = "static_asset"
	RuleTrustedHost Rule = "trusted_host"
	RuleProtected   Rule = "app_protected"
	RuleLocalData   Rule = "app_local_data"
	RuleAppDefault  Rule = "app_default"
	RuleThirdParty  Rule = "third_party"
)

// Decision 是分类结果：策略、目标缓存名称（network-only 时为空）与命中的规则。
type Decision struct {
	Kind  Kind
	Store string
	Rule  Rule
}

// AssetSet 判断 URL 是否属于当前版本的静态资源清单。
type AssetSet interface {
	Contains(rawURL string) bool
}

// Options 描述分类所需的全部输入。
type Options struct {
	Assets            AssetSet
	AssetStore        string
	RequestStore      string
	AppHost           string
	TrustedHosts      []string
	ProtectedSegments []string
	LocalDataPrefix   string
}

// Classifier 按规则表顺序分类请求，第一条命中即返回。
type Classifier struct {
	assets          AssetSet
	assetStore      string
	requestStore    string
	appHost         string
	trusted         map[string]struct{}
	protected       []string
	localDataPrefix string
}

// NewClassifier 构造分类器，所有主机名统一转为小写并去掉端口。
func NewClassifier(opts Options) *Classifier {
	trusted := make(map[string]struct{}, len(opts.TrustedHosts))
	for _, host := range opts.TrustedHosts {
		if normalized := NormalizeHost(host); normalized != "" {
			trusted[normalized] = struct{}{}
		}
	}
	protected := make([]string, 0, len(opts.ProtectedSegments))
	for _, segment := range opts.ProtectedSegments {
		if segment = strings.TrimSpace(segment); segment != "" {
			protected = append(protected, segment)
		}
	}
	return &Classifier{
		assets:          opts.Assets,
		assetStore:      opts.AssetStore,
		requestStore:    opts.RequestStore,
		appHost:         NormalizeHost(opts.AppHost),
		trusted:         trusted,
		protected:       protected,
		localDataPrefix: opts.LocalDataPrefix,
	}
}

// Classify 返回请求对应的唯一决策。
func (c *Classifier) Classify(req *http.Request) Decision {
	return c.ClassifyURL(req.Method, req.URL)
}

// ClassifyURL 与 Classify 相同，但直接接受 method + URL。
func (c *Classifier) ClassifyURL(method string, u *url.URL) Decision {
	if method == "" {
		method = http.MethodGet
	}
	if !strings.EqualFold(method, http.MethodGet) {
		return Decision{Kind: NetworkOnly, Rule: RuleNonGET}
	}

	if c.assets != nil && c.assets.Contains(u.String()) {
		return Decision{Kind: CacheFirst, Store: c.assetStore, Rule: RuleStaticAsset}
	}

	host := NormalizeHost(u.Host)
	if _, ok := c.trusted[host]; ok {
		return Decision{Kind: CacheFirst, Store: c.requestStore, Rule: RuleTrustedHost}
	}

	if host != "" && host == c.appHost {
		for _, segment := range c.protected {
			if strings.Contains(u.Path, segment) {
				return Decision{Kind: NetworkOnly, Rule: RuleProtected}
			}
		}
		if c.localDataPrefix != "" && strings.HasPrefix(u.Path, c.localDataPrefix) {
			return Decision{Kind: CacheFirst, Store: c.requestStore, Rule: RuleLocalData}
		}
		return Decision{Kind: NetworkFirst, Store: c.requestStore, Rule: RuleAppDefault}
	}

	return Decision{Kind: NetworkFirst, Store: c.requestStore, Rule: RuleThirdParty}
}

// NormalizeHost 去掉端口与结尾的点并转为小写。
func NormalizeHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	host := raw
	if h, _, err := net.SplitHostPort(raw); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(host)
}
