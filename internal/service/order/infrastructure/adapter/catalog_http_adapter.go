// internal/service/order/infrastructure/adapter/catalog_http_adapter.go
package adapter

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"ordersaga/internal/pkg/httpclient"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
	"ordersaga/internal/pkg/nacos"
)

const catalogExistsPath = "/api/catalog/products/exists"

// errCallerAborted 标记调用方自己取消或超时的请求，不计入熔断失败
var errCallerAborted = errors.New("caller aborted catalog call")

// BaseURLResolver 返回目录服务的基础地址，例如 http://10.0.0.5:8090
type BaseURLResolver func() (string, error)

// StaticURL 使用固定地址
func StaticURL(baseURL string) BaseURLResolver {
	return func() (string, error) {
		if baseURL == "" {
			return "", errors.New("catalog base url is empty")
		}
		return strings.TrimRight(baseURL, "/"), nil
	}
}

// NacosURL 每次调用时通过 Nacos 选一个健康实例
func NacosURL(client *nacos.Client, serviceName string) BaseURLResolver {
	return func() (string, error) {
		return client.ServiceURL(serviceName)
	}
}

// CatalogOptions 描述重试、熔断与降级策略
type CatalogOptions struct {
	FallbackExists bool
	Timeout        time.Duration
	MaxAttempts    int
	Backoff        time.Duration
	FailureLimit   uint32
	OpenTimeout    time.Duration
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

// CatalogHTTPAdapter 实现了 port.CatalogService 接口。
type CatalogHTTPAdapter struct {
	client  *httpclient.Client
	resolve BaseURLResolver
	breaker *gobreaker.CircuitBreaker
	opts    CatalogOptions
}

// NewCatalogHTTPAdapter 创建一个新的目录服务适配器。
func NewCatalogHTTPAdapter(client *httpclient.Client, resolve BaseURLResolver, opts CatalogOptions) *CatalogHTTPAdapter {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.FailureLimit == 0 {
		opts.FailureLimit = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerAborted)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureLimit
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Ctx(context.Background()).Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).Msg("⚡ circuit breaker state changed")
		},
	})
	return &CatalogHTTPAdapter{client: client, resolve: resolve, breaker: breaker, opts: opts}
}

// ProductsExist 查询所有编码是否存在。调用失败先重试，重试耗尽或熔断打开时返回配置的默认值。
func (a *CatalogHTTPAdapter) ProductsExist(ctx context.Context, codes []string) (bool, error) {
	if len(codes) == 0 {
		return true, nil
	}
	params := url.Values{}
	params.Set("codes", strings.Join(codes, ","))

	var lastErr error
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		result, err := a.breaker.Execute(func() (interface{}, error) {
			exists, err := a.call(ctx, params)
			if err != nil && ctx.Err() != nil {
				return nil, errors.Wrap(errCallerAborted, err.Error())
			}
			return exists, err
		})
		if err == nil {
			return result.(bool), nil
		}
		if errors.Is(err, errCallerAborted) {
			return false, errors.Wrap(ctx.Err(), "check products exist")
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt < a.opts.MaxAttempts {
			select {
			case <-ctx.Done():
				attempt = a.opts.MaxAttempts
			case <-time.After(time.Duration(attempt) * a.opts.Backoff):
			}
		}
	}

	metrics.CatalogFallbacks.Inc()
	logger.Ctx(ctx).Warn().Err(lastErr).Strs("codes", codes).Bool("fallback", a.opts.FallbackExists).
		Msg("⚠️ catalog unavailable, using fallback result")
	return a.opts.FallbackExists, nil
}

func (a *CatalogHTTPAdapter) call(ctx context.Context, params url.Values) (bool, error) {
	baseURL, err := a.resolve()
	if err != nil {
		return false, err
	}
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}
	var resp existsResponse
	if err := a.client.GetJSON(ctx, baseURL+catalogExistsPath, params, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}
