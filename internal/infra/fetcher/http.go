/*
 * @Description: 媒体链接抓取器，合并并发请求并限制出站速率
 * @Author: 安知鱼
 * @Date: 2025-11-04 17:44:00
 * @LastEditTime: 2025-11-04 10:52:16
 * @LastEditors: 安知鱼
 */
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/medialink"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 2 << 20
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var (
	ErrUnsupportedScheme = errors.New("只支持http和https协议")
	ErrBadStatus         = errors.New("目标服务器返回错误")
)

// Options HTTP 抓取器配置
type Options struct {
	Timeout       time.Duration
	RatePerSecond float64
	UserAgent     string
	MaxBodyBytes  int64
}

// HTTPFetcher 基于 net/http 的抓取器，实现 medialink.Fetcher。
// 对同一 URL 的并发请求只会发出一次，出站请求受全局速率限制。
type HTTPFetcher struct {
	client    *http.Client
	timeout   time.Duration
	limiter   *rate.Limiter
	group     singleflight.Group
	userAgent string
	maxBody   int64
}

// New 创建抓取器
func New(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := int(opts.RatePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: opts.Timeout},
		timeout:   opts.Timeout,
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBodyBytes,
	}
}

// Fetch 抓取 URL，返回截断到上限的响应体
func (f *HTTPFetcher) Fetch(ctx context.Context, target string) (*medialink.Response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("无效的URL格式: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrUnsupportedScheme
	}

	// 合并后的请求不随任何一个调用方取消，只受客户端超时约束；
	// 每个调用方各自等待自己的 ctx。
	ch := f.group.DoChan(target, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return f.do(shared, target)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		log.Printf("[Fetcher] 合并了对 %s 的并发请求", target)
	}
	resp := res.Val.(*medialink.Response)
	// 共享结果的 Body 不能被调用方修改
	body := make([]byte, len(resp.Body))
	copy(body, resp.Body)
	return &medialink.Response{URL: resp.URL, ContentType: resp.ContentType, Body: body}, nil
}

func (f *HTTPFetcher) do(ctx context.Context, target string) (*medialink.Response, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	// 设置请求头，模拟真实浏览器
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return &medialink.Response{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
