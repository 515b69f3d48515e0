package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultRetries    = 1
	DefaultRetryDelay = time.Second

	maxBodySize = 4 << 20
)

// Request 描述一次带重试的请求。Retries 为额外重试次数, 第 n 次重试前等待 RetryDelay*n。
type Request struct {
	Method     string
	URL        string
	Headers    map[string]string
	Body       []byte
	Proxy      string // http://host:port 或 socks5://host:port, 为空时直连
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// Response is a fully read HTTP response. Non-2xx statuses are not errors.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Doer is the minimal interface the rest of the engine depends on.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Client 是一个最小的重试客户端, 每次尝试使用独立的 Transport, 不复用连接。
type Client struct {
	log   zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Client.
func New(log zerolog.Logger) *Client {
	return &Client{log: log, sleep: sleepCtx}
}

var _ Doer = (*Client)(nil)

// Do 执行请求。网络错误时按线性退避重试, 用尽后返回最后一次的错误。
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.once(ctx, req, timeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt >= req.Retries || ctx.Err() != nil {
			break
		}

		delay := req.RetryDelay * time.Duration(attempt+1)
		c.log.Debug().Err(err).Str("url", req.URL).Int("attempt", attempt+1).Dur("delay", delay).Msg("Request failed, retrying.")
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}
	return nil, fmt.Errorf("%s %s: %w", strings.ToUpper(methodOf(req)), req.URL, lastErr)
}

func (c *Client) once(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	transport, err := buildTransport(req.Proxy, timeout)
	if err != nil {
		return nil, err
	}
	defer transport.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(methodOf(req)), req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := &http.Client{Transport: transport}
	res, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{Status: res.StatusCode, Header: res.Header, Body: data}, nil
}

// buildTransport 根据代理地址构造 Transport。socks5 通过 x/net/proxy 拨号, 其余走 HTTP 代理。
func buildTransport(proxyAddr string, timeout time.Duration) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{},
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
	}
	if proxyAddr == "" {
		return transport, nil
	}

	proxyURL, err := url.Parse(proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", proxyAddr, err)
	}

	switch strings.ToLower(proxyURL.Scheme) {
	case "socks5", "socks5h":
		d, err := proxy.FromURL(proxyURL, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks5 dialer does not support contexts")
		}
		transport.DialContext = cd.DialContext
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}
	return transport, nil
}

func methodOf(req *Request) string {
	if req.Method == "" {
		return http.MethodGet
	}
	return req.Method
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
