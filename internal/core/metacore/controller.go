// Package metacore 控制 HTTP META 核心进程: 启动时提交全部节点并拿到每个节点的本地端口,
// 检测结束后停止。
package metacore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"geoprobe/internal/shared/httpclient"
	"geoprobe/internal/shared/types"
)

// ErrStartFailed 表示核心没有返回有效的 pid 与端口列表, 整个检测流程必须中止。
var ErrStartFailed = errors.New("http meta failed to start")

// PortAssignment maps a node's source index to its local listening port.
type PortAssignment map[int]int

// Port 返回 sourceIndex 对应的端口。
func (p PortAssignment) Port(sourceIndex int) (int, bool) {
	port, ok := p[sourceIndex]
	return port, ok
}

// Session is a running core instance.
type Session struct {
	PID     any
	Ports   PortAssignment
	Timeout time.Duration // 核心自动退出时间
}

// Options 是访问控制接口所需的参数。
type Options struct {
	BaseURL       string
	Authorization string
	Timeout       time.Duration
	Retries       int
	RetryDelay    time.Duration
}

// Controller talks to the HTTP META control API.
type Controller struct {
	opts   Options
	client httpclient.Doer
	log    zerolog.Logger
}

// New creates a Controller.
func New(opts Options, client httpclient.Doer, log zerolog.Logger) *Controller {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Controller{opts: opts, client: client, log: log}
}

// Budget 计算核心的存活时间: 启动延时 + 每个节点耗时 * 节点数。
func Budget(startDelay, perNode time.Duration, n int) time.Duration {
	return startDelay + perNode*time.Duration(n)
}

type startRequest struct {
	Proxies []types.Node `json:"proxies"`
	Timeout int64        `json:"timeout"`
}

type startResponse struct {
	PID   any   `json:"pid"`
	Ports []int `json:"ports"`
}

type stopRequest struct {
	PID []any `json:"pid"`
}

// Start 提交节点并返回端口映射。indexes[i] 是 nodes[i] 在调用方列表中的位置。
// 启动请求不重试; pid 缺失、端口缺失、端口数量不符或端口非法均返回 ErrStartFailed。
func (c *Controller) Start(ctx context.Context, nodes []types.Node, indexes []int, timeout time.Duration) (*Session, error) {
	if len(nodes) != len(indexes) {
		return nil, fmt.Errorf("%w: %d nodes but %d indexes", ErrStartFailed, len(nodes), len(indexes))
	}

	body, err := json.Marshal(startRequest{Proxies: nodes, Timeout: timeout.Milliseconds()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode start request: %w", err)
	}
	res, err := c.client.Do(ctx, &httpclient.Request{
		Method:  http.MethodPost,
		URL:     c.opts.BaseURL + "/start",
		Headers: c.headers(),
		Body:    body,
		Timeout: c.opts.Timeout,
		Retries: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	var sr startResponse
	dec := json.NewDecoder(bytes.NewReader(res.Body))
	dec.UseNumber()
	if err := dec.Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: status %d, body %q", ErrStartFailed, res.Status, truncate(res.Body))
	}
	if isEmptyPID(sr.PID) || sr.Ports == nil {
		return nil, fmt.Errorf("%w: missing pid or ports, body %q", ErrStartFailed, truncate(res.Body))
	}
	if len(sr.Ports) != len(nodes) {
		return nil, fmt.Errorf("%w: got %d ports for %d nodes", ErrStartFailed, len(sr.Ports), len(nodes))
	}

	ports := make(PortAssignment, len(nodes))
	for i, port := range sr.Ports {
		if port <= 0 || port > math.MaxUint16 {
			return nil, fmt.Errorf("%w: invalid port %d for node %d", ErrStartFailed, port, indexes[i])
		}
		ports[indexes[i]] = port
	}

	c.log.Info().
		Ints("ports", sr.Ports).
		Interface("pid", sr.PID).
		Float64("auto_stop_minutes", math.Round(timeout.Minutes()*100)/100).
		Msg("HTTP META started.")

	return &Session{PID: sr.PID, Ports: ports, Timeout: timeout}, nil
}

// Stop 关闭核心, 使用默认重试策略。返回的错误由调用方记录后忽略。
func (c *Controller) Stop(ctx context.Context, pid any) error {
	body, err := json.Marshal(stopRequest{PID: []any{pid}})
	if err != nil {
		return fmt.Errorf("failed to encode stop request: %w", err)
	}
	res, err := c.client.Do(ctx, &httpclient.Request{
		Method:     http.MethodPost,
		URL:        c.opts.BaseURL + "/stop",
		Headers:    c.headers(),
		Body:       body,
		Timeout:    c.opts.Timeout,
		Retries:    c.opts.Retries,
		RetryDelay: c.opts.RetryDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to stop http meta: %w", err)
	}
	c.log.Info().Interface("pid", pid).Int("status", res.Status).Str("body", truncate(res.Body)).Msg("HTTP META stopped.")
	return nil
}

func (c *Controller) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if c.opts.Authorization != "" {
		h["Authorization"] = c.opts.Authorization
	}
	return h
}

func isEmptyPID(pid any) bool {
	switch v := pid.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case json.Number:
		return v.String() == "0" || v.String() == ""
	case bool:
		return !v
	}
	return false
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
