// Package geo 把落地检测的响应转换成地理/ISP 记录。
package geo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Record 是 API 返回的原始字段, 或离线模式下的 {countryCode, aso}。
type Record = map[string]any

// Resolver turns a probe response body into a geo record and the egress IP
// (empty when the source does not report one).
type Resolver interface {
	Resolve(body []byte) (Record, string, error)
}

var ErrNotObject = errors.New("response is not a json object")

// Remote 解析远程 JSON API (默认 ip-api.com) 的响应。
type Remote struct{}

var _ Resolver = Remote{}

func (Remote) Resolve(body []byte) (Record, string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, "", ErrNotObject
	}
	var rec Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, "", fmt.Errorf("failed to decode geo response: %w", err)
	}
	if rec == nil {
		return nil, "", ErrNotObject
	}
	return rec, egressIP(rec), nil
}

// egressIP 取 ip-api 的 query 字段, 其他 API 常用 ip。
func egressIP(rec Record) string {
	for _, key := range []string{"query", "ip"} {
		if s, ok := rec[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
