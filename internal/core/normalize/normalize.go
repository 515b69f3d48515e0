// Package normalize 判断节点能否交给 HTTP META (mihomo/ClashMeta 内核) 使用,
// 并输出内核可接受的节点描述。
package normalize

import (
	"math"
	"strconv"
	"strings"

	"geoprobe/internal/shared/types"
)

// Normalizer converts a caller node into the form the proxy core accepts.
// ok=false marks the node as incompatible.
type Normalizer interface {
	Normalize(node types.Node) (out types.Node, ok bool)
}

// 各协议必须存在的字段 (server/port 之外)。
var requiredFields = map[string][]string{
	"ss":        {"cipher", "password"},
	"ssr":       {"cipher", "password", "obfs", "protocol"},
	"vmess":     {"uuid"},
	"vless":     {"uuid"},
	"trojan":    {"password"},
	"hysteria":  {},
	"hysteria2": {"password"},
	"tuic":      {},
	"wireguard": {"private-key"},
	"socks5":    {},
	"http":      {},
	"snell":     {"psk"},
	"anytls":    {"password"},
	"mieru":     {"username", "password"},
	"ssh":       {"username"},
}

// 别名到内核协议名
var typeAliases = map[string]string{
	"socks":       "socks5",
	"https":       "http",
	"hy2":         "hysteria2",
	"shadowsocks": "ss",
}

// ClashMeta accepts the protocol set understood by the mihomo core.
type ClashMeta struct{}

var _ Normalizer = ClashMeta{}

// Normalize 返回一个新节点: 协议名统一为小写, port 转为整数, 去掉空值,
// 下划线开头的字段原样带过去。输入节点不会被修改。
func (ClashMeta) Normalize(node types.Node) (types.Node, bool) {
	if node == nil {
		return nil, false
	}

	typ := node.Type()
	if alias, ok := typeAliases[typ]; ok {
		typ = alias
	}
	required, ok := requiredFields[typ]
	if !ok {
		return nil, false
	}

	server, _ := node[types.FieldServer].(string)
	if strings.TrimSpace(server) == "" {
		return nil, false
	}
	port, ok := parsePort(node[types.FieldPort])
	if !ok {
		return nil, false
	}
	// tuic v5 使用 uuid+password, v4 使用 token
	if typ == "tuic" && !present(node, "token") && !present(node, "uuid") {
		return nil, false
	}
	if typ == "hysteria" && !present(node, "auth-str") && !present(node, "auth_str") && !present(node, "auth") {
		return nil, false
	}
	for _, f := range required {
		if !present(node, f) {
			return nil, false
		}
	}

	out := make(types.Node, len(node))
	for k, v := range node {
		if v == nil {
			continue
		}
		out[k] = v
	}
	out[types.FieldType] = typ
	out[types.FieldServer] = strings.TrimSpace(server)
	out[types.FieldPort] = port
	return out, true
}

func present(node types.Node, key string) bool {
	v, ok := node[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return s != ""
	}
	return true
}

// parsePort 接受 YAML/JSON 解码后可能出现的各种数字形式。
func parsePort(v any) (int, bool) {
	var port int
	switch p := v.(type) {
	case int:
		port = p
	case int64:
		port = int(p)
	case uint64:
		port = int(p)
	case float64:
		if p != math.Trunc(p) {
			return 0, false
		}
		port = int(p)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, false
		}
		port = n
	default:
		return 0, false
	}
	if port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}
