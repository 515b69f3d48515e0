package types

import "strings"

// 以下划线开头的字段为系统内部字段, 不会参与缓存 ID 计算。
const (
	FieldName         = "name"
	FieldType         = "type"
	FieldServer       = "server"
	FieldPort         = "port"
	FieldGeo          = "_geo"
	FieldIncompatible = "_incompatible"
)

// Node 是一个代理节点的描述, 字段随协议不同而不同。
// 引擎只读写 name 与少数内部字段, 其余字段原样保留。
type Node map[string]any

// Name returns the display name, or "" when missing or not a string.
func (n Node) Name() string {
	s, _ := n[FieldName].(string)
	return s
}

func (n Node) SetName(name string) {
	n[FieldName] = name
}

// Type 返回小写的协议类型。
func (n Node) Type() string {
	s, _ := n[FieldType].(string)
	return strings.ToLower(s)
}

// Incompatible reports whether the node was flagged as unsupported by the proxy core.
func (n Node) Incompatible() bool {
	v, _ := n[FieldIncompatible].(bool)
	return v
}

// HasGeo reports whether a geo result was attached by a successful probe or cache hit.
func (n Node) HasGeo() bool {
	v, ok := n[FieldGeo]
	return ok && v != nil
}

// Clone 返回浅拷贝, 嵌套的 map/slice 与原节点共享。
func (n Node) Clone() Node {
	out := make(Node, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}

// IsInternalField 判断是否为下划线开头的系统字段。
func IsInternalField(key string) bool {
	return strings.HasPrefix(key, "_")
}
