package formatter

import (
	"fmt"
	"strconv"
	"strings"
)

// undefinedValue 对应缺失的字段, 渲染为 "undefined"。
type undefinedValue struct{}

var undefined = undefinedValue{}

// expr 是一个只支持取属性与下标的表达式节点。
type expr interface {
	eval(s scope) any
}

type scope map[string]any

type identExpr struct{ name string }

type literalExpr struct{ value any }

type memberExpr struct {
	object expr
	prop   string
}

type indexExpr struct {
	object expr
	index  expr
}

func (e identExpr) eval(s scope) any {
	if v, ok := s[e.name]; ok {
		return v
	}
	return undefined
}

func (e literalExpr) eval(scope) any { return e.value }

func (e memberExpr) eval(s scope) any {
	return lookup(e.object.eval(s), e.prop)
}

func (e indexExpr) eval(s scope) any {
	key := e.index.eval(s)
	if _, ok := key.(undefinedValue); ok {
		return undefined
	}
	return lookup(e.object.eval(s), stringify(key))
}

// lookup 在 map / 切片 / 字符串上取值, 其余类型一律返回 undefined。
func lookup(obj any, key string) any {
	switch o := obj.(type) {
	case map[string]any:
		if v, ok := o[key]; ok {
			return v
		}
	case map[string]string:
		if v, ok := o[key]; ok {
			return v
		}
	case []any:
		if key == "length" {
			return len(o)
		}
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(o) {
			return o[i]
		}
	case []string:
		if key == "length" {
			return len(o)
		}
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(o) {
			return o[i]
		}
	case string:
		if key == "length" {
			return len([]rune(o))
		}
		if i, err := strconv.Atoi(key); err == nil {
			runes := []rune(o)
			if i >= 0 && i < len(runes) {
				return string(runes[i])
			}
		}
	}
	return undefined
}

// stringify renders a value the way a JavaScript template literal would.
func stringify(v any) string {
	switch val := v.(type) {
	case undefinedValue:
		return "undefined"
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case fmt.Stringer:
		return val.String()
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			if item == nil {
				continue
			}
			if _, ok := item.(undefinedValue); ok {
				continue
			}
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(val, ",")
	case map[string]any, map[string]string:
		return "[object Object]"
	default:
		return fmt.Sprint(val)
	}
}
