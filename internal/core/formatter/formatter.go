// Package formatter renders node names from templates such as
// "{{api.country}} {{api.isp}} - {{proxy.name}}".
//
// Placeholders only support property and index access over the proxy and api
// records plus the country flag table; there is no general evaluation.
package formatter

import (
	"fmt"
	"strings"
)

const (
	RootProxy = "proxy"
	RootAPI   = "api"
	RootFlags = "country_emojis_dict"

	rootFlagsAlias = "flags"
)

type segment struct {
	text string
	expr expr // 为空时是普通文本
}

// Template is a compiled name template.
type Template struct {
	source   string
	segments []segment
}

// Compile parses a template. Text outside {{ }} is kept verbatim; an unterminated
// "{{" is treated as literal text.
func Compile(src string) (*Template, error) {
	t := &Template{source: src}
	rest := src
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			break
		}
		end := strings.Index(rest[open+2:], "}}")
		if end < 0 {
			break
		}
		if open > 0 {
			t.segments = append(t.segments, segment{text: rest[:open]})
		}
		raw := strings.TrimSpace(rest[open+2 : open+2+end])
		e, err := parseExpr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid placeholder {{%s}}: %w", raw, err)
		}
		t.segments = append(t.segments, segment{expr: e})
		rest = rest[open+2+end+2:]
	}
	if rest != "" {
		t.segments = append(t.segments, segment{text: rest})
	}
	return t, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Template {
	t, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return t
}

// Source returns the template text it was compiled from.
func (t *Template) Source() string {
	return t.source
}

// Render 使用 proxy 与 api 两个命名空间渲染模板。
func (t *Template) Render(proxy, api map[string]any) string {
	s := scope{
		RootProxy:      asValue(proxy),
		RootAPI:        asValue(api),
		RootFlags:      CountryFlags,
		rootFlagsAlias: CountryFlags,
	}
	var sb strings.Builder
	for _, seg := range t.segments {
		if seg.expr == nil {
			sb.WriteString(seg.text)
			continue
		}
		sb.WriteString(stringify(seg.expr.eval(s)))
	}
	return sb.String()
}

func asValue(m map[string]any) any {
	if m == nil {
		return undefined
	}
	return m
}

// Render compiles and renders in one step.
func Render(src string, proxy, api map[string]any) (string, error) {
	t, err := Compile(src)
	if err != nil {
		return "", err
	}
	return t.Render(proxy, api), nil
}
