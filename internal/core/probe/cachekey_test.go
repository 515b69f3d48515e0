package probe

import (
	"strings"
	"testing"

	"geoprobe/internal/shared/types"
)

func TestCacheKey_IgnoresSystemFields(t *testing.T) {
	t.Parallel()

	base := types.Node{"name": "a", "type": "ss", "server": "1.2.3.4", "port": 8388}
	key := CacheKey("http://api", "{{proxy.name}}", false, base)

	if !strings.HasPrefix(key, "http-meta:geo:http://api:{{proxy.name}}:false:") {
		t.Errorf("unexpected key layout %q", key)
	}

	same := []types.Node{
		{"name": "a", "type": "ss", "server": "1.2.3.4", "port": 8388, "_geo": map[string]any{"x": 1}},
		{"name": "a", "type": "ss", "server": "1.2.3.4", "port": 8388, "collectionName": "c"},
		{"name": "a", "type": "ss", "server": "1.2.3.4", "port": 8388, "SubName": "s", "ID": "7"},
		{"port": 8388, "server": "1.2.3.4", "type": "ss", "name": "a", "_incompatible": true},
	}
	for i, n := range same {
		if got := CacheKey("http://api", "{{proxy.name}}", false, n); got != key {
			t.Errorf("case %d: Expected the same key, got %q", i, got)
		}
	}

	different := []struct {
		node     types.Node
		url      string
		format   string
		internal bool
	}{
		{types.Node{"name": "a", "type": "ss", "server": "5.6.7.8", "port": 8388}, "http://api", "{{proxy.name}}", false},
		{types.Node{"name": "b", "type": "ss", "server": "1.2.3.4", "port": 8388}, "http://api", "{{proxy.name}}", false},
		{types.Node{"name": "a", "type": "ss", "server": "1.2.3.4", "port": 8388, "identity": "x"}, "http://api", "{{proxy.name}}", false},
		{base, "http://other", "{{proxy.name}}", false},
		{base, "http://api", "{{api.country}}", false},
		{base, "http://api", "{{proxy.name}}", true},
	}
	for i, tc := range different {
		if got := CacheKey(tc.url, tc.format, tc.internal, tc.node); got == key {
			t.Errorf("case %d: Expected a different key", i)
		}
	}
}
