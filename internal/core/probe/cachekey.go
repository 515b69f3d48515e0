package probe

import (
	"encoding/json"
	"fmt"
	"regexp"

	"geoprobe/internal/shared/types"
)

// 这些字段不属于节点身份: 订阅/集合信息与下划线开头的系统字段。
var identityExcluded = regexp.MustCompile(`(?i)^(collectionName|subName|id|_.*)$`)

// CacheKey 由 API 地址、名称模板、内部模式与节点身份组成。
// 节点按键排序后序列化, 因此字段顺序不影响结果。
func CacheKey(url, format string, internal bool, node types.Node) string {
	identity := make(map[string]any, len(node))
	for k, v := range node {
		if identityExcluded.MatchString(k) {
			continue
		}
		identity[k] = v
	}
	data, err := json.Marshal(identity)
	if err != nil {
		// fmt 同样按键排序输出 map
		data = []byte(fmt.Sprintf("%v", identity))
	}
	return fmt.Sprintf("http-meta:geo:%s:%s:%t:%s", url, format, internal, data)
}
