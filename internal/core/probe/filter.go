package probe

import "geoprobe/internal/shared/types"

// filterNodes 按顺序过滤并清理内部字段:
//   - remove_incompatible 时丢弃不兼容节点
//   - remove_failed 时丢弃没有 _geo 的节点, 但 remove_incompatible 未开启时保留不兼容节点
//
// 之后除非开启 geo / incompatible, 否则删除 _geo / _incompatible。
func filterNodes(nodes []types.Node, out types.OutputConf) []types.Node {
	result := make([]types.Node, 0, len(nodes))
	for _, n := range nodes {
		if !keep(n, out) {
			continue
		}
		if !out.Geo {
			delete(n, types.FieldGeo)
		}
		if !out.Incompatible {
			delete(n, types.FieldIncompatible)
		}
		result = append(result, n)
	}
	return result
}

func keep(n types.Node, out types.OutputConf) bool {
	if out.RemoveIncompatible && n.Incompatible() {
		return false
	}
	if out.RemoveFailed && !n.HasGeo() {
		return !out.RemoveIncompatible && n.Incompatible()
	}
	return true
}
