package types

import "time"

// RunStats summarizes one probe cycle.
type RunStats struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Total      int           `json:"total"`
	Compatible int           `json:"compatible"`
	CacheHits  int           `json:"cache_hits"`
	Probed     int           `json:"probed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Removed    int           `json:"removed"`
	AllCached  bool          `json:"all_cached"` // 所有节点命中缓存, 未启动核心
}
