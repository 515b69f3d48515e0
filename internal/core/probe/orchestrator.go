// Package probe 驱动一次完整的落地检测: 归一化节点, 尝试缓存快速路径, 启动 HTTP META,
// 并发检测每个节点, 关闭核心, 最后过滤并清理内部字段。
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"geoprobe/internal/cache"
	"geoprobe/internal/core/formatter"
	"geoprobe/internal/core/metacore"
	"geoprobe/internal/core/normalize"
	"geoprobe/internal/core/scheduler"
	"geoprobe/internal/geo"
	"geoprobe/internal/risk"
	"geoprobe/internal/shared/httpclient"
	"geoprobe/internal/shared/types"
)

// Controller starts and stops the proxy core. *metacore.Controller implements it.
type Controller interface {
	Start(ctx context.Context, nodes []types.Node, indexes []int, timeout time.Duration) (*metacore.Session, error)
	Stop(ctx context.Context, pid any) error
}

// Deps 是 Orchestrator 依赖的外部组件。Cache 为空时即使配置开启也不使用缓存,
// Risk 为空时不检测欺诈值。
type Deps struct {
	Controller Controller
	Client     httpclient.Doer
	Geo        geo.Resolver
	Cache      cache.Cache
	Risk       risk.Checker
	Normalizer normalize.Normalizer
	Log        zerolog.Logger
}

// Orchestrator runs probe cycles. It is safe to call Run concurrently.
type Orchestrator struct {
	cfg   *types.Config
	deps  Deps
	tpl   *formatter.Template
	url   string
	sched *scheduler.Scheduler
	sleep func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	last types.RunStats
}

// New validates the configuration and compiles the name template.
func New(cfg *types.Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("probe: nil config")
	}
	if deps.Controller == nil || deps.Client == nil || deps.Geo == nil {
		return nil, errors.New("probe: controller, client and geo resolver are required")
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.ClashMeta{}
	}
	tpl, err := formatter.Compile(cfg.EffectiveFormat())
	if err != nil {
		return nil, fmt.Errorf("probe: invalid format: %w", err)
	}
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		tpl:   tpl,
		url:   cfg.EffectiveAPI(),
		sched: scheduler.New(deps.Log),
		sleep: sleepCtx,
	}, nil
}

// LastStats returns the statistics of the most recent finished run.
func (o *Orchestrator) LastStats() types.RunStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// eligibleNode 是核心接受的节点及其在调用方列表中的位置。
type eligibleNode struct {
	SourceIndex int
	Node        types.Node
	key         string
}

// run 是一次检测的工作集, 结束后丢弃。
type run struct {
	log      zerolog.Logger
	source   []types.Node // 调用方的原始节点, 只读, 用于渲染名称
	out      []types.Node
	eligible []eligibleNode
	ports    metacore.PortAssignment
	useCache bool

	cacheHits atomic.Int64
	probed    atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// Run 检测全部节点并返回新的节点列表, 顺序与输入一致。核心启动失败或 ctx 被取消时
// 返回错误, 此时原列表原样返回, 未完成的节点不会写入缓存。
func (o *Orchestrator) Run(ctx context.Context, nodes []types.Node) ([]types.Node, error) {
	stats := types.RunStats{RunID: uuid.NewString(), StartedAt: time.Now(), Total: len(nodes)}
	r := &run{
		log:      o.deps.Log.With().Str("run_id", stats.RunID).Logger(),
		source:   nodes,
		out:      make([]types.Node, len(nodes)),
		useCache: o.cfg.Cache && o.deps.Cache != nil,
	}
	for i, n := range nodes {
		r.out[i] = n.Clone()
	}

	o.normalize(r)
	stats.Compatible = len(r.eligible)
	r.log.Info().Msgf("Compatible nodes: %d/%d", len(r.eligible), len(nodes))

	switch {
	case len(r.eligible) == 0:
	case r.useCache && o.fastPath(r):
		stats.AllCached = true
		r.log.Info().Msg("All nodes resolved from cache.")
	default:
		if err := o.probeAll(ctx, r); err != nil {
			// 已完成节点的结果是真实的, 仍然落盘
			o.flush(r)
			return nodes, err
		}
	}
	o.flush(r)

	result := filterNodes(r.out, o.cfg.OutputConf)
	stats.Removed = len(r.out) - len(result)
	stats.CacheHits = int(r.cacheHits.Load())
	stats.Probed = int(r.probed.Load())
	stats.Succeeded = int(r.succeeded.Load())
	stats.Failed = int(r.failed.Load())
	stats.Duration = time.Since(stats.StartedAt)

	r.log.Info().
		Int("total", stats.Total).
		Int("cache_hits", stats.CacheHits).
		Int("probed", stats.Probed).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Int("removed", stats.Removed).
		Dur("duration", stats.Duration).
		Msg("Probe finished.")

	o.mu.Lock()
	o.last = stats
	o.mu.Unlock()
	return result, nil
}

func (o *Orchestrator) flush(r *run) {
	if f, ok := o.deps.Cache.(cache.Flusher); ok && r.useCache {
		if err := f.Flush(); err != nil {
			r.log.Warn().Err(err).Msg("Failed to flush cache.")
		}
	}
}

// normalize 标记不兼容节点, 并为兼容节点计算缓存键。
func (o *Orchestrator) normalize(r *run) {
	format := o.tpl.Source()
	for i, n := range r.source {
		node, ok := o.deps.Normalizer.Normalize(n)
		if !ok {
			r.out[i][types.FieldIncompatible] = true
			continue
		}
		e := eligibleNode{SourceIndex: i, Node: node}
		if r.useCache {
			e.key = CacheKey(o.url, format, o.cfg.Internal, node)
		}
		r.eligible = append(r.eligible, e)
	}
}

type tentative struct {
	index int
	entry cache.Entry
}

// fastPath 只有在所有节点都能由缓存决定时才写入结果, 否则不做任何修改。
func (o *Orchestrator) fastPath(r *run) bool {
	var hits []tentative
	for _, e := range r.eligible {
		entry, ok, err := o.deps.Cache.Get(e.key)
		if err != nil {
			r.log.Warn().Err(err).Msg("Cache lookup failed, probing all nodes.")
			return false
		}
		if !ok {
			return false
		}
		if !entry.Succeeded() && o.cfg.IgnoreFailedError {
			return false
		}
		hits = append(hits, tentative{index: e.SourceIndex, entry: entry})
	}
	for _, h := range hits {
		if h.entry.Succeeded() {
			o.apply(r, h.index, h.entry)
		}
		r.cacheHits.Add(1)
	}
	return true
}

func (o *Orchestrator) probeAll(ctx context.Context, r *run) error {
	nodes := make([]types.Node, len(r.eligible))
	indexes := make([]int, len(r.eligible))
	for i, e := range r.eligible {
		nodes[i] = e.Node
		indexes[i] = e.SourceIndex
	}

	budget := metacore.Budget(o.cfg.StartDelay, o.cfg.ProxyTimeout, len(nodes))
	sess, err := o.deps.Controller.Start(ctx, nodes, indexes, budget)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to start HTTP META.")
		return err
	}
	r.ports = sess.Ports

	// 核心退出前必须尝试关闭, 即使调用方的 ctx 已取消
	defer func() {
		if err := o.deps.Controller.Stop(context.WithoutCancel(ctx), sess.PID); err != nil {
			r.log.Warn().Err(err).Msg("Failed to stop HTTP META, it will exit on its own timeout.")
		}
	}()

	r.log.Info().Dur("delay", o.cfg.StartDelay).Msg("Waiting for HTTP META to be ready.")
	if err := o.sleep(ctx, o.cfg.StartDelay); err != nil {
		return fmt.Errorf("interrupted while waiting for http meta: %w", err)
	}

	tasks := make([]scheduler.Task, len(r.eligible))
	for i := range r.eligible {
		e := r.eligible[i]
		tasks[i] = func(ctx context.Context) error {
			o.check(ctx, r, e)
			return nil
		}
	}
	if err := o.sched.Run(ctx, tasks, o.cfg.Concurrency); err != nil {
		r.log.Error().Err(err).Msg("Scheduler failed.")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("probe run interrupted: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
