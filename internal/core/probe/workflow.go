package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"geoprobe/internal/cache"
	"geoprobe/internal/shared/httpclient"
	"geoprobe/internal/shared/types"
)

// UserAgent 模拟 iOS Safari, 部分落地 API 会拒绝非浏览器请求。
const UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3.1 Mobile/15E148 Safari/604.1"

// RiskSuffixFormat 是欺诈值超过阈值时追加到名称末尾的标记。
const RiskSuffixFormat = " - 欺诈值过高：%d"

// check 执行单个节点的检测流程。所有错误都在这里处理, 不会影响其它节点。
// 调用方取消后不再检测, 也不把中断当作失败写入缓存。
func (o *Orchestrator) check(ctx context.Context, r *run, e eligibleNode) {
	log := r.log.With().Int("index", e.SourceIndex).Str("node", e.Node.Name()).Logger()
	if ctx.Err() != nil {
		log.Debug().Msg("Run cancelled, skipping node.")
		return
	}

	if r.useCache {
		entry, ok, err := o.deps.Cache.Get(e.key)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Cache lookup failed, probing.")
		case ok && entry.Succeeded():
			log.Info().Msg("Using cached success.")
			o.apply(r, e.SourceIndex, entry)
			r.cacheHits.Add(1)
			return
		case ok && !o.cfg.IgnoreFailedError:
			log.Info().Msg("Using cached failure.")
			r.cacheHits.Add(1)
			return
		case ok:
			log.Info().Msg("Ignoring cached failure.")
		}
	}

	r.probed.Add(1)
	entry, err := o.probe(ctx, r, e, log)
	if err != nil && ctx.Err() != nil {
		log.Info().Err(err).Msg("Probe interrupted, result discarded.")
		return
	}
	if err != nil {
		r.failed.Add(1)
		log.Warn().Err(err).Msg("Probe failed.")
		o.store(r, e, cache.Failure(), log)
		return
	}
	r.succeeded.Add(1)
	o.apply(r, e.SourceIndex, entry)
	o.store(r, e, entry, log)
}

// probe 通过节点的本地端口请求落地 API, 返回的 Entry 已包含欺诈值 (如果检测了)。
func (o *Orchestrator) probe(ctx context.Context, r *run, e eligibleNode, log zerolog.Logger) (cache.Entry, error) {
	port, ok := r.ports.Port(e.SourceIndex)
	if !ok {
		return cache.Entry{}, fmt.Errorf("no port assigned")
	}
	proxyURL := o.cfg.ProxyScheme + "://" + net.JoinHostPort(o.cfg.CoreConf.Host, strconv.Itoa(port))

	startedAt := time.Now()
	res, err := o.deps.Client.Do(ctx, &httpclient.Request{
		Method:     o.cfg.Method,
		URL:        o.url,
		Headers:    map[string]string{"User-Agent": UserAgent},
		Proxy:      proxyURL,
		Timeout:    o.cfg.ProbeConf.Timeout,
		Retries:    o.cfg.Retries,
		RetryDelay: o.cfg.RetryDelay,
	})
	if err != nil {
		return cache.Entry{}, err
	}
	latency := time.Since(startedAt)
	log.Info().Int("status", res.Status).Int64("latency_ms", latency.Milliseconds()).Int("port", port).Msg("Probe response received.")

	if res.Status != 200 {
		return cache.Entry{}, fmt.Errorf("unexpected status %d", res.Status)
	}
	rec, ip, err := o.deps.Geo.Resolve(res.Body)
	if err != nil {
		return cache.Entry{}, err
	}
	entry := cache.Entry{API: rec}

	if o.riskEnabled() {
		score, found, err := o.deps.Risk.Score(ctx, ip, proxyURL)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("ip", ip).Msg("Risk lookup failed.")
		case found:
			log.Info().Str("ip", ip).Int("score", score).Msg("Risk score resolved.")
			entry.Risk = &score
		default:
			log.Info().Str("ip", ip).Msg("No risk data on page.")
		}
	}
	return entry, nil
}

func (o *Orchestrator) riskEnabled() bool {
	return o.deps.Risk != nil && o.cfg.MaxRiskScore < types.RiskCheckDisabled
}

// apply 写入 _geo 并用原始节点重新渲染名称。只写 r.out[index], 各任务互不冲突。
func (o *Orchestrator) apply(r *run, index int, entry cache.Entry) {
	name := o.tpl.Render(r.source[index], entry.API)
	if entry.Risk != nil && o.cfg.MaxRiskScore < types.RiskCheckDisabled && *entry.Risk > o.cfg.MaxRiskScore {
		name += fmt.Sprintf(RiskSuffixFormat, *entry.Risk)
	}
	node := r.out[index]
	node.SetName(name)
	node[types.FieldGeo] = entry.API
}

func (o *Orchestrator) store(r *run, e eligibleNode, entry cache.Entry, log zerolog.Logger) {
	if !r.useCache {
		return
	}
	if err := o.deps.Cache.Set(e.key, entry); err != nil {
		log.Warn().Err(err).Msg("Failed to write cache.")
		return
	}
	if entry.Succeeded() {
		log.Debug().Msg("Cached success.")
	} else {
		log.Debug().Msg("Cached failure.")
	}
}
