// Package risk 查询出口 IP 的欺诈值 (scamalytics.com)。
package risk

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"geoprobe/internal/shared/httpclient"
)

// Checker looks up the fraud score of an egress IP through the given proxy.
// ok=false means the page carried no risk data.
type Checker interface {
	Score(ctx context.Context, ip, proxy string) (score int, ok bool, err error)
}

// Options 对应配置中的 [risk] 段。
type Options struct {
	Endpoint      string
	Timeout       time.Duration
	RatePerSecond float64
}

// Scamalytics 从 IP 详情页中提取 "score" 字段。
type Scamalytics struct {
	opts    Options
	client  httpclient.Doer
	limiter *rate.Limiter
	log     zerolog.Logger
}

var _ Checker = (*Scamalytics)(nil)

// New creates a Scamalytics checker. RatePerSecond <= 0 disables rate limiting.
func New(opts Options, client httpclient.Doer, log zerolog.Logger) *Scamalytics {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Scamalytics{
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

func (s *Scamalytics) Score(ctx context.Context, ip, proxy string) (int, bool, error) {
	if ip == "" {
		return 0, false, fmt.Errorf("no egress ip to check")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, false, fmt.Errorf("rate limiter error: %w", err)
	}

	res, err := s.client.Do(ctx, &httpclient.Request{
		Method:  http.MethodGet,
		URL:     s.opts.Endpoint + ip,
		Headers: map[string]string{"Content-Type": "application/json"},
		Proxy:   proxy,
		Timeout: s.opts.Timeout,
	})
	if err != nil {
		return 0, false, err
	}
	if res.Status < 200 || res.Status > 299 {
		return 0, false, fmt.Errorf("risk lookup returned status %d", res.Status)
	}

	score, ok := ParseScore(res.Body)
	s.log.Debug().Str("ip", ip).Bool("found", ok).Int("score", score).Msg("Risk score parsed.")
	return score, ok, nil
}

var (
	scoreRe = regexp.MustCompile(`"score":"(.*?)"`)
	riskRe  = regexp.MustCompile(`"risk":"(.*?)"`)
)

// ParseScore 先在 <pre>/<script> 文本中查找, 找不到再匹配整个页面。
// 没有 "risk" 标记时不返回分数。
func ParseScore(page []byte) (int, bool) {
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page)); err == nil {
		var found bool
		var score int
		doc.Find("pre, script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			score, found = matchScore(sel.Text())
			return !found
		})
		if found {
			return score, true
		}
	}
	return matchScore(string(page))
}

func matchScore(text string) (int, bool) {
	if !riskRe.MatchString(text) {
		return 0, false
	}
	m := scoreRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return leadingInt(m[1])
}

// leadingInt 解析开头的整数部分, 例如 "87" 或 "87.5"。
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || end == 0 && (s[end] == '-' || s[end] == '+')) {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
