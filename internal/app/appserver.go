// Package app 根据配置组装各组件, 供命令行与 Web API 使用。
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"geoprobe/internal/cache"
	"geoprobe/internal/core/metacore"
	"geoprobe/internal/core/normalize"
	"geoprobe/internal/core/probe"
	"geoprobe/internal/geo"
	"geoprobe/internal/risk"
	"geoprobe/internal/service/web"
	"geoprobe/internal/shared/config"
	"geoprobe/internal/shared/httpclient"
	"geoprobe/internal/shared/logger"
	"geoprobe/internal/shared/types"
)

// AppServer is the application's main struct.
type AppServer struct {
	cfg     *types.Config
	orch    *probe.Orchestrator
	closers []func() error
	log     zerolog.Logger
}

// New wires the orchestrator from cfg. The caller must Close the returned server.
func New(cfg *types.Config) (*AppServer, error) {
	s := &AppServer{cfg: cfg, log: logger.WithComponent("app")}

	client := httpclient.New(logger.WithComponent("httpclient"))
	controller := metacore.New(metacore.Options{
		BaseURL:       cfg.CoreBaseURL(),
		Authorization: cfg.Authorization,
		Timeout:       cfg.ProbeConf.Timeout,
		Retries:       cfg.Retries,
		RetryDelay:    cfg.RetryDelay,
	}, client, logger.WithComponent("metacore"))

	var resolver geo.Resolver = geo.Remote{}
	if cfg.Internal {
		offline, err := geo.OpenOffline(cfg.MMDBCountryPath, cfg.MMDBASNPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, offline.Close)
		resolver = offline
	}

	deps := probe.Deps{
		Controller: controller,
		Client:     client,
		Geo:        resolver,
		Normalizer: normalize.ClashMeta{},
		Log:        logger.WithComponent("probe"),
	}

	if cfg.Cache {
		c, err := openCache(cfg.CachePath)
		if err != nil {
			s.Close()
			return nil, err
		}
		deps.Cache = c
	}

	if cfg.MaxRiskScore < types.RiskCheckDisabled {
		deps.Risk = risk.New(risk.Options{
			Endpoint:      cfg.Endpoint,
			Timeout:       cfg.RiskConf.Timeout,
			RatePerSecond: cfg.RatePerSecond,
		}, client, logger.WithComponent("risk"))
	}

	orch, err := probe.New(cfg, deps)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.orch = orch
	return s, nil
}

// openCache 返回文件缓存, 未配置路径时使用进程内缓存。
func openCache(path string) (cache.Cache, error) {
	if path == "" {
		return cache.NewMemoryCache(), nil
	}
	fc, err := cache.OpenFileCache(path, logger.WithComponent("cache"))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", path, err)
	}
	return fc, nil
}

// Orchestrator exposes the wired orchestrator.
func (s *AppServer) Orchestrator() *probe.Orchestrator {
	return s.orch
}

// DefaultOutPath 返回未指定输出文件时的路径: nodes.yaml -> nodes.geo.yaml。
// 输入文件保持不变, 重复运行时名称不会叠加, 缓存键也保持稳定。
func DefaultOutPath(inPath string) string {
	ext := filepath.Ext(inPath)
	return strings.TrimSuffix(inPath, ext) + ".geo" + ext
}

// RunFile 读取节点文件, 检测后写入 outPath (为空时使用 DefaultOutPath)。
func (s *AppServer) RunFile(ctx context.Context, inPath, outPath string) (types.RunStats, error) {
	nodes, err := config.LoadNodes(inPath)
	if err != nil {
		return types.RunStats{}, err
	}
	s.log.Info().Str("file", inPath).Int("nodes", len(nodes)).Msg("Loaded nodes.")

	out, err := s.orch.Run(ctx, nodes)
	if err != nil {
		return types.RunStats{}, err
	}
	if outPath == "" {
		outPath = DefaultOutPath(inPath)
	}
	if filepath.Clean(outPath) == filepath.Clean(inPath) {
		s.log.Warn().Str("file", inPath).Msg("Overwriting the input file, the next run will format renamed nodes again.")
	}
	if err := config.SaveNodes(outPath, out); err != nil {
		return types.RunStats{}, err
	}
	s.log.Info().Str("file", outPath).Int("nodes", len(out)).Msg("Saved nodes.")
	return s.orch.LastStats(), nil
}

// Serve 启动 Web API 并阻塞到 ctx 结束。
func (s *AppServer) Serve(ctx context.Context) error {
	if s.cfg.WebConf.Port <= 0 {
		return errors.New("web port is not configured")
	}
	var wg sync.WaitGroup
	if err := web.StartServer(ctx, &wg, s.cfg.WebConf, s.orch, logger.WithComponent("web")); err != nil {
		return err
	}
	wg.Wait()
	return nil
}

// Close releases the mmdb readers.
func (s *AppServer) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
