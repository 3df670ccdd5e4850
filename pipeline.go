package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/cache"
	"github.com/any-hub/any-install/internal/catalog"
	"github.com/any-hub/any-install/internal/config"
	"github.com/any-hub/any-install/internal/fetch"
	"github.com/any-hub/any-install/internal/install"
	"github.com/any-hub/any-install/internal/nfsmount"
	"github.com/any-hub/any-install/internal/packages"
	"github.com/any-hub/any-install/internal/resolver"
	"github.com/any-hub/any-install/internal/server"
	"github.com/any-hub/any-install/internal/server/routes"
	"github.com/any-hub/any-install/internal/txn"
)

// pipeline 持有一次运行中共享的组件实例，按“配置 → 会话 → 挂载 → 缓存 → 目录”顺序构建。
type pipeline struct {
	cfg     *config.Config
	logger  *logrus.Logger
	cache   *cache.Cache
	nfs     *nfsmount.Manager
	media   *nfsmount.Media
	tracker *install.Tracker
	state   *server.State
}

func newPipeline(cfg *config.Config, logger *logrus.Logger) (*pipeline, error) {
	g := cfg.Global

	var sessionOpts []fetch.SessionOption
	if target := networkCheckTarget(cfg); target != "" {
		sessionOpts = append(sessionOpts, fetch.WithNetworkCheck(fetch.TCPReachable(target, g.UpstreamTimeout.DurationValue())))
	}
	session, err := fetch.NewSession(g, logger, sessionOpts...)
	if err != nil {
		return nil, err
	}

	mounter := nfsmount.ExecMounter{}
	media := nfsmount.NewMedia(mounter, g.MediaDevice, g.MediaFSType, g.MediaMountPoint, logger)
	nfs := nfsmount.NewManager(mounter, g.NFSMountPoint, g.LoopMountPoint, g.NFSOptions, logger)
	fetcher := fetch.New(session, logger, fetch.WithMedia(media, g.MediaMountPoint), fetch.WithNFS(nfs))

	c, err := cache.New(g.CacheDir, fetcher, logger,
		cache.WithChunkSize(g.ChunkSize),
		cache.WithRetryDelay(g.RetryDelay.DurationValue()),
	)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		cfg:     cfg,
		logger:  logger,
		cache:   c,
		nfs:     nfs,
		media:   media,
		tracker: install.NewTracker(nil),
		state:   server.NewState(),
	}, nil
}

// networkCheckTarget 选择网络预检的拨测地址：配置了代理时拨代理，否则拨清单所在主机。
func networkCheckTarget(cfg *config.Config) string {
	if cfg.Global.Proxy != "" {
		if addr, ok := fetch.HostPort(cfg.Global.Proxy); ok {
			return addr
		}
	}
	if fetch.SchemeOf(cfg.Source.ManifestURL) == "file" || fetch.SchemeOf(cfg.Source.ManifestURL) == "nfs" {
		return ""
	}
	addr, _ := fetch.HostPort(cfg.Source.ManifestURL)
	return addr
}

// options 把安装配置转换为解析选项。
func (p *pipeline) options() resolver.Options {
	in := p.cfg.Install
	edges := make([]txn.Edge, 0, len(p.cfg.Whiteouts))
	for _, w := range p.cfg.Whiteouts {
		edges = append(edges, txn.Edge{Requiring: w.Requiring, Provided: w.Provided})
	}
	return resolver.Options{
		Exclude:       in.Exclude,
		Include:       in.Include,
		AutoResolve:   in.AutoResolve,
		IgnoreMissing: in.IgnoreMissing,
		Whiteouts:     edges,
	}
}

// stage 加载目录并给出选择预演；prefetch 为真时并行预取头部，并把待安装包体下载到缓存。
func (p *pipeline) stage(ctx context.Context, prefetch bool) error {
	p.state.SetPhase("catalog")
	cat, err := catalog.Load(ctx, p.cache, p.cfg.Source.ManifestURL, p.cfg.Source.IndexURL, p.cfg.Source.Arch, p.logger)
	if err != nil {
		return err
	}

	pkgs := packages.FromCatalog(cat, packages.Env{
		Store:               p.cache,
		Logger:              p.logger,
		SizeCheckExceptions: p.cfg.Install.SizeCheckExceptions,
	})
	sel := resolver.Plan(pkgs, p.options())
	p.state.SetSelection(sel)

	if prefetch {
		p.state.SetPhase("headers")
		if err := packages.PrefetchHeaders(ctx, pkgs, p.cfg.Global.HeaderParallelism); err != nil {
			return fmt.Errorf("prefetch headers: %w", err)
		}

		p.state.SetPhase("staging")
		p.tracker.PushStatusGroup(sel.TotalMB())
		for _, pkg := range sel.Install {
			p.tracker.PushStatus(pkg.Basename, pkg.SizeMB())
			_, err := pkg.LocalPath(ctx)
			p.tracker.PopStatus()
			if err != nil {
				p.tracker.PopStatusGroup()
				return err
			}
		}
		p.tracker.PopStatusGroup()
	}

	p.state.SetPhase("ready")
	return writePlan(sel)
}

type planPayload struct {
	Install   []string `json:"install"`
	Available []string `json:"available"`
	Omitted   []string `json:"omitted"`
	TotalMB   int64    `json:"total_mb"`
}

func writePlan(sel *resolver.Selection) error {
	out := planPayload{TotalMB: sel.TotalMB()}
	for _, pkg := range sel.Install {
		out.Install = append(out.Install, pkg.Name)
	}
	for _, pkg := range sel.Available {
		out.Available = append(out.Available, pkg.Name)
	}
	for _, pkg := range sel.Omitted {
		out.Omitted = append(out.Omitted, pkg.Name)
	}
	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// serveStatus 在后台启动诊断服务，返回的函数用于关闭。
func (p *pipeline) serveStatus(addr string) (func(), error) {
	opts := server.AppOptions{
		Logger:   p.logger,
		State:    p.state,
		Progress: p.tracker,
		Cache:    p.cache,
	}
	app, err := server.NewApp(opts)
	if err != nil {
		return nil, err
	}
	routes.RegisterInstallRoutes(app, opts)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	p.logger.WithFields(logrus.Fields{
		"action": "listen",
		"addr":   ln.Addr().String(),
	}).Info("诊断服务启动")

	go func() {
		if err := app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			p.logger.WithFields(logrus.Fields{"action": "listen"}).WithError(err).Warn("诊断服务退出")
		}
	}()
	return func() {
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}, nil
}

// close 释放挂载点。
func (p *pipeline) close() {
	if err := p.nfs.Release(); err != nil {
		p.logger.WithFields(logrus.Fields{"action": "nfs_release"}).WithError(err).Warn("卸载 NFS 失败")
	}
	if err := p.media.Release(); err != nil {
		p.logger.WithFields(logrus.Fields{"action": "media_release"}).WithError(err).Warn("卸载安装介质失败")
	}
}
