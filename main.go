package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/any-hub/any-install/internal/config"
	"github.com/any-hub/any-install/internal/logging"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath   string
	checkOnly    bool
	showVersion  bool
	prefetch     bool
	statusListen string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}
	if opts.statusListen != "" {
		cfg.Global.StatusListen = opts.statusListen
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["arch"] = cfg.Source.Arch
		fields["manifest"] = logging.RedactURL(cfg.Source.ManifestURL)
		fields["proxy"] = cfg.Global.ProxyDisplay()
		fields["whiteouts"] = len(cfg.Whiteouts)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化安装流程失败: %v\n", err)
		return 1
	}
	defer p.close()

	if cfg.Global.StatusListen != "" {
		shutdown, err := p.serveStatus(cfg.Global.StatusListen)
		if err != nil {
			fmt.Fprintf(stdErr, "诊断服务启动失败: %v\n", err)
			return 1
		}
		defer shutdown()
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["arch"] = cfg.Source.Arch
	fields["cache_dir"] = cfg.Global.CacheDir
	fields["prefetch"] = opts.prefetch
	logger.WithFields(fields).Info("配置加载完成")

	if err := p.stage(ctx, opts.prefetch); err != nil {
		p.state.SetError(err)
		fmt.Fprintf(stdErr, "安装准备失败: %v\n", err)
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet("any-install", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts cliOptions
	var configFlag string

	fs.StringVarP(&configFlag, "config", "c", "", "配置文件路径（默认 ./config.toml，可被 ANY_INSTALL_CONFIG 覆盖）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	fs.BoolVar(&opts.prefetch, "prefetch", false, "预取全部头部并把待安装包体下载到缓存")
	fs.StringVar(&opts.statusListen, "status-listen", "", "诊断服务监听地址（host:port），覆盖配置中的 StatusListen")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ANY_INSTALL_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path
	return opts, nil
}
