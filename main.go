package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/dexcache/dexcache/internal/cache"
	"github.com/dexcache/dexcache/internal/config"
	"github.com/dexcache/dexcache/internal/controller"
	"github.com/dexcache/dexcache/internal/logging"
	"github.com/dexcache/dexcache/internal/manifest"
	"github.com/dexcache/dexcache/internal/netstate"
	"github.com/dexcache/dexcache/internal/server"
	"github.com/dexcache/dexcache/internal/server/routes"
	"github.com/dexcache/dexcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath   string
	cacheVersion string
	checkOnly    bool
	showVersion  bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// listenFn 允许测试替换真实监听；ctx 结束时 Fiber 会优雅关闭并返回。
var listenFn = func(ctx context.Context, app *fiber.App, addr string) error {
	return app.Listen(addr, fiber.ListenConfig{
		GracefulContext: ctx,
		ShutdownTimeout: shutdownTimeout,
	})
}

const shutdownTimeout = 10 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, opts)
	stop()
	os.Exit(code)
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
// ctx 取消（SIGINT/SIGTERM）后服务优雅退出并返回 0。
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath, config.WithCacheVersion(opts.cacheVersion))
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	assets, err := manifest.Build(manifest.Options{
		Origin:      cfg.Origin(),
		BuildDir:    cfg.App.BuildDir,
		BuildPrefix: cfg.App.BuildPrefix,
		StaticDir:   cfg.App.StaticDir,
		Extra:       cfg.App.ExtraAssets,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "生成静态资源清单失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["assets"] = assets.Len()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 清单 → 磁盘缓存 → 连通性 → 控制器 install/activate → Fiber server，
	// 激活成功后才开始监听，保证所有请求都由新版本控制器接管。
	storage, err := cache.NewStorage(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	httpClient := server.NewUpstreamClient(cfg.Global.UpstreamTimeout.DurationValue())
	monitor := netstate.NewMonitor()
	if cfg.Global.ProbeURL != "" {
		probe := netstate.NewProbe(monitor, httpClient, cfg.Global.ProbeURL,
			cfg.Global.ProbeInterval.DurationValue(), cfg.Global.ProbeTimeout.DurationValue(), logger)
		go probe.Run(ctx)
	}

	dispatcher, err := server.NewDispatcher(httpClient, monitor)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化分发器失败: %v\n", err)
		return 1
	}

	ctrl, err := controller.New(storage, httpClient, monitor, logger, controller.Options{
		Version:            cfg.App.CacheVersion,
		AssetStorePrefix:   cfg.App.AssetStorePrefix,
		RequestStore:       cfg.App.RequestStoreName,
		AppOrigin:          cfg.Origin(),
		Manifest:           assets,
		TrustedHosts:       cfg.App.TrustedHosts,
		ProtectedSegments:  cfg.App.ProtectedSegments,
		LocalDataPrefix:    cfg.App.LocalDataPrefix,
		Freshness:          cache.NewFreshness(cfg.App.FreshnessThreshold.DurationValue()),
		InstallConcurrency: cfg.App.InstallConcurrency,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存控制器失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["assets"] = assets.Len()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctrl.Install(ctx)
	if ctx.Err() == nil {
		_, err = ctrl.Activate(ctx, dispatcher)
	}
	if ctx.Err() != nil {
		logger.WithField("action", "shutdown").Info("启动阶段收到退出信号")
		return 0
	}
	if err != nil {
		fmt.Fprintf(stdErr, "激活缓存版本失败: %v\n", err)
		return 1
	}

	if err := startHTTPServer(ctx, cfg, dispatcher, monitor, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	logger.WithField("action", "shutdown").Info("服务已停止")
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("dexcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag   string
		cacheVersion string
		checkOnly    bool
		showVer      bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 DEXCACHE_CONFIG 覆盖）")
	fs.StringVar(&cacheVersion, "cache-version", "", "覆盖配置中的 CacheVersion（也可使用 "+config.EnvCacheVersion+"）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("DEXCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:   path,
		cacheVersion: cacheVersion,
		checkOnly:    checkOnly,
		showVersion:  showVer,
	}, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, dispatcher *server.Dispatcher, monitor *netstate.Monitor, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      dispatcher,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, dispatcher, monitor)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return listenFn(ctx, app, fmt.Sprintf(":%d", port))
}
