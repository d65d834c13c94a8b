// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"

	"ordersaga/internal/pkg/config"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/nacos"
	"ordersaga/internal/pkg/tracing"
)

// Component 是随服务一起启动和关停的长期运行组件（消费者、定时任务等）。
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// AppCtx 在 Setup 阶段提供给各服务的公共依赖。
type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未配置 Nacos 时为 nil
	Config *config.Config

	components []Component
	closers    []func()
}

// AddComponent 注册一个组件，按注册顺序启动、逆序关停。
func (a *AppCtx) AddComponent(c Component) {
	a.components = append(a.components, c)
}

// OnShutdown 注册在组件关停之后执行的清理函数（关闭 writer、数据库等）。
func (a *AppCtx) OnShutdown(fn func()) {
	a.closers = append(a.closers, fn)
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	Config      *config.Config
	// Setup 组装服务自己的依赖、路由和组件
	Setup func(app *AppCtx) error
}

// Init 加载配置并初始化全局日志。
func Init(serviceName string) *config.Config {
	cfg, err := config.Load(getEnv("CONFIG_FILE", "configs/config.yaml"))
	if err != nil {
		logger.Init(serviceName, "info")
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init(serviceName, cfg.App.LogLevel)
	return cfg
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := info.Config

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	app := &AppCtx{Mux: http.NewServeMux(), Config: cfg}
	app.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	app.Mux.Handle("/metrics", promhttp.Handler())

	var ip string
	if cfg.Infra.Nacos.ServerAddrs != "" {
		app.Nacos, err = nacos.NewClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		if ip, err = outboundIP(); err != nil {
			zlog.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err := app.Nacos.RegisterServiceInstance(info.ServiceName, ip, cfg.App.Port); err != nil {
			zlog.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	if info.Setup != nil {
		if err := info.Setup(app); err != nil {
			zlog.Fatal().Err(err).Msg("failed to set up service")
		}
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	for _, c := range app.components {
		if err := c.Start(rootCtx); err != nil {
			zlog.Fatal().Err(err).Msg("failed to start component")
		}
	}

	server := &http.Server{Addr: ":" + strconv.Itoa(cfg.App.Port), Handler: app.Mux}
	go func() {
		zlog.Info().Msgf("%s listening on :%d", info.ServiceName, cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msgf("could not listen on %s", server.Addr)
		}
	}()

	// 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msgf("Shutting down service %s...", info.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 清理顺序与启动相反
	if app.Nacos != nil {
		if err := app.Nacos.DeregisterServiceInstance(info.ServiceName, ip, cfg.App.Port); err != nil {
			zlog.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		app.Nacos.Close()
	}

	if err := server.Shutdown(ctx); err != nil {
		zlog.Error().Err(err).Msg("Error shutting down http server")
	}

	cancelRoot()
	for i := len(app.components) - 1; i >= 0; i-- {
		app.components[i].Stop(ctx)
	}
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}

	if err := tp.Shutdown(ctx); err != nil {
		zlog.Error().Err(err).Msg("Error shutting down tracer provider")
	}
	zlog.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}

// outboundIP 返回本机访问外网时使用的地址，用于服务注册。
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// getEnv 从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
