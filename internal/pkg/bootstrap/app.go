// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/nacos"
	"github.com/Highkingd/Huygame2341-botdis/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

type AppCtx struct {
	Router chi.Router
	Config *Config
	Nacos  *nacos.Client
}

// Worker 是随服务一起运行的后台循环，ctx 结束时应返回。
type Worker func(ctx context.Context) error

// AppInfo 包含了启动服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 注册服务自己的 HTTP 路由
	Workers          []Worker
	OnShutdown       []func(ctx context.Context) error // HTTP 与 worker 停止后按注册的逆序执行
}

// StartService 封装了通用的启动和优雅关停逻辑，阻塞直到收到退出信号或某个组件失败。
func StartService(info AppInfo) error {
	cfg := GetCurrentConfig()

	// 1. Tracer
	shutdownTracer, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return errors.Wrap(err, "failed to initialize tracer provider")
	}

	// 2. 可选的 Nacos 注册
	var (
		namingClient *nacos.Client
		ip           string
	)
	if cfg.Infra.Nacos.ServerAddrs != "" {
		namingClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return errors.Wrap(err, "failed to initialize nacos client")
		}
		if ip, err = GetOutboundIP(); err != nil {
			return errors.Wrap(err, "failed to get outbound IP address")
		}
		meta := map[string]string{"guildId": cfg.App.GuildID, "commandTopic": cfg.Infra.Kafka.CommandTopic}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port, meta); err != nil {
			return err
		}
	}

	// 3. HTTP Server
	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Router: router, Config: cfg, Nacos: namingClient})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("✅ HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "could not listen on %s", server.Addr)
		}
		return nil
	})
	for _, w := range info.Workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("service", info.ServiceName).Msg("🛑 Shutting down service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	// 4. 关停流程，按顺序执行清理操作
	ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// a. 从 Nacos 注销服务
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		namingClient.Close()
	}

	// b. 服务自己的资源，后进先出
	for i := len(info.OnShutdown) - 1; i >= 0; i-- {
		if err := info.OnShutdown[i](ctxShutdown); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}

	// c. 关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if err := shutdownTracer(ctxShutdown); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	if runErr != nil {
		return runErr
	}
	log.Info().Str("service", info.ServiceName).Msg("Service gracefully shut down")
	return nil
}

// GetOutboundIP 返回访问外网时使用的本机地址，用于服务注册。UDP dial 不会真正发包。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
