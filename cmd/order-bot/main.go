// cmd/order-bot/main.go
package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/bootstrap"
	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/httpclient"
	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/logger"
	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/metrics"
	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/mq"
	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/redis"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/application"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/infrastructure"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/infrastructure/adapter"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/infrastructure/rule"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/interfaces"
	"github.com/Highkingd/Huygame2341-botdis/internal/zookeeper"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := bootstrap.Init()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.App.ServiceName, cfg.Log.Level, cfg.Log.Pretty)

	app, err := build(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble service")
	}
	if err := bootstrap.StartService(*app); err != nil {
		log.Fatal().Err(err).Msg("service stopped with error")
	}
}

// build 创建并组装所有依赖项。返回前出错时已打开的资源由进程退出回收。
func build(ctx context.Context, cfg *bootstrap.Config) (*bootstrap.AppInfo, error) {
	tracer := otel.Tracer(cfg.App.ServiceName)
	m := metrics.NewRegistry()
	app := &bootstrap.AppInfo{ServiceName: cfg.App.ServiceName, Port: cfg.App.Port}
	closeOnShutdown := func(name string, c func() error) {
		app.OnShutdown = append(app.OnShutdown, func(context.Context) error {
			return errors.Wrapf(c(), "close %s", name)
		})
	}

	if len(cfg.App.StaffIDs) == 0 {
		log.Warn().Msg("No staff ids configured, staff-only commands will be rejected")
	}

	// 1. 存储
	backend, err := newSnapshotter(cfg.Storage)
	if err != nil {
		return nil, err
	}
	idGen, err := newIDGenerator(ctx, cfg, closeOnShutdown)
	if err != nil {
		return nil, err
	}
	store := infrastructure.NewSnapshotStore(backend, idGen, m)
	if err := store.Load(ctx); err != nil {
		return nil, errors.Wrap(err, "load orders")
	}
	closeOnShutdown("order store", store.Close)

	// 2. 通知出口，任何一个都可以缺席
	hub := adapter.NewHub(cfg.App.StaffIDs)
	notifier := adapter.NewMultiNotifier(m).Add("push", hub)

	webhook := adapter.NewNotificationWebhookAdapter(httpclient.NewClient(tracer),
		cfg.App.Channels.LogWebhook, cfg.App.Channels.AdminWebhook)
	if webhook.Enabled() {
		notifier.Add("webhook", webhook)
	}

	brokers := cfg.Infra.Kafka.Brokers
	if len(brokers) > 0 {
		writer := mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.NotificationTopic)
		kafkaSink := adapter.NewNotificationKafkaAdapter(writer, cfg.App.GuildID)
		notifier.Add("kafka", kafkaSink)
		closeOnShutdown("notification writer", kafkaSink.Close)
	}

	if cfg.Infra.RabbitMQ.URL != "" {
		rabbit, err := mq.DialRabbit(cfg.Infra.RabbitMQ.URL, cfg.Infra.RabbitMQ.Exchange)
		if err != nil {
			return nil, err
		}
		notifier.Add("rabbitmq", adapter.NewNotificationAMQPAdapter(rabbit.Channel(), cfg.Infra.RabbitMQ.Exchange, cfg.App.GuildID))
		closeOnShutdown("rabbitmq", rabbit.Close)
	}
	log.Info().Int("sinks", notifier.Len()).Msg("Notification sinks configured")

	// 3. 应用服务
	filters, err := rule.NewCELFilterCompiler()
	if err != nil {
		return nil, err
	}
	orderCfg := cfg.App.Order
	svc := application.NewOrderApplicationService(store, notifier, tracer, cfg.App.StaffIDs,
		application.WithNotifyTimeout(orderCfg.NotifyTimeout),
		application.WithFilterCompiler(filters),
		application.WithMetrics(m),
	)

	monitor := application.NewDeadlineMonitor(store, notifier, tracer, application.MonitorConfig{
		Interval:             orderCfg.MonitorInterval,
		WarningThreshold:     orderCfg.WarningThreshold,
		NotifyTimeout:        orderCfg.NotifyTimeout,
		NotifyStaffOnOverdue: orderCfg.NotifyStaffOnOverdue,
	}).WithMetrics(m)

	zkCfg := cfg.Infra.Zookeeper
	if len(zkCfg.Servers) > 0 {
		conn, err := zookeeper.Connect(zkCfg.Servers, zkCfg.SessionTimeout)
		if err != nil {
			return nil, err
		}
		lock, err := zookeeper.NewDistributedLock(conn, zkCfg.LockName)
		if err != nil {
			conn.Close()
			return nil, err
		}
		monitor.WithLeaderElector(lock)
		closeOnShutdown("zookeeper", func() error { conn.Close(); return nil })
	}

	app.Workers = append(app.Workers, hub.Run, monitor.Run)

	// 4. 驱动适配器
	if len(brokers) > 0 && cfg.Infra.Kafka.CommandTopic != "" {
		reader := mq.NewKafkaReader(brokers, cfg.Infra.Kafka.CommandTopic, cfg.Infra.Kafka.GroupID)
		replies := mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.ReplyTopic)
		consumer := interfaces.NewCommandConsumerAdapter(reader, replies, interfaces.NewCommandDispatcher(svc), tracer, m)
		app.Workers = append(app.Workers, consumer.Run)
		closeOnShutdown("reply writer", replies.Close)
	}

	handler := interfaces.NewOrderHandler(svc, m.Handler(), http.HandlerFunc(hub.ServeWs))
	app.RegisterHandlers = func(appCtx bootstrap.AppCtx) {
		handler.RegisterRoutes(appCtx.Router)
	}
	return app, nil
}

func newSnapshotter(cfg bootstrap.StorageConfig) (infrastructure.Snapshotter, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		log.Info().Str("path", cfg.File.Path).Msg("Using file storage")
		return infrastructure.NewFileSnapshotter(cfg.File.Path)
	case "pebble":
		log.Info().Str("dir", cfg.Pebble.Dir).Msg("Using pebble storage")
		return infrastructure.NewPebbleSnapshotter(cfg.Pebble.Dir)
	case "mysql":
		log.Info().Str("addr", cfg.MySQL.Addr).Str("database", cfg.MySQL.Database).Msg("Using mysql storage")
		return infrastructure.NewMySQLSnapshotter(infrastructure.MySQLConfig{
			Addr:     cfg.MySQL.Addr,
			User:     cfg.MySQL.User,
			Password: cfg.MySQL.Password,
			Database: cfg.MySQL.Database,
		})
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// newIDGenerator 配置了 Redis 时多个副本共享同一序列，否则使用进程内计数器。
func newIDGenerator(ctx context.Context, cfg *bootstrap.Config, closeOnShutdown func(string, func() error)) (domain.IDGenerator, error) {
	prefix := cfg.App.Order.IDPrefix
	if len(cfg.Infra.Redis.Addrs) == 0 {
		return infrastructure.NewSequenceGenerator(prefix), nil
	}
	redisClient, err := redis.NewClient(ctx, cfg.Infra.Redis.Addrs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize redis client")
	}
	closeOnShutdown("redis", redisClient.Close)
	return infrastructure.NewRedisIDGenerator(ctx, redisClient, cfg.Infra.Redis.IDKey, prefix)
}
