// cmd/order-service/main.go
package main

import (
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"ordersaga/internal/pkg/bootstrap"
	"ordersaga/internal/pkg/database"
	"ordersaga/internal/pkg/httpclient"
	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/pkg/zookeeper"
	"ordersaga/internal/service/order/application"
	"ordersaga/internal/service/order/application/saga"
	"ordersaga/internal/service/order/domain/port"
	"ordersaga/internal/service/order/infrastructure"
	"ordersaga/internal/service/order/infrastructure/adapter"
	"ordersaga/internal/service/order/interfaces"
)

const (
	serviceName        = "order-service"
	coordinatorGroupID = "order-coordinator"
	dltGroupID         = "order-dlt"
	retryLockResource  = "order-retry-job"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg := bootstrap.Init(serviceName)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Config:      cfg,
		Setup:       setup,
	})
}

func setup(app *bootstrap.AppCtx) error {
	cfg := app.Config
	tracer := otel.Tracer(serviceName)

	// 1. 持久化
	db, err := database.OpenMySQL(cfg.Infra.MySQL.DSN)
	if err != nil {
		return err
	}
	if err := infrastructure.AutoMigrate(db); err != nil {
		return errors.Wrap(err, "migrate order tables")
	}
	orderRepo := infrastructure.NewGormOrderRepository(db)

	// 2. 消息
	ordersWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, sagaevent.TopicOrders)
	dltWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, "")
	app.OnShutdown(func() {
		_ = ordersWriter.Close()
		_ = dltWriter.Close()
	})
	publisher := sagaevent.NewPublisher(ordersWriter)
	failureHandler := mq.NewFailureHandler(dltWriter, cfg.Kafka.MaxRetries, cfg.Kafka.RetryDelay)

	// 3. 出站适配器
	resolve := adapter.StaticURL(cfg.Catalog.BaseURL)
	if cfg.Catalog.ServiceName != "" && app.Nacos != nil {
		resolve = adapter.NacosURL(app.Nacos, cfg.Catalog.ServiceName)
	}
	catalog := adapter.NewCatalogHTTPAdapter(httpclient.NewClient(tracer), resolve, adapter.CatalogOptions{
		FallbackExists: cfg.Catalog.FallbackExists,
		Timeout:        cfg.Catalog.Timeout,
		MaxAttempts:    cfg.Catalog.MaxAttempts,
		Backoff:        cfg.Kafka.RetryDelay,
		FailureLimit:   cfg.Catalog.FailureLimit,
		OpenTimeout:    cfg.Catalog.OpenTimeout,
	})

	var admission port.AdmissionPolicy
	if cfg.Order.AdmissionRule != "" {
		policy, err := adapter.NewCELAdmissionPolicy(cfg.Order.AdmissionRule)
		if err != nil {
			return err
		}
		admission = policy
	}

	// 4. 应用服务与 HTTP
	orderService := application.NewOrderApplicationService(orderRepo, catalog, publisher, admission, tracer,
		application.RetryOptions{StaleAfter: cfg.Retry.StaleAfter, BatchSize: cfg.Retry.BatchSize})
	interfaces.NewOrderHandler(orderService).RegisterRoutes(app.Mux)

	// 5. 重发任务：配置了 ZooKeeper 时只有抢到锁的副本执行
	var locker port.Locker
	if len(cfg.Infra.Zookeeper.Servers) > 0 {
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return err
		}
		app.OnShutdown(conn.Close)
		lock, err := zookeeper.NewDistributedLock(conn, retryLockResource)
		if err != nil {
			return err
		}
		locker = lock
	}
	app.AddComponent(application.NewRetryJob(orderService, locker, cfg.Retry.Interval))

	// 6. 协调器
	var joinStore saga.JoinStore
	switch cfg.Saga.JoinStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Infra.Redis.Addr})
		app.OnShutdown(func() { _ = rdb.Close() })
		joinStore = adapter.NewRedisJoinStore(rdb, cfg.Saga.JoinWindow)
	default:
		memory := saga.NewMemoryJoinStore(cfg.Saga.JoinWindow)
		app.AddComponent(memory)
		joinStore = memory
	}
	coordinator := saga.NewCoordinator(joinStore, orderRepo, publisher, tracer, cfg.Kafka.MaxRetries, cfg.Kafka.RetryDelay)

	for topic, leg := range map[string]sagaevent.Source{
		sagaevent.TopicPaymentOrders: sagaevent.SourcePayment,
		sagaevent.TopicStockOrders:   sagaevent.SourceInventory,
	} {
		handler := interfaces.OutcomeHandler(coordinator, leg)
		for _, c := range mq.NewConsumers(cfg.Kafka.Consumers, cfg.Kafka.Brokers, topic, coordinatorGroupID, handler, failureHandler) {
			app.AddComponent(c)
		}
	}

	// 7. 死信观察
	for _, topic := range []string{sagaevent.TopicOrders, sagaevent.TopicPaymentOrders, sagaevent.TopicStockOrders} {
		dlt := topic + mq.DLTSuffix
		app.AddComponent(interfaces.NewDltConsumerAdapter(dlt, mq.NewKafkaReader(cfg.Kafka.Brokers, dlt, dltGroupID)))
	}

	zlog.Info().Str("join_store", cfg.Saga.JoinStore).Msg("✅ Order service assembled")
	return nil
}
