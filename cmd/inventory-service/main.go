// cmd/inventory-service/main.go
package main

import (
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"ordersaga/internal/pkg/bootstrap"
	"ordersaga/internal/pkg/database"
	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/inventory/application"
	"ordersaga/internal/service/inventory/infrastructure"
	"ordersaga/internal/service/inventory/interfaces"
)

const (
	serviceName = "inventory-service"
	groupID     = "inventory"
)

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

	db, err := database.OpenMySQL(cfg.Infra.MySQL.DSN)
	if err != nil {
		return err
	}
	if err := infrastructure.AutoMigrate(db); err != nil {
		return errors.Wrap(err, "migrate inventory tables")
	}

	stockWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, sagaevent.TopicStockOrders)
	dltWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, "")
	app.OnShutdown(func() {
		_ = stockWriter.Close()
		_ = dltWriter.Close()
	})

	engine := application.NewReservationEngine(
		infrastructure.NewGormStore(db),
		sagaevent.NewPublisher(stockWriter),
		otel.Tracer(serviceName),
		cfg.Leg.MaxConflictRetries,
	)
	failureHandler := mq.NewFailureHandler(dltWriter, cfg.Kafka.MaxRetries, cfg.Kafka.RetryDelay)
	handler := interfaces.OrderEventHandler(engine)
	for _, c := range mq.NewConsumers(cfg.Kafka.Consumers, cfg.Kafka.Brokers, sagaevent.TopicOrders, groupID, handler, failureHandler) {
		app.AddComponent(c)
	}

	zlog.Info().Int("consumers", cfg.Kafka.Consumers).Msg("✅ Inventory service assembled")
	return nil
}
