// cmd/payment-service/main.go
package main

import (
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"ordersaga/internal/pkg/bootstrap"
	"ordersaga/internal/pkg/database"
	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/payment/application"
	"ordersaga/internal/service/payment/infrastructure"
	"ordersaga/internal/service/payment/interfaces"
)

const (
	serviceName = "payment-service"
	groupID     = "payment"
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
		return errors.Wrap(err, "migrate payment tables")
	}

	paymentWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, sagaevent.TopicPaymentOrders)
	dltWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, "")
	app.OnShutdown(func() {
		_ = paymentWriter.Close()
		_ = dltWriter.Close()
	})

	engine := application.NewReservationEngine(
		infrastructure.NewGormStore(db),
		sagaevent.NewPublisher(paymentWriter),
		otel.Tracer(serviceName),
		cfg.Leg.MaxConflictRetries,
	)
	failureHandler := mq.NewFailureHandler(dltWriter, cfg.Kafka.MaxRetries, cfg.Kafka.RetryDelay)
	handler := interfaces.OrderEventHandler(engine)
	for _, c := range mq.NewConsumers(cfg.Kafka.Consumers, cfg.Kafka.Brokers, sagaevent.TopicOrders, groupID, handler, failureHandler) {
		app.AddComponent(c)
	}

	zlog.Info().Int("consumers", cfg.Kafka.Consumers).Msg("✅ Payment service assembled")
	return nil
}
