// internal/pkg/mq/consumer.go
package mq

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ordersaga/internal/pkg/logger"
)

// HandlerFunc 处理一条消息。返回错误会触发重试，重试耗尽后进入死信。
type HandlerFunc func(ctx context.Context, msg kafka.Message) error

// Consumer 是驱动适配器：拉取消息、交给 handler、处理完成后提交 offset。
// 一个 Consumer 串行处理自己分到的分区，所以同一个 key 的消息按分区顺序处理。
type Consumer struct {
	topic   string
	reader  MessageReader
	handler HandlerFunc
	failure *FailureHandler
	tracer  trace.Tracer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer 创建一个新的 Kafka 消费者适配器。
func NewConsumer(topic string, reader MessageReader, handler HandlerFunc, failure *FailureHandler) *Consumer {
	return &Consumer{
		topic:   topic,
		reader:  reader,
		handler: handler,
		failure: failure,
		tracer:  otel.Tracer("mq.consumer"),
	}
}

// Start 开始监听主题。这是一个长期运行的方法，立即返回。
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.topic).Msg("✅ Kafka consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Str("topic", c.topic).Msg("🛑 Kafka consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Str("topic", c.topic).Msg("could not fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}

			if err := c.dispatch(ctx, msg); err != nil {
				// 只有 ctx 被取消时才会走到这里，不提交，交给下一位消费者重新处理
				return
			}
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("topic", c.topic).Msg("failed to commit message")
			}
		}
	}()
	return nil
}

// Stop 优雅地停止消费者。
func (c *Consumer) Stop(ctx context.Context) {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("topic", c.topic).Msg("failed to close reader")
	}
	logger.Ctx(ctx).Info().Str("topic", c.topic).Msg("✅ Kafka consumer stopped")
}

func (c *Consumer) dispatch(parent context.Context, msg kafka.Message) error {
	ctx := ExtractTraceContext(parent, msg.Headers)
	ctx, span := c.tracer.Start(ctx, "consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
			attribute.String("messaging.kafka.message.key", string(msg.Key)),
		))
	defer span.End()

	err := c.failure.Process(ctx, msg, func(ctx context.Context, m kafka.Message) error {
		herr := c.handler(ctx, m)
		if herr != nil {
			span.RecordError(herr)
		}
		return herr
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// NewConsumers 为同一主题创建 n 个同组 reader，对应消费并发度。
func NewConsumers(n int, brokers []string, topic, groupID string, handler HandlerFunc, failure *FailureHandler) []*Consumer {
	if n < 1 {
		n = 1
	}
	consumers := make([]*Consumer, 0, n)
	for i := 0; i < n; i++ {
		consumers = append(consumers, NewConsumer(topic, NewKafkaReader(brokers, topic, groupID), handler, failure))
	}
	return consumers
}
