// internal/service/order/interfaces/dlt_handler.go
package interfaces

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/mq"
)

const dltFetchBackoff = time.Second

// DltConsumerAdapter 观察一个死信主题：每条消息输出一条 CRITICAL 日志后提交，不做重放。
type DltConsumerAdapter struct {
	topic  string
	reader mq.MessageReader

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDltConsumerAdapter(topic string, reader mq.MessageReader) *DltConsumerAdapter {
	return &DltConsumerAdapter{topic: topic, reader: reader}
}

func (a *DltConsumerAdapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("👀 Dead letter observer started")
		for {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Ctx(ctx).Warn().Err(err).Str("topic", a.topic).Msg("fetch dead letter failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(dltFetchBackoff):
				}
				continue
			}

			logDeadLetter(mq.ExtractTraceContext(ctx, msg.Headers), msg)
			// 提交失败时下次启动会再看到这条消息，只多一条日志
			if err := a.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Str("topic", a.topic).Msg("failed to commit dead letter")
			}
		}
	}()
	return nil
}

func (a *DltConsumerAdapter) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	_ = a.reader.Close()
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("🛑 Dead letter observer stopped")
}

// logDeadLetter 输出原始位置与失败原因；key 就是 orderId
func logDeadLetter(ctx context.Context, msg kafka.Message) {
	logger.Ctx(ctx).Error().
		Str("topic", msg.Topic).
		Str("order_key", string(msg.Key)).
		Str("original_topic", mq.HeaderValue(msg.Headers, mq.HeaderOriginalTopic)).
		Str("original_partition", mq.HeaderValue(msg.Headers, mq.HeaderOriginalPartition)).
		Str("original_offset", mq.HeaderValue(msg.Headers, mq.HeaderOriginalOffset)).
		Str("exception_fqcn", mq.HeaderValue(msg.Headers, mq.HeaderExceptionFqcn)).
		Str("exception_message", mq.HeaderValue(msg.Headers, mq.HeaderExceptionMessage)).
		Str("value", string(msg.Value)).
		Msg("🚨 CRITICAL: order event dead-lettered, manual replay required")
}
