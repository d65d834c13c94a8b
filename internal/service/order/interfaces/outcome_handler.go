// internal/service/order/interfaces/outcome_handler.go
package interfaces

import (
	"context"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/order/application/saga"
)

// OutcomeHandler 是 payment-orders / stock-orders 的消费处理函数。
// 无法解码或结果未知的消息不重试，直接进入死信。
func OutcomeHandler(coordinator *saga.Coordinator, leg sagaevent.Source) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		outcome, err := sagaevent.Decode(msg.Value)
		if err != nil {
			return mq.Permanent(err)
		}
		err = coordinator.HandleOutcome(ctx, leg, outcome)
		if errors.Is(err, saga.ErrUnknownOutcome) {
			return mq.Permanent(err)
		}
		return err
	}
}
