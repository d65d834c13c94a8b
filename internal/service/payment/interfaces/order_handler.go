// internal/service/payment/interfaces/order_handler.go
package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"

	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/pkg/sagaevent"
)

type EventHandler interface {
	Handle(ctx context.Context, ev *sagaevent.OrderEvent) error
}

// OrderEventHandler 把 orders 主题的消息交给支付引擎。
// 客户不存在按普通错误返回，由消费者重试后进入死信。
func OrderEventHandler(engine EventHandler) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		ev, err := sagaevent.Decode(msg.Value)
		if err != nil {
			return mq.Permanent(err)
		}
		return engine.Handle(ctx, ev)
	}
}
