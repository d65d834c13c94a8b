// internal/service/inventory/interfaces/order_handler.go
package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"

	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/pkg/sagaevent"
)

// EventHandler 是腿引擎对外暴露的能力
type EventHandler interface {
	Handle(ctx context.Context, ev *sagaevent.OrderEvent) error
}

// OrderEventHandler 把 orders 主题的消息交给库存引擎，无法解码的消息直接进入死信。
func OrderEventHandler(engine EventHandler) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		ev, err := sagaevent.Decode(msg.Value)
		if err != nil {
			return mq.Permanent(err)
		}
		return engine.Handle(ctx, ev)
	}
}
