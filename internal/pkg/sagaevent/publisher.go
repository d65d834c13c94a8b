// internal/pkg/sagaevent/publisher.go
package sagaevent

import (
	"context"

	"github.com/pkg/errors"

	"ordersaga/internal/pkg/mq"
)

// Publisher 把 OrderEvent 按 orderId 为 key 写入 writer 绑定的主题。
type Publisher struct {
	writer mq.MessageWriter
}

func NewPublisher(writer mq.MessageWriter) *Publisher {
	return &Publisher{writer: writer}
}

func (p *Publisher) Publish(ctx context.Context, e *OrderEvent) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	if err := mq.ProduceMessage(ctx, p.writer, e.Key(), data); err != nil {
		return errors.Wrapf(err, "produce order %d", e.OrderID)
	}
	return nil
}
