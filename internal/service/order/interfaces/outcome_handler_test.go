package interfaces

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"

	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/order/application/saga"
)

func TestOutcomeHandler_PermanentErrors(t *testing.T) {
	coordinator := saga.NewCoordinator(saga.NewMemoryJoinStore(time.Minute), nil, nil, noop.NewTracerProvider().Tracer("test"), 1, 0)
	handler := OutcomeHandler(coordinator, sagaevent.SourcePayment)

	err := handler(context.Background(), kafka.Message{Value: []byte("{not json")})
	assert.True(t, mq.IsPermanent(err))

	err = handler(context.Background(), kafka.Message{Value: []byte(`{"orderId":1,"status":"CONFIRMED","source":null,"items":[]}`)})
	assert.True(t, mq.IsPermanent(err))
	assert.ErrorIs(t, err, saga.ErrUnknownOutcome)
}

func TestOutcomeHandler_BuffersFirstOutcome(t *testing.T) {
	coordinator := saga.NewCoordinator(saga.NewMemoryJoinStore(time.Minute), nil, nil, noop.NewTracerProvider().Tracer("test"), 1, 0)
	handler := OutcomeHandler(coordinator, sagaevent.SourceInventory)

	err := handler(context.Background(), kafka.Message{Value: []byte(`{"orderId":1,"customerId":2,"status":"ACCEPT","source":"INVENTORY","items":[]}`)})
	assert.NoError(t, err)
}
