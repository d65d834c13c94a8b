// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/metrics"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Cause() error  { return e.err }

// Permanent 标记一个不值得重试的错误（例如消息体无法解析），直接进入死信。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误是否被标记为不可重试。
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// FailureHandler 负责失败消息的重试，以及重试耗尽后转发到死信主题。
type FailureHandler struct {
	dlt        MessageWriter
	maxRetries int
	retryDelay time.Duration
}

// NewFailureHandler 创建失败处理器；dlt 必须是未绑定 Topic 的 writer。
func NewFailureHandler(dlt MessageWriter, maxRetries int, retryDelay time.Duration) *FailureHandler {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &FailureHandler{dlt: dlt, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Process 执行 fn，失败时按线性退避重试；最终失败的消息转发到死信主题。
// 返回 nil 表示消息已被“处理”（成功或进入死信），可以提交 offset。
func (h *FailureHandler) Process(ctx context.Context, msg kafka.Message, fn func(context.Context, kafka.Message) error) error {
	var err error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if err = fn(ctx, msg); err == nil {
			return nil
		}
		if IsPermanent(err) {
			break
		}
		logger.Ctx(ctx).Warn().Err(err).
			Str("topic", msg.Topic).
			Int("attempt", attempt+1).
			Msg("message handling failed")
		if attempt < h.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.retryDelay * time.Duration(attempt+1)):
			}
		}
	}
	return h.Handle(ctx, msg, err)
}

// Handle 把消息写入 <topic>.DLT。写入失败时持续重试直到 ctx 结束，
// 保证未成功转发的消息不会被提交。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	dead := kafka.Message{
		Topic: msg.Topic + DLTSuffix,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header{}, msg.Headers...),
			kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
			kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
			kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			kafka.Header{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", errors.Cause(cause)))},
			kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
		),
	}

	for {
		err := h.dlt.WriteMessages(ctx, dead)
		if err == nil {
			metrics.DeadLetters.WithLabelValues(msg.Topic).Inc()
			logger.Ctx(ctx).Error().Err(cause).
				Str("topic", msg.Topic).
				Str("key", string(msg.Key)).
				Int64("offset", msg.Offset).
				Msg("🚨 message routed to dead letter topic")
			return nil
		}
		logger.Ctx(ctx).Error().Err(err).Str("topic", dead.Topic).Msg("failed to write dead letter, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
