// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init 配置全局 zerolog：JSON 输出、Unix 时间戳、带 service 字段。
func Init(serviceName, level string) {
	InitWithWriter(os.Stdout, serviceName, level)
}

// InitWithWriter 与 Init 相同，但允许指定输出目标（测试中使用）。
func InitWithWriter(w io.Writer, serviceName, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zlog.Logger = zerolog.New(w).With().Timestamp().Str("service", serviceName).Logger()
}

// Ctx 返回 context 中的 logger；没有时退回全局 logger，并附加当前 trace_id。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &zlog.Logger
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		enriched := l.With().Str("trace_id", sc.TraceID().String()).Logger()
		return &enriched
	}
	return l
}

// WithContext 把 logger 放进 context，供下游 handler 使用。
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}
