package changelog

import (
	"context"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const sourceChangeLog = "changelog"

type LogHandler interface {
	Handle(ctx context.Context, log map[string]interface{})
}

type zapLogHandler struct {
	logger *zap.Logger
}

// NewZapLogHandler writes every log record operation as one zap entry. Failed
// operations are logged with error level.
func NewZapLogHandler(logger *zap.Logger) LogHandler {
	return &zapLogHandler{logger: logger}
}

func newDebugLogger() *zap.Logger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), zapcore.DebugLevel)
	return zap.New(core)
}

func (h *zapLogHandler) Handle(_ context.Context, log map[string]interface{}) {
	keys := make([]string, 0, len(log))
	for k := range log {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, log[k]))
	}
	message := "[" + sourceChangeLog + "] " + log["operation"].(string)
	if _, hasError := log["error"]; hasError {
		h.logger.Error(message, fields...)
		return
	}
	h.logger.Debug(message, fields...)
}

func getNow(has bool) *time.Time {
	if !has {
		return nil
	}
	s := time.Now()
	return &s
}

func fillLogFields(ctx context.Context, handlers []LogHandler, event *Event, start *time.Time, err error) {
	fields := map[string]interface{}{
		"operation": string(event.Action),
		"entity":    event.EntityName,
		"type":      event.Owner.TypeName(),
		"source":    sourceChangeLog,
	}
	if start != nil {
		now := time.Now()
		fields["microseconds"] = time.Since(*start).Microseconds()
		fields["started"] = start.UnixNano()
		fields["finished"] = now.UnixNano()
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	for _, handler := range handlers {
		handler.Handle(ctx, fields)
	}
}
