package workflow

import (
	"context"
	"log/slog"
)

type loggerCtxKey struct{}

type modeCtxKey struct{}

// WithLogger 把 logger 挂到 ctx 上, 一般是带了 batch_id/row 字段的 logger
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// LoggerFromContext 取 ctx 上的 logger, 没有就返回 fallback, fallback 也为 nil 的时候返回 slog.Default()
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerCtxKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// WithMode 本次调用的预测模式, 覆盖节点构建时候的模式, 不在这里校验
func WithMode(ctx context.Context, mode string) context.Context {
	return context.WithValue(ctx, modeCtxKey{}, mode)
}

// ModeFromContext 返回本次调用的模式, 没有设置的时候 ok 为 false
func ModeFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	mode, ok := ctx.Value(modeCtxKey{}).(string)
	if !ok || mode == "" {
		return "", false
	}
	return mode, true
}
