package middleware

import (
	"context"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

// LoggingInterceptor logs every unary RPC with its procedure, operator, code
// and duration. Client-side failures (anything but Internal and Unknown) log
// at warn, server faults at error.
//
// Register it after RequireAuth so the operator is already in the context.
func LoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			attrs := []any{
				"procedure", req.Spec().Procedure,
				"operator", GetOperator(ctx),
			}

			resp, err := next(ctx, req)

			attrs = append(attrs, "duration_ms", time.Since(start).Milliseconds())
			if err == nil {
				logger.Info("RPC ok", attrs...)
				return resp, nil
			}

			code := connect.CodeOf(err)
			attrs = append(attrs, "code", code, "error", err)
			switch code {
			case connect.CodeInternal, connect.CodeUnknown:
				logger.Error("RPC failed", attrs...)
			default:
				logger.Warn("RPC failed", attrs...)
			}
			return resp, err
		}
	}
}
