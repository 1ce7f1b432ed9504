package grpcx

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cwrk-planet/meet-service/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Unary logging + recovery + timeout guard (если у вызова нет deadline)
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
		}

		defer func() {
			if r := recover(); r != nil {
				logger.FromCtx(ctx).Error("grpc unary panic",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
			logger.FromCtx(ctx).Log(ctx, levelFor(err), "grpc unary",
				"method", info.FullMethod,
				"dur_ms", time.Since(start).Milliseconds(),
				"code", status.Code(err).String())
		}()

		return handler(ctx, req)
	}
}

func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		start := time.Now()
		ctx := ss.Context()

		defer func() {
			if r := recover(); r != nil {
				logger.FromCtx(ctx).Error("grpc stream panic",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
			logger.FromCtx(ctx).Log(ctx, levelFor(err), "grpc stream",
				"method", info.FullMethod,
				"dur_ms", time.Since(start).Milliseconds(),
				"code", status.Code(err).String())
		}()

		return handler(srv, ss)
	}
}

// Health checks arrive every few seconds; keep them at debug.
func levelFor(err error) slog.Level {
	switch status.Code(err) {
	case codes.OK, codes.Canceled:
		return slog.LevelDebug
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
