package gateway

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// rpcLevel keeps health checks at debug while surfacing server faults.
func rpcLevel(code codes.Code) slog.Level {
	switch code {
	case codes.OK, codes.Canceled, codes.NotFound:
		return slog.LevelDebug
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// loggingInterceptor logs unary calls with their status code and latency.
func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("rpc panic", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal error")
			}
			code := status.Code(err)
			logger.Log(ctx, rpcLevel(code), "rpc", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start), "error", err)
		}()
		return handler(ctx, req)
	}
}

// streamLoggingInterceptor logs streams such as health Watch when they end.
func streamLoggingInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("stream panic", "method", info.FullMethod, "panic", r)
				err = status.Error(codes.Internal, "internal error")
			}
			code := status.Code(err)
			logger.Log(ss.Context(), rpcLevel(code), "stream closed", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start))
		}()
		return handler(srv, ss)
	}
}
