package observability

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/nredf-scheduler/internal/logging"
)

const requestIDMetadataKey = "x-request-id"

// LoggingUnaryServerInterceptor attaches a logger annotated with the RPC
// method, and the caller's x-request-id when present, to the handler
// context. Failed calls are logged at warn level.
func LoggingUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		reqLog := base.With(logging.String("method", fullMethod))
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if id := firstHeader(md, requestIDMetadataKey); id != "" {
				reqLog = reqLog.With(logging.String("request_id", id))
			}
		}
		ctx = logging.ContextWithLogger(ctx, reqLog)

		resp, err := handler(ctx, req)
		if err != nil {
			reqLog.Warn(ctx, "rpc failed", logging.String("code", status.Code(err).String()), logging.Error(err))
		} else {
			reqLog.Debug(ctx, "rpc served")
		}
		return resp, err
	}
}

func firstHeader(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
