package rpcapi

import (
	"context"

	"github.com/cuemby/virtus/pkg/metrics"
	"github.com/cuemby/virtus/pkg/verr"
	"github.com/cuemby/virtus/pkg/vlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// statusCode translates the internal error taxonomy to wire-level codes.
func statusCode(err error) codes.Code {
	switch verr.KindOf(err) {
	case verr.KindValidation:
		return codes.InvalidArgument
	case verr.KindNotFound:
		return codes.NotFound
	case verr.KindPrecondition, verr.KindTopology:
		return codes.FailedPrecondition
	case verr.KindUnavailable:
		return codes.Unavailable
	case verr.KindExternal:
		return codes.Internal
	default:
		return codes.Internal
	}
}

// UnaryInterceptor records per-method metrics and maps internal errors to
// gRPC status codes at the protocol boundary.
func UnaryInterceptor() grpc.UnaryServerInterceptor {
	logger := vlog.WithComponent("rpcapi")

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		timer := metrics.NewTimer()

		resp, err := handler(ctx, req)

		timer.ObserveDurationVec(metrics.APIRequestDuration, info.FullMethod)
		if err == nil {
			metrics.APIRequestsTotal.WithLabelValues(info.FullMethod, "ok").Inc()
			return resp, nil
		}

		// Pass through errors already carrying a status (e.g. relayed from
		// a forwarded peer).
		if _, ok := status.FromError(err); ok && verr.KindOf(err) == verr.KindUnknown {
			metrics.APIRequestsTotal.WithLabelValues(info.FullMethod, "error").Inc()
			return resp, err
		}

		code := statusCode(err)
		metrics.APIRequestsTotal.WithLabelValues(info.FullMethod, code.String()).Inc()
		logger.Warn().Str("method", info.FullMethod).Err(err).Msg("request failed")
		return resp, status.Error(code, err.Error())
	}
}
