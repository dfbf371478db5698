package rpcapi

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// forwardedKey is the metadata header marking a second-hop request. Its
// presence (value empty) means the request was already forwarded once and
// must execute locally.
const forwardedKey = "virtus-forwarded"

// WithForwarded marks the outgoing request as forwarded.
func WithForwarded(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, forwardedKey, "")
}

// ForwardedFromContext reports whether the incoming request carries the
// forwarded marker.
func ForwardedFromContext(ctx context.Context) bool {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return false
	}
	return len(md.Get(forwardedKey)) > 0
}
