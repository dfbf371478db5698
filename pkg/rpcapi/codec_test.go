package rpcapi

import (
	"context"
	"testing"

	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(codecName)
	require.NotNil(t, c)
	assert.Equal(t, codecName, c.Name())
}

func TestCodecRoundTrip(t *testing.T) {
	c := encoding.GetCodec(codecName)

	in := &AddVMRequest{
		Name:        "vm1",
		NodeID:      types.NewID(),
		VCPUs:       2,
		MemoryBytes: 1 << 30,
		DiskIDs:     []types.ID{types.NewID()},
		ImageID:     types.NewID(),
	}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := &AddVMRequest{}
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, in, out)
}

func TestForwardedMetadata(t *testing.T) {
	ctx := context.Background()
	assert.False(t, ForwardedFromContext(ctx))

	// Simulate the flag crossing the wire: outgoing metadata on the
	// sender becomes incoming metadata on the receiver.
	out := WithForwarded(ctx)
	md, ok := metadata.FromOutgoingContext(out)
	require.True(t, ok)

	incoming := metadata.NewIncomingContext(context.Background(), md)
	assert.True(t, ForwardedFromContext(incoming))
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{verr.Validationf("bad id"), codes.InvalidArgument},
		{verr.NotFoundf("no such pool"), codes.NotFound},
		{verr.Preconditionf("name in use"), codes.FailedPrecondition},
		{verr.Topologyf("uplink claimed"), codes.FailedPrecondition},
		{verr.Unavailablef("no leader"), codes.Unavailable},
		{verr.Externalf(nil, "qemu-img failed"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusCode(tc.err), "error %v", tc.err)
	}
}
