package cluster

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	addr   string
	closed bool
}

func (p *fakePeer) Close() error {
	p.closed = true
	return nil
}

func TestPeerCacheDialOnce(t *testing.T) {
	id := types.NewID()
	var dials int32

	cache := NewPeerCache(
		func(types.ID) (string, error) { return "10.0.0.2:9400", nil },
		func(addr string) (Peer, error) {
			atomic.AddInt32(&dials, 1)
			return &fakePeer{addr: addr}, nil
		},
	)

	var wg sync.WaitGroup
	peers := make([]Peer, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := cache.Get(id)
			require.NoError(t, err)
			peers[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
	for _, p := range peers[1:] {
		assert.Same(t, peers[0], p)
	}
}

func TestPeerCacheUnknownPeer(t *testing.T) {
	cache := NewPeerCache(
		func(types.ID) (string, error) { return "", errors.New("no such node") },
		func(string) (Peer, error) { return &fakePeer{}, nil },
	)

	_, err := cache.Get(types.NewID())
	require.Error(t, err)
	assert.Equal(t, verr.KindNotFound, verr.KindOf(err))
}

func TestPeerCacheDialFailureEvicted(t *testing.T) {
	id := types.NewID()
	var dials int32

	cache := NewPeerCache(
		func(types.ID) (string, error) { return "10.0.0.2:9400", nil },
		func(string) (Peer, error) {
			if atomic.AddInt32(&dials, 1) == 1 {
				return nil, errors.New("connection refused")
			}
			return &fakePeer{}, nil
		},
	)

	_, err := cache.Get(id)
	require.Error(t, err)
	assert.Equal(t, verr.KindUnavailable, verr.KindOf(err))

	// The failed entry was evicted, so the next Get redials and succeeds.
	p, err := cache.Get(id)
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}

func TestPeerCacheDropCloses(t *testing.T) {
	id := types.NewID()
	cache := NewPeerCache(
		func(types.ID) (string, error) { return "10.0.0.2:9400", nil },
		func(addr string) (Peer, error) { return &fakePeer{addr: addr}, nil },
	)

	p, err := cache.Get(id)
	require.NoError(t, err)

	cache.Drop(id)
	assert.True(t, p.(*fakePeer).closed)

	// Dropping again is a no-op.
	cache.Drop(id)
}
