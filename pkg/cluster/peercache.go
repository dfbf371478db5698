package cluster

import (
	"sync"

	"github.com/cuemby/virtus/pkg/metrics"
	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
)

// Peer is an open outbound client to another cluster member. The concrete
// type is supplied by the RPC layer through the dial function, keeping
// this package free of transport imports.
type Peer interface {
	Close() error
}

// PeerCache lazily establishes outbound connections to cluster members,
// keyed by node id. Entries are inserted with an insert-or-get primitive
// rather than check-then-insert; a lost race costs at most one wasted
// dial. Any I/O error observed through a peer must be reported via Drop.
type PeerCache struct {
	lookup func(id types.ID) (addr string, err error)
	dial   func(addr string) (Peer, error)
	peers  sync.Map // types.ID -> *peerEntry
}

type peerEntry struct {
	once sync.Once
	peer Peer
	err  error
}

// NewPeerCache constructs a cache. lookup resolves a node id to its dial
// address (a catalog read); dial opens the connection.
func NewPeerCache(lookup func(types.ID) (string, error), dial func(string) (Peer, error)) *PeerCache {
	return &PeerCache{lookup: lookup, dial: dial}
}

// Get returns the cached peer for id, dialing on first use. Concurrent
// callers share one dial; a failed entry is evicted so the next Get
// retries.
func (c *PeerCache) Get(id types.ID) (Peer, error) {
	v, _ := c.peers.LoadOrStore(id, &peerEntry{})
	entry := v.(*peerEntry)

	entry.once.Do(func() {
		addr, err := c.lookup(id)
		if err != nil {
			entry.err = verr.Wrap(verr.KindNotFound, "peer "+id.String(), err)
			return
		}
		peer, err := c.dial(addr)
		if err != nil {
			metrics.PeerDialsTotal.WithLabelValues("error").Inc()
			entry.err = verr.Wrap(verr.KindUnavailable, "connect peer "+id.String(), err)
			return
		}
		metrics.PeerDialsTotal.WithLabelValues("ok").Inc()
		entry.peer = peer
	})

	if entry.err != nil {
		c.peers.CompareAndDelete(id, v)
		return nil, entry.err
	}
	return entry.peer, nil
}

// Drop evicts the entry for id, closing its connection if one was
// established. Callers invoke it on any I/O error seen through the peer.
func (c *PeerCache) Drop(id types.ID) {
	v, ok := c.peers.LoadAndDelete(id)
	if !ok {
		return
	}
	entry := v.(*peerEntry)
	if entry.peer != nil {
		entry.peer.Close()
	}
}

// Close drops every cached peer.
func (c *PeerCache) Close() {
	c.peers.Range(func(key, _ any) bool {
		c.Drop(key.(types.ID))
		return true
	})
}
