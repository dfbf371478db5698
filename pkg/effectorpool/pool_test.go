package effectorpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/virtus/pkg/verr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoReturnsTaskError(t *testing.T) {
	p := New(1)
	defer p.Stop()

	want := errors.New("tool failed")
	err := p.Do(context.Background(), func() error { return want })
	assert.Equal(t, want, err)

	require.NoError(t, p.Do(context.Background(), func() error { return nil }))
}

func TestConcurrencyBounded(t *testing.T) {
	p := New(2)
	defer p.Stop()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(context.Background(), func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestDoRespectsContext(t *testing.T) {
	p := New(1)
	defer p.Stop()

	block := make(chan struct{})
	go p.Do(context.Background(), func() error {
		<-block
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, func() error { return nil })
	require.Error(t, err)
	assert.Equal(t, verr.KindUnavailable, verr.KindOf(err))

	close(block)
}
