package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/specd/internal/faults"
)

func leasers(t *testing.T) map[string]Leaser {
	t.Helper()
	flock, err := NewFlock(t.TempDir())
	require.NoError(t, err)
	return map[string]Leaser{
		"memory": NewMemory(),
		"flock":  flock,
	}
}

func TestLeaser_SingleHolder(t *testing.T) {
	for name, l := range leasers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := l.Acquire(ctx, "0001-a")
			require.NoError(t, err)
			assert.Equal(t, "0001-a", first.SpecID())

			_, err = l.Acquire(ctx, "0001-a")
			assert.ErrorIs(t, err, ErrLeaseHeld)
			assert.Equal(t, faults.CodeLeaseHeld, faults.CodeOf(err))

			other, err := l.Acquire(ctx, "0002-b")
			require.NoError(t, err, "different specifications lease independently")
			require.NoError(t, other.Release())

			require.NoError(t, first.Release())
			require.NoError(t, first.Release(), "release is idempotent")

			again, err := l.Acquire(ctx, "0001-a")
			require.NoError(t, err)
			require.NoError(t, again.Release())
		})
	}
}

func TestLeaser_ConcurrentAcquire(t *testing.T) {
	for name, l := range leasers(t) {
		t.Run(name, func(t *testing.T) {
			var (
				wg      sync.WaitGroup
				winners atomic.Int32
				start   = make(chan struct{})
				leases  = make(chan Lease, 16)
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					lease, err := l.Acquire(context.Background(), "0001-a")
					if err == nil {
						winners.Add(1)
						leases <- lease
					}
				}()
			}
			close(start)
			wg.Wait()
			close(leases)

			assert.Equal(t, int32(1), winners.Load())
			for lease := range leases {
				require.NoError(t, lease.Release())
			}
		})
	}
}

func TestLeaser_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, l := range leasers(t) {
		_, err := l.Acquire(ctx, "0001-a")
		assert.ErrorIs(t, err, context.Canceled, name)
	}
}

func TestMemory_Held(t *testing.T) {
	m := NewMemory()
	lease, err := m.Acquire(context.Background(), "0001-a")
	require.NoError(t, err)
	assert.True(t, m.Held("0001-a"))
	require.NoError(t, lease.Release())
	assert.False(t, m.Held("0001-a"))
}

func TestFlock_RejectsPathIDs(t *testing.T) {
	f, err := NewFlock(t.TempDir())
	require.NoError(t, err)
	_, err = f.Acquire(context.Background(), "../escape")
	assert.Error(t, err)
}
