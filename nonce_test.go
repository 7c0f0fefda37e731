package eigenkeeper

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNonceReader struct {
	mu    sync.Mutex
	calls int
	seq   []uint64
	err   error
}

func (f *fakeNonceReader) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	idx := f.calls
	if idx >= len(f.seq) {
		idx = len(f.seq) - 1
	}
	f.calls++
	return f.seq[idx], nil
}

func TestNonceManagerMonotonicWithinAddress(t *testing.T) {
	reader := &fakeNonceReader{seq: []uint64{5}}
	m := NewNonceManager(reader)
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	lease1, err := m.Acquire(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), lease1.Nonce)
	lease1.Release()

	lease2, err := m.Acquire(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), lease2.Nonce)
	lease2.Release()

	assert.Equal(t, 1, reader.calls) // second acquire reused the cached, incremented state
}

// TestNonceManagerRecoversAfterInvalidate matches spec scenario 5: acquire,
// invalidate, acquire again re-reads the chain.
func TestNonceManagerRecoversAfterInvalidate(t *testing.T) {
	reader := &fakeNonceReader{seq: []uint64{3, 7}}
	m := NewNonceManager(reader)
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")

	lease1, err := m.Acquire(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), lease1.Nonce)
	lease1.Invalidate()

	lease2, err := m.Acquire(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), lease2.Nonce)
	lease2.Release()

	assert.Equal(t, 2, reader.calls)
}

func TestNonceManagerIndependentAcrossAddresses(t *testing.T) {
	reader := &fakeNonceReader{seq: []uint64{1}}
	m := NewNonceManager(reader)
	a := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := common.HexToAddress("0x3333333333333333333333333333333333333333")

	leaseA, err := m.Acquire(context.Background(), a)
	require.NoError(t, err)
	leaseB, err := m.Acquire(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), leaseA.Nonce)
	assert.Equal(t, uint64(1), leaseB.Nonce)
	leaseA.Release()
	leaseB.Release()
}

func TestNonceManagerPropagatesReaderError(t *testing.T) {
	reader := &fakeNonceReader{err: fmt.Errorf("rpc down")}
	m := NewNonceManager(reader)
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	_, err := m.Acquire(context.Background(), addr)
	assert.Error(t, err)
}

func TestNonceManagerResetAllForcesRereadNextCycle(t *testing.T) {
	reader := &fakeNonceReader{seq: []uint64{9, 20}}
	m := NewNonceManager(reader)
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	lease1, err := m.Acquire(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), lease1.Nonce)
	lease1.Release()

	m.ResetAll()

	lease2, err := m.Acquire(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), lease2.Nonce)
	lease2.Release()
}
