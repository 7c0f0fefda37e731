package eigenkeeper

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PendingNonceReader reads the chain's pending transaction count for an
// address; satisfied by *ethclient.Client and, in tests, by
// fakeNonceReader.
type PendingNonceReader interface {
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)
}

// Lease is what Acquire hands back: the nonce to use, plus Release and
// Invalidate to call exactly once when the send either succeeds or fails.
type Lease struct {
	Nonce      uint64
	Release    func()
	Invalidate func()
}

// NonceManager serializes nonce issuance per address while letting
// different addresses proceed in parallel, per spec §4.3: single-threaded
// cooperative within one address, parallel across addresses.
type NonceManager struct {
	reader PendingNonceReader

	mu     sync.Mutex
	addrMu map[common.Address]*sync.Mutex
	state  map[common.Address]*NonceState
}

// NewNonceManager builds a NonceManager that reads initial nonces from
// reader (typically the chain gateway's underlying ethclient.Client).
func NewNonceManager(reader PendingNonceReader) *NonceManager {
	return &NonceManager{
		reader: reader,
		addrMu: make(map[common.Address]*sync.Mutex),
		state:  make(map[common.Address]*NonceState),
	}
}

func (m *NonceManager) lockFor(addr common.Address) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.addrMu[addr]
	if !ok {
		l = &sync.Mutex{}
		m.addrMu[addr] = l
	}
	return l
}

// Acquire awaits the per-address lock, initializing the cache from chain on
// first use, hands out the current nonce, and optimistically pre-increments
// it. Callers MUST call exactly one of Release (on success) or Invalidate
// (on any send failure) when done.
func (m *NonceManager) Acquire(ctx context.Context, addr common.Address) (*Lease, error) {
	lock := m.lockFor(addr)
	lock.Lock()

	m.mu.Lock()
	st, ok := m.state[addr]
	if !ok {
		st = &NonceState{}
		m.state[addr] = st
	}
	m.mu.Unlock()

	if !st.Initialized {
		current, err := m.reader.PendingNonceAt(ctx, addr)
		if err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("failed to read pending nonce for %s: %w", addr.Hex(), err)
		}
		st.Current = current
		st.Initialized = true
	}

	nonce := st.Current
	st.Current++

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		lock.Unlock()
	}
	invalidate := func() {
		if released {
			return
		}
		m.mu.Lock()
		st.Initialized = false
		m.mu.Unlock()
		released = true
		lock.Unlock()
	}

	return &Lease{Nonce: nonce, Release: release, Invalidate: invalidate}, nil
}

// ResetAll clears every address's cache so the next Acquire re-reads the
// chain. Called once at the start of every scheduler cycle (spec §4.8
// step 6) to guarantee fresh state.
func (m *NonceManager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.state {
		st.Initialized = false
	}
}
