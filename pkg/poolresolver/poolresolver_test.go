package poolresolver

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keeper "github.com/eigenlabs/eigenkeeper"
)

func TestResolvePoolReturnsConfigPoolAndCachesIt(t *testing.T) {
	r := New()
	pool := &keeper.PoolRef{Address: common.HexToAddress("0x1111111111111111111111111111111111111111")}
	cfg := &keeper.EigenConfig{ID: "eigen-1", Pool: pool}

	got, err := r.ResolvePool(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, pool, got)

	_, cached := r.cache["eigen-1"]
	assert.True(t, cached)
}

func TestResolvePoolReturnsCachedValueEvenIfConfigPoolChanges(t *testing.T) {
	r := New()
	pool := &keeper.PoolRef{Address: common.HexToAddress("0x1111111111111111111111111111111111111111")}
	cfg := &keeper.EigenConfig{ID: "eigen-1", Pool: pool}
	_, err := r.ResolvePool(context.Background(), cfg)
	require.NoError(t, err)

	cfg.Pool = &keeper.PoolRef{Address: common.HexToAddress("0x2222222222222222222222222222222222222222")}
	got, err := r.ResolvePool(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, pool, got)
}

func TestResolvePoolErrorsWhenNoPoolAndUncached(t *testing.T) {
	r := New()
	cfg := &keeper.EigenConfig{ID: "eigen-1"}
	_, err := r.ResolvePool(context.Background(), cfg)
	assert.Error(t, err)
}

func TestInvalidateForcesRefreshFromConfig(t *testing.T) {
	r := New()
	pool := &keeper.PoolRef{Address: common.HexToAddress("0x1111111111111111111111111111111111111111")}
	cfg := &keeper.EigenConfig{ID: "eigen-1", Pool: pool}
	_, err := r.ResolvePool(context.Background(), cfg)
	require.NoError(t, err)

	r.Invalidate("eigen-1")

	newPool := &keeper.PoolRef{Address: common.HexToAddress("0x2222222222222222222222222222222222222222")}
	cfg.Pool = newPool
	got, err := r.ResolvePool(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, newPool, got)
}
