package eigenkeeper

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ckutil "github.com/eigenlabs/eigenkeeper/pkg/util"
)

// priceSnapshotStaleAfter is the age beyond which a cached spot price is
// treated as stale rather than reused.
const priceSnapshotStaleAfter = 2 * time.Minute

// PriceOracle reads a pool's current spot price from its sqrtPriceX96
// slot0 value and periodically logs a snapshot for the AI evaluator's
// context and for volatility estimation.
type PriceOracle struct {
	gateway Gateway
	store   Store

	lastPrice *big.Float
	lastRead  time.Time
}

// NewPriceOracle builds a PriceOracle reading through gateway and logging
// snapshots through store.
func NewPriceOracle(gateway Gateway, store Store) *PriceOracle {
	return &PriceOracle{gateway: gateway, store: store}
}

// SpotPrice reads pool.Address's slot0 and converts it to a token1-per-
// token0 spot price. Returns an error (never a stale cached value) when
// the read fails; callers (the decision engine via EigenState.CurrentPrice)
// treat a missing price as "no_price".
func (o *PriceOracle) SpotPrice(ctx context.Context, pool *PoolRef) (*big.Float, error) {
	if pool == nil {
		return nil, fmt.Errorf("no pool resolved")
	}
	sqrtPriceX96, _, err := o.gateway.ReadSlot0(ctx, pool.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read slot0 for pool %s: %w", pool.Address.Hex(), err)
	}
	price := ckutil.SqrtPriceToPrice(sqrtPriceX96)
	o.lastPrice = price
	o.lastRead = time.Now()
	return price, nil
}

// Stale reports whether the last successful read is older than the
// configured freshness window, guarding callers that want to avoid
// trading off a stale cached price.
func (o *PriceOracle) Stale() bool {
	if o.lastRead.IsZero() {
		return true
	}
	return time.Since(o.lastRead) > priceSnapshotStaleAfter
}

// SnapshotIfDue logs a PriceSnapshot for token when interval has elapsed
// since the last one recorded for it, per the PRICE_SNAPSHOT_INTERVAL
// configuration knob (spec §6).
func (o *PriceOracle) SnapshotIfDue(ctx context.Context, snapshot PriceSnapshot, interval time.Duration) error {
	recent, err := o.store.RecentPriceSnapshots(ctx, snapshot.Token, 1)
	if err != nil {
		return fmt.Errorf("failed to load recent snapshots for %s: %w", snapshot.Token.Hex(), err)
	}
	if len(recent) > 0 && time.Since(recent[0].Timestamp) < interval {
		return nil
	}
	return o.store.AppendPriceSnapshot(ctx, snapshot)
}
