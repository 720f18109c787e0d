/*

This file contains the range rebalancer: closing the active position and
reopening it at new bounds. Rebalancing is disabled by default, gated to the
manager's enable flag, and limited to one move per rolling 24-hour window.
A new range that excludes the current price on one side legitimately stakes
zero of the corresponding asset.

*/

package pool

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/amberfi/clr/internal/amm"
	"github.com/amberfi/clr/internal/events"
	"github.com/amberfi/clr/internal/types"
)

// DefaultRebalanceCooldown is the rolling window between range moves.
const DefaultRebalanceCooldown = 24 * time.Hour

var (
	ErrNoChange          = errors.New("new bounds equal the current bounds")
	ErrRebalanceDisabled = errors.New("rebalancing is not enabled for this pool")
	ErrCooldownActive    = errors.New("rebalance cooldown has not elapsed")
)

// SetRebalanceEnabled flips the rebalance flag. Manager only.
func (e *Engine) SetRebalanceEnabled(caller types.Account, enabled bool) error {
	if caller != e.cfg.Manager {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebalanceEnabled = enabled
	e.logger.Info().Str("pool", e.cfg.Name).Bool("enabled", enabled).Msg("Rebalance flag updated")
	return nil
}

// RebalanceEnabled reports the current flag.
func (e *Engine) RebalanceEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebalanceEnabled
}

// expectedRestakeLocked computes the amounts a rebalance to the new bounds
// would stake, from the current position's recovery plus the buffer. Caller
// holds the lock.
func (e *Engine) expectedRestakeLocked(newLower, newUpper int) (sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()

	recovered0, recovered1, err := e.expectedUnstakeLocked(e.position.Liquidity)
	if err != nil {
		return zero, zero, err
	}
	avail0 := e.buffer.Amount0.Add(recovered0)
	avail1 := e.buffer.Amount1.Add(recovered1)

	price, err := e.amm.QuotePrice()
	if err != nil {
		return zero, zero, err
	}
	lower, err := amm.TickToPrice(newLower)
	if err != nil {
		return zero, zero, err
	}
	upper, err := amm.TickToPrice(newUpper)
	if err != nil {
		return zero, zero, err
	}
	liq, err := amm.LiquidityForAmounts(price, lower, upper,
		e.toDec(avail0, e.cfg.Asset0), e.toDec(avail1, e.cfg.Asset1))
	if err != nil {
		return zero, zero, err
	}
	need0, need1, err := amm.AmountsForLiquidity(price, lower, upper, liq)
	if err != nil {
		return zero, zero, err
	}
	used0 := sdkmath.MinInt(e.toNative(need0, e.cfg.Asset0), avail0)
	used1 := sdkmath.MinInt(e.toNative(need1, e.cfg.Asset1), avail1)
	return used0, used1, nil
}

// Rebalance closes the active position and reopens it at the new bounds using
// the recovered amounts plus the buffer. The freshly staked amounts must meet
// the supplied minimums.
func (e *Engine) Rebalance(caller types.Account, newLower, newUpper int, minAmount0, minAmount1 sdkmath.Int) error {
	if caller != e.cfg.Manager {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.position.Initialized() {
		return ErrNotInitialized
	}
	if !e.rebalanceEnabled {
		return ErrRebalanceDisabled
	}
	if newLower == e.position.LowerTick && newUpper == e.position.UpperTick {
		return ErrNoChange
	}
	now := e.nowFn()
	if !e.lastRebalance.IsZero() {
		if elapsed := now.Sub(e.lastRebalance); elapsed < e.cfg.RebalanceCooldown {
			return fmt.Errorf("%w: %s remaining", ErrCooldownActive, e.cfg.RebalanceCooldown-elapsed)
		}
	}

	// Sweep outstanding fees into the buffer before the position closes.
	if _, _, err := e.collectFeesLocked(); err != nil {
		return err
	}

	// The minimums are checked against the expected staked amounts before
	// the position closes, so a failing rebalance has no partial effect. A
	// one-sided range legitimately stakes zero of the excluded asset; the
	// minimums guard against value loss, not against zero sides.
	expUsed0, expUsed1, err := e.expectedRestakeLocked(newLower, newUpper)
	if err != nil {
		return err
	}
	if expUsed0.LT(minAmount0) || expUsed1.LT(minAmount1) {
		return fmt.Errorf("%w: staked %s/%s, want >= %s/%s", ErrSlippageExceeded, expUsed0, expUsed1, minAmount0, minAmount1)
	}

	oldLower, oldUpper := e.position.LowerTick, e.position.UpperTick
	recovered0, recovered1, err := e.amm.BurnPosition(e.position.Handle)
	if err != nil {
		return err
	}
	e.creditBuffer(recovered0, recovered1)
	e.recorder.Record(events.New(events.TypePositionBurned, now, map[string]string{
		"pool":       e.cfg.Name,
		"lower_tick": fmt.Sprintf("%d", oldLower),
		"upper_tick": fmt.Sprintf("%d", oldUpper),
		"amount0":    recovered0.String(),
		"amount1":    recovered1.String(),
	}))

	handle, liquidity, used0, used1, err := e.amm.MintPosition(newLower, newUpper, e.buffer.Amount0, e.buffer.Amount1)
	if err != nil {
		return err
	}
	e.buffer.Amount0 = e.buffer.Amount0.Sub(used0)
	e.buffer.Amount1 = e.buffer.Amount1.Sub(used1)
	e.position = types.Position{
		LowerTick: newLower,
		UpperTick: newUpper,
		Liquidity: liquidity,
		Handle:    handle,
	}
	if err := e.refreshStakedRatio(); err != nil {
		return err
	}

	e.lastRebalance = now
	e.recorder.Record(events.New(events.TypeRebalanced, now, map[string]string{
		"pool":       e.cfg.Name,
		"lower_tick": fmt.Sprintf("%d", newLower),
		"upper_tick": fmt.Sprintf("%d", newUpper),
		"liquidity":  liquidity.String(),
		"staked0":    used0.String(),
		"staked1":    used1.String(),
	}))
	e.logger.Info().
		Str("pool", e.cfg.Name).
		Int("lower_tick", newLower).
		Int("upper_tick", newUpper).
		Str("liquidity", liquidity.String()).
		Msg("Position rebalanced")
	return nil
}
