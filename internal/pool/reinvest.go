/*

This file contains the buffer rebalancer: the closed-form swap that aligns the
idle buffer with the position's current requirement, and the collect-and-
reinvest operation that folds trading fees plus buffer back into the staked
position. Reinvested liquidity mints no receipts, so it accrues to all
holders pro rata.

*/

package pool

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/amberfi/clr/internal/amm"
	"github.com/amberfi/clr/internal/events"
)

var ErrZeroReinvestAmount = errors.New("buffer is empty, nothing to reinvest")

// GetSwapAmountWhenMinting derives the single swap that makes the buffer
// exactly proportional to the position's requirement, so a subsequent stake
// consumes it with no leftover dust.
//
// With X, Y the desired amounts, Z, T the amounts mintable at the current
// ratio, P the mid price and L the ratio of new to total liquidity, the
// asset0-denominated swap amount solves
//
//	n = (X*T - Y*Z) / (P*L*X + P*Z + L*Y + T)
//
// All terms are 18-decimal fixed point with truncating division. A positive
// numerator swaps asset0 for asset1; the returned amount is native units of
// the input asset.
func (e *Engine) GetSwapAmountWhenMinting(amount0, amount1 sdkmath.Int) (sdkmath.Int, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getSwapAmountWhenMintingLocked(amount0, amount1)
}

func (e *Engine) getSwapAmountWhenMintingLocked(amount0, amount1 sdkmath.Int) (sdkmath.Int, bool, error) {
	zero := sdkmath.ZeroInt()
	if !e.position.Initialized() || !e.position.Liquidity.IsPositive() {
		return zero, false, ErrNotInitialized
	}

	price, err := e.amm.QuotePrice()
	if err != nil {
		return zero, false, err
	}
	lower, upper, err := e.rangePrices()
	if err != nil {
		return zero, false, err
	}

	desired0 := e.toDec(amount0, e.cfg.Asset0)
	desired1 := e.toDec(amount1, e.cfg.Asset1)

	mintable0, mintable1, err := e.calculatePoolMintedAmountsLocked(amount0, amount1)
	if err != nil {
		return zero, false, err
	}
	mintableDec0 := e.toDec(mintable0, e.cfg.Asset0)
	mintableDec1 := e.toDec(mintable1, e.cfg.Asset1)

	if !mintableDec0.IsPositive() && !mintableDec1.IsPositive() {
		// One-sided buffer against a two-sided position mints nothing, so
		// the closed form degenerates. Solve (X-n)*R = Y + n*P directly
		// from the position's instantaneous ratio instead.
		ratio, err := e.stakedRatio(price)
		if err != nil {
			return zero, false, err
		}
		if !ratio.IsPositive() {
			return zero, false, nil
		}
		n := desired0.Mul(ratio).Sub(desired1).Quo(price.Add(ratio))
		if n.IsPositive() {
			return e.toNative(n, e.cfg.Asset0), true, nil
		}
		return e.toNative(n.Abs().Mul(price), e.cfg.Asset1), false, nil
	}

	newLiquidity, err := amm.LiquidityForAmounts(price, lower, upper, mintableDec0, mintableDec1)
	if err != nil {
		return zero, false, err
	}
	totalLiquidity := sdkmath.LegacyNewDecFromIntWithPrec(e.position.Liquidity, 18)
	liquidityRatio := newLiquidity.Quo(totalLiquidity)

	numerator := desired0.Mul(mintableDec1).Sub(desired1.Mul(mintableDec0))
	denominator := price.Mul(liquidityRatio).Mul(desired0).
		Add(price.Mul(mintableDec0)).
		Add(liquidityRatio.Mul(desired1)).
		Add(mintableDec1)
	if !denominator.IsPositive() {
		return zero, false, nil
	}
	n := numerator.Quo(denominator)

	if n.IsPositive() {
		return e.toNative(n, e.cfg.Asset0), true, nil
	}
	// Negative numerator: the buffer is short of asset0, so asset1 is the
	// swap input. n is asset0-denominated; convert at the mid price.
	return e.toNative(n.Abs().Mul(price), e.cfg.Asset1), false, nil
}

// CollectAndReinvest pulls accrued fees into the buffer, rebalances the
// buffer with a single swap and stakes it into the position. Fails with
// ErrZeroReinvestAmount when the buffer is empty after fee collection.
func (e *Engine) CollectAndReinvest() (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	zero := sdkmath.ZeroInt()
	if _, _, err := e.collectFeesLocked(); err != nil {
		return zero, err
	}
	if e.buffer.IsZero() {
		return zero, ErrZeroReinvestAmount
	}
	liquidityAdded, err := e.stakeBufferLocked()
	if err != nil {
		return zero, err
	}
	e.recorder.Record(events.New(events.TypeReinvested, e.nowFn(), map[string]string{
		"pool":            e.cfg.Name,
		"liquidity_added": liquidityAdded.String(),
	}))
	e.logger.Info().
		Str("pool", e.cfg.Name).
		Str("liquidity_added", liquidityAdded.String()).
		Msg("Buffer reinvested")
	return liquidityAdded, nil
}

// stakeBufferLocked swaps the buffer into the position's ratio and stakes
// everything mintable. Caller holds the lock.
func (e *Engine) stakeBufferLocked() (sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()

	swapAmount, zeroForOne, err := e.getSwapAmountWhenMintingLocked(e.buffer.Amount0, e.buffer.Amount1)
	if err != nil {
		return zero, err
	}
	if swapAmount.IsPositive() {
		out, err := e.amm.Swap(swapAmount, zeroForOne)
		if err != nil {
			return zero, fmt.Errorf("buffer swap failed: %w", err)
		}
		if zeroForOne {
			e.buffer.Amount0 = e.buffer.Amount0.Sub(swapAmount)
			e.buffer.Amount1 = e.buffer.Amount1.Add(out)
		} else {
			e.buffer.Amount1 = e.buffer.Amount1.Sub(swapAmount)
			e.buffer.Amount0 = e.buffer.Amount0.Add(out)
		}
	}

	minted0, minted1, err := e.calculatePoolMintedAmountsLocked(e.buffer.Amount0, e.buffer.Amount1)
	if err != nil {
		return zero, err
	}
	if !minted0.IsPositive() && !minted1.IsPositive() {
		return zero, ErrZeroReinvestAmount
	}

	liquidityAdded, used0, used1, err := e.amm.IncreasePosition(e.position.Handle, minted0, minted1)
	if err != nil {
		return zero, err
	}
	e.buffer.Amount0 = e.buffer.Amount0.Sub(used0)
	e.buffer.Amount1 = e.buffer.Amount1.Sub(used1)
	e.position.Liquidity = e.position.Liquidity.Add(liquidityAdded)
	if err := e.refreshStakedRatio(); err != nil {
		return zero, err
	}
	return liquidityAdded, nil
}
