/*

This file contains the range-liquidity math shared by the simulator and the
share accounting engine: tick to price conversion and the standard
liquidity-from-amounts / amounts-from-liquidity formulas over sqrt prices.

All values are canonical 18-decimal fixed point. Division truncates; callers
must not round results back up.

*/

package amm

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInvalidTickRange = errors.New("tick range is invalid")
	ErrInvalidPrice     = errors.New("price is invalid")
	ErrSqrtFailed       = errors.New("square root computation failed")
)

// tickBase is the per-tick price step: price(t) = 1.0001^t.
var tickBase = sdkmath.LegacyMustNewDecFromStr("1.0001")

// MinTick and MaxTick bound the usable tick domain. Matches the usual
// concentrated-liquidity convention scaled to what 18-decimal fixed point can
// represent without overflow.
const (
	MinTick = -400000
	MaxTick = 400000
)

// TickToPrice converts a tick index to a price.
func TickToPrice(tick int) (sdkmath.LegacyDec, error) {
	if tick < MinTick || tick > MaxTick {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: tick %d out of [%d, %d]", ErrInvalidTickRange, tick, MinTick, MaxTick)
	}
	if tick >= 0 {
		return tickBase.Power(uint64(tick)), nil
	}
	return sdkmath.LegacyOneDec().Quo(tickBase.Power(uint64(-tick))), nil
}

// sqrtPrices resolves and validates the sqrt prices of a range around the
// current price.
func sqrtPrices(price, lower, upper sdkmath.LegacyDec) (sp, sa, sb sdkmath.LegacyDec, err error) {
	zero := sdkmath.LegacyZeroDec()
	if !lower.IsPositive() || !upper.IsPositive() || upper.LTE(lower) {
		return zero, zero, zero, fmt.Errorf("%w: lower=%s upper=%s", ErrInvalidTickRange, lower, upper)
	}
	if !price.IsPositive() {
		return zero, zero, zero, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	if sp, err = price.ApproxSqrt(); err != nil {
		return zero, zero, zero, fmt.Errorf("%w: %w", ErrSqrtFailed, err)
	}
	if sa, err = lower.ApproxSqrt(); err != nil {
		return zero, zero, zero, fmt.Errorf("%w: %w", ErrSqrtFailed, err)
	}
	if sb, err = upper.ApproxSqrt(); err != nil {
		return zero, zero, zero, fmt.Errorf("%w: %w", ErrSqrtFailed, err)
	}
	return sp, sa, sb, nil
}

// LiquidityForAmounts returns the liquidity units minted when amount0/amount1
// (canonical) are deposited into the range [lower, upper] at the given price.
// Whichever asset is the binding constraint determines the result.
func LiquidityForAmounts(price, lower, upper, amount0, amount1 sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	sp, sa, sb, err := sqrtPrices(price, lower, upper)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	switch {
	case sp.LTE(sa):
		// Price below range: position is entirely asset0.
		return amount0.Mul(sa).Mul(sb).Quo(sb.Sub(sa)), nil
	case sp.GTE(sb):
		// Price above range: position is entirely asset1.
		return amount1.Quo(sb.Sub(sa)), nil
	default:
		l0 := amount0.Mul(sp).Mul(sb).Quo(sb.Sub(sp))
		l1 := amount1.Quo(sp.Sub(sa))
		return sdkmath.LegacyMinDec(l0, l1), nil
	}
}

// AmountsForLiquidity returns the canonical asset amounts backing the given
// liquidity in the range [lower, upper] at the given price. When the price
// sits outside the range, the excluded side is exactly zero.
func AmountsForLiquidity(price, lower, upper, liquidity sdkmath.LegacyDec) (sdkmath.LegacyDec, sdkmath.LegacyDec, error) {
	zero := sdkmath.LegacyZeroDec()
	sp, sa, sb, err := sqrtPrices(price, lower, upper)
	if err != nil {
		return zero, zero, err
	}

	switch {
	case sp.LTE(sa):
		amount0 := liquidity.Mul(sb.Sub(sa)).Quo(sa.Mul(sb))
		return amount0, zero, nil
	case sp.GTE(sb):
		amount1 := liquidity.Mul(sb.Sub(sa))
		return zero, amount1, nil
	default:
		amount0 := liquidity.Mul(sb.Sub(sp)).Quo(sp.Mul(sb))
		amount1 := liquidity.Mul(sp.Sub(sa))
		return amount0, amount1, nil
	}
}
