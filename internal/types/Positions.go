/*

This file contains the types for the pool's range position and the idle buffer
balances held alongside it.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// PositionHandle is an opaque reference to a position held with the external
// AMM pool service. The engine never interprets it; it is minted on position
// creation and replaced wholesale on a range rebalance.
type PositionHandle uint64

// Position is the single active range position owned by a pool instance.
type Position struct {
	LowerTick int            `json:"lower_tick"`
	UpperTick int            `json:"upper_tick"`
	Liquidity sdkmath.Int    `json:"liquidity"` // Liquidity units owned at the AMM
	Handle    PositionHandle `json:"handle"`
}

// Initialized reports whether the position has been created by the one-time
// initial mint.
func (p Position) Initialized() bool {
	return !p.Liquidity.IsNil() && p.Handle != 0
}

// BufferBalance holds the uninvested asset amounts owned by the pool instance,
// in native decimals. It grows on deposits and fee collection and shrinks when
// the buffer is staked into the position or paid out on withdrawal.
type BufferBalance struct {
	Amount0 sdkmath.Int `json:"amount0"`
	Amount1 sdkmath.Int `json:"amount1"`
}

// IsZero reports whether both buffer sides are empty.
func (b BufferBalance) IsZero() bool {
	return b.Amount0.IsZero() && b.Amount1.IsZero()
}
