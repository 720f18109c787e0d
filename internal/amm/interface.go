package amm

import (
	sdkmath "cosmossdk.io/math"

	"github.com/amberfi/clr/internal/types"
)

// PoolService defines the interface for the external AMM pool collaborator.
// This interface abstracts away the specific venue the positions live on,
// allowing for different implementations (live adapter, simulation, etc.).
//
// All amounts cross this boundary in native precision. Prices are quoted in
// canonical 18-decimal fixed point: canonical units of asset1 per canonical
// unit of asset0.
type PoolService interface {
	// QuotePrice returns the pool's current mid price.
	QuotePrice() (sdkmath.LegacyDec, error)

	// MintPosition opens a new range position funded with up to the supplied
	// native amounts and returns its handle, the liquidity units minted and
	// the amounts actually consumed (never more than the inputs).
	MintPosition(lowerTick, upperTick int, amount0, amount1 sdkmath.Int) (types.PositionHandle, sdkmath.Int, sdkmath.Int, sdkmath.Int, error)

	// IncreasePosition adds liquidity to an existing position and returns the
	// liquidity units added and the native amounts consumed.
	IncreasePosition(handle types.PositionHandle, amount0, amount1 sdkmath.Int) (sdkmath.Int, sdkmath.Int, sdkmath.Int, error)

	// DecreasePosition removes liquidity units from a position and returns the
	// native amounts released.
	DecreasePosition(handle types.PositionHandle, liquidity sdkmath.Int) (sdkmath.Int, sdkmath.Int, error)

	// BurnPosition closes a position entirely, returning all underlying
	// amounts. The handle is invalid afterwards.
	BurnPosition(handle types.PositionHandle) (sdkmath.Int, sdkmath.Int, error)

	// Swap trades amountIn of one asset for the other at the pool's current
	// price. zeroForOne selects the direction (asset0 in, asset1 out when
	// true).
	Swap(amountIn sdkmath.Int, zeroForOne bool) (sdkmath.Int, error)

	// CollectFees withdraws the trading fees accrued to a position since the
	// last collection.
	CollectFees(handle types.PositionHandle) (sdkmath.Int, sdkmath.Int, error)
}
