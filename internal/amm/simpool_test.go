package amm

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/amberfi/clr/internal/types"
)

var (
	testAsset0 = types.Asset{Denom: "uatom", Symbol: "atom", Decimals: 6}
	testAsset1 = types.Asset{Denom: "uusdc", Symbol: "usdc", Decimals: 6}
)

func newTestPool(t *testing.T) *SimPool {
	t.Helper()
	pool, err := NewSimPool(testAsset0, testAsset1, sdkmath.LegacyOneDec(), sdkmath.LegacyZeroDec())
	require.NoError(t, err)
	return pool
}

func TestSimPoolMintAndBurn(t *testing.T) {
	pool := newTestPool(t)

	amount0 := sdkmath.NewInt(1_000_000_000) // 1000 tokens at 6 decimals
	amount1 := sdkmath.NewInt(1_000_000_000)
	handle, liq, used0, used1, err := pool.MintPosition(-300, 300, amount0, amount1)
	require.NoError(t, err)
	require.True(t, liq.IsPositive())
	require.True(t, used0.LTE(amount0))
	require.True(t, used1.LTE(amount1))

	back0, back1, err := pool.BurnPosition(handle)
	require.NoError(t, err)

	// Within a native unit of rounding on each side.
	require.True(t, used0.Sub(back0).Abs().LTE(sdkmath.NewInt(1)))
	require.True(t, used1.Sub(back1).Abs().LTE(sdkmath.NewInt(1)))

	_, _, err = pool.BurnPosition(handle)
	require.ErrorIs(t, err, ErrUnknownHandle)
}

func TestSimPoolIncreaseDecrease(t *testing.T) {
	pool := newTestPool(t)

	handle, liq, _, _, err := pool.MintPosition(-300, 300, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	added, _, _, err := pool.IncreasePosition(handle, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.True(t, added.IsPositive())

	// Remove half the total.
	total := liq.Add(added)
	half := total.Quo(sdkmath.NewInt(2))
	out0, out1, err := pool.DecreasePosition(handle, half)
	require.NoError(t, err)
	require.True(t, out0.IsPositive())
	require.True(t, out1.IsPositive())

	// Removing more than remains must fail.
	_, _, err = pool.DecreasePosition(handle, total)
	require.ErrorIs(t, err, ErrExcessLiquidity)
}

func TestSimPoolSwapAtMidPriceWithFee(t *testing.T) {
	pool, err := NewSimPool(testAsset0, testAsset1, sdkmath.LegacyMustNewDecFromStr("2"), sdkmath.LegacyMustNewDecFromStr("0.003"))
	require.NoError(t, err)

	out, err := pool.Swap(sdkmath.NewInt(1_000_000), true)
	require.NoError(t, err)
	// 1 token0 -> 2 token1, minus 0.3% fee = 1.994
	require.Equal(t, int64(1_994_000), out.Int64())

	out, err = pool.Swap(sdkmath.NewInt(2_000_000), false)
	require.NoError(t, err)
	// 2 token1 -> 1 token0, minus fee = 0.997
	require.Equal(t, int64(997_000), out.Int64())

	_, err = pool.Swap(sdkmath.ZeroInt(), true)
	require.ErrorIs(t, err, ErrZeroSwapAmount)
}

func TestSimPoolFeeAccrualAndCollection(t *testing.T) {
	pool := newTestPool(t)
	handle, _, _, _, err := pool.MintPosition(-300, 300, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, pool.AccrueFees(handle, sdkmath.NewInt(500), sdkmath.NewInt(700)))

	fee0, fee1, err := pool.CollectFees(handle)
	require.NoError(t, err)
	require.Equal(t, int64(500), fee0.Int64())
	require.Equal(t, int64(700), fee1.Int64())

	// Second collection is empty.
	fee0, fee1, err = pool.CollectFees(handle)
	require.NoError(t, err)
	require.True(t, fee0.IsZero())
	require.True(t, fee1.IsZero())
}

func TestSimPoolOneSidedMint(t *testing.T) {
	pool := newTestPool(t)

	// Range entirely above the current price: only asset0 is consumed.
	_, liq, used0, used1, err := pool.MintPosition(100, 400, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.True(t, liq.IsPositive())
	require.True(t, used0.IsPositive())
	require.True(t, used1.IsZero())
}
