package amm

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

func TestTickToPrice(t *testing.T) {
	p, err := TickToPrice(0)
	require.NoError(t, err)
	require.True(t, p.Equal(sdkmath.LegacyOneDec()))

	p, err = TickToPrice(1)
	require.NoError(t, err)
	require.True(t, p.Equal(dec("1.0001")))

	pNeg, err := TickToPrice(-1)
	require.NoError(t, err)
	// 1/1.0001, truncated at 18 decimals
	require.True(t, pNeg.LT(sdkmath.LegacyOneDec()))
	require.True(t, pNeg.Mul(dec("1.0001")).Sub(sdkmath.LegacyOneDec()).Abs().LT(dec("0.000000000000001")))

	_, err = TickToPrice(MaxTick + 1)
	require.ErrorIs(t, err, ErrInvalidTickRange)
}

func TestLiquidityAmountsRoundTrip(t *testing.T) {
	price := sdkmath.LegacyOneDec()
	lower := dec("0.97")
	upper := dec("1.03")

	amount0 := dec("1000")
	amount1 := dec("1000")

	liq, err := LiquidityForAmounts(price, lower, upper, amount0, amount1)
	require.NoError(t, err)
	require.True(t, liq.IsPositive())

	back0, back1, err := AmountsForLiquidity(price, lower, upper, liq)
	require.NoError(t, err)
	require.True(t, back0.LTE(amount0))
	require.True(t, back1.LTE(amount1))
	// The binding side is consumed almost exactly.
	bindingGap := sdkmath.LegacyMinDec(amount0.Sub(back0), amount1.Sub(back1))
	require.True(t, bindingGap.LT(dec("0.000001")))
}

func TestAmountsOutsideRangeAreOneSided(t *testing.T) {
	lower := dec("2")
	upper := dec("4")
	liq := dec("500")

	// Price below the range: all asset0.
	a0, a1, err := AmountsForLiquidity(sdkmath.LegacyOneDec(), lower, upper, liq)
	require.NoError(t, err)
	require.True(t, a0.IsPositive())
	require.True(t, a1.IsZero())

	// Price above the range: all asset1.
	a0, a1, err = AmountsForLiquidity(dec("5"), lower, upper, liq)
	require.NoError(t, err)
	require.True(t, a0.IsZero())
	require.True(t, a1.IsPositive())
}

func TestLiquidityForAmountsRejectsBadRange(t *testing.T) {
	_, err := LiquidityForAmounts(sdkmath.LegacyOneDec(), dec("1.1"), dec("0.9"), dec("1"), dec("1"))
	require.ErrorIs(t, err, ErrInvalidTickRange)

	_, err = LiquidityForAmounts(sdkmath.LegacyZeroDec(), dec("0.9"), dec("1.1"), dec("1"), dec("1"))
	require.ErrorIs(t, err, ErrInvalidPrice)
}
