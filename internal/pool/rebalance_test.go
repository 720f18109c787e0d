package pool

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebalanceGating(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	zero := sdkmath.ZeroInt()

	err := f.engine.Rebalance(alice, -500, 500, zero, zero)
	require.ErrorIs(t, err, ErrUnauthorized)

	// Disabled by default.
	err = f.engine.Rebalance(manager, -500, 500, zero, zero)
	require.ErrorIs(t, err, ErrRebalanceDisabled)

	require.ErrorIs(t, f.engine.SetRebalanceEnabled(alice, true), ErrUnauthorized)
	require.NoError(t, f.engine.SetRebalanceEnabled(manager, true))
	assert.True(t, f.engine.RebalanceEnabled())

	err = f.engine.Rebalance(manager, lowerTick, upperTick, zero, zero)
	require.ErrorIs(t, err, ErrNoChange)

	require.NoError(t, f.engine.Rebalance(manager, -500, 500, zero, zero))
	pos := f.engine.Position()
	assert.Equal(t, -500, pos.LowerTick)
	assert.Equal(t, 500, pos.UpperTick)
	assert.True(t, pos.Liquidity.IsPositive())
}

func TestRebalanceCooldown(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	require.NoError(t, f.engine.SetRebalanceEnabled(manager, true))
	zero := sdkmath.ZeroInt()

	require.NoError(t, f.engine.Rebalance(manager, -500, 500, zero, zero))

	// 82,300s into the rolling 24h window the second move is rejected.
	f.advance(82_300 * time.Second)
	err := f.engine.Rebalance(manager, -600, 600, zero, zero)
	require.ErrorIs(t, err, ErrCooldownActive)

	f.advance((86_400 - 82_300) * time.Second)
	require.NoError(t, f.engine.Rebalance(manager, -600, 600, zero, zero))
}

func TestRebalanceToOneSidedRange(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	require.NoError(t, f.engine.SetRebalanceEnabled(manager, true))
	zero := sdkmath.ZeroInt()

	// A range entirely above the current price holds only asset0. The zero
	// asset1 side is expected, not a slippage failure.
	require.NoError(t, f.engine.Rebalance(manager, 1000, 2000, zero, zero))

	pos := f.engine.Position()
	assert.True(t, pos.Liquidity.IsPositive())
	// The recovered asset1 had nowhere to go and stays in the buffer.
	assert.True(t, f.engine.Buffer().Amount1.IsPositive())
}

func TestRebalanceMinimums(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	require.NoError(t, f.engine.SetRebalanceEnabled(manager, true))

	posBefore := f.engine.Position()
	err := f.engine.Rebalance(manager, -500, 500, sdkmath.NewInt(1<<50), sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrSlippageExceeded)

	// The failed rebalance left the position untouched.
	assert.Equal(t, posBefore, f.engine.Position())
}
