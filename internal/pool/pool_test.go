package pool

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amberfi/clr/internal/amm"
	"github.com/amberfi/clr/internal/events"
	"github.com/amberfi/clr/internal/token"
	"github.com/amberfi/clr/internal/types"
)

const (
	manager  = "manager"
	alice    = "alice"
	bob      = "bob"
	poolAddr = "pool-treasury"
	ammAddr  = "amm-pool"
)

var (
	atom = types.Asset{Denom: "uatom", Symbol: "ATOM", Decimals: 6}
	usdc = types.Asset{Denom: "uusdc", Symbol: "USDC", Decimals: 6}
)

// Ticks approximating a +/-3% band around price 1.
const (
	lowerTick = -296
	upperTick = 296
)

type fixture struct {
	t        *testing.T
	bank     *token.Bank
	sim      *amm.SimPool
	engine   *Engine
	recorder *events.MemoryRecorder
	now      time.Time
}

func newFixture(t *testing.T, feeRate string) *fixture {
	t.Helper()

	bank := token.NewBank()
	require.NoError(t, bank.RegisterAsset(atom))
	require.NoError(t, bank.RegisterAsset(usdc))

	sim, err := amm.NewSimPool(atom, usdc, sdkmath.LegacyOneDec(), sdkmath.LegacyMustNewDecFromStr(feeRate))
	require.NoError(t, err)
	sim.BindSettlement(bank, ammAddr, poolAddr)

	recorder := &events.MemoryRecorder{}
	engine, err := NewEngine(Config{
		Name:              "atom-usdc",
		Asset0:            atom,
		Asset1:            usdc,
		Address:           poolAddr,
		Manager:           manager,
		ReceiptDenom:      "clr-atom-usdc",
		Transferable:      true,
		LockWindow:        300 * time.Second,
		RebalanceCooldown: 24 * time.Hour,
		Bank:              bank,
		AMM:               sim,
		Recorder:          recorder,
	})
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		bank:     bank,
		sim:      sim,
		engine:   engine,
		recorder: recorder,
		now:      time.Unix(1_700_000_000, 0).UTC(),
	}
	engine.SetNowFunc(func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// fund mints both assets to the account and approves the pool to pull them.
func (f *fixture) fund(account types.Account, amount0, amount1 int64) {
	f.t.Helper()
	if amount0 > 0 {
		require.NoError(f.t, f.bank.Mint(account, atom.Denom, sdkmath.NewInt(amount0)))
	}
	if amount1 > 0 {
		require.NoError(f.t, f.bank.Mint(account, usdc.Denom, sdkmath.NewInt(amount1)))
	}
	require.NoError(f.t, f.bank.Approve(account, poolAddr, atom.Denom, sdkmath.NewInt(1<<60)))
	require.NoError(f.t, f.bank.Approve(account, poolAddr, usdc.Denom, sdkmath.NewInt(1<<60)))
}

// initialize mints the initial position with 1000 tokens of each asset.
func (f *fixture) initialize() {
	f.t.Helper()
	f.fund(manager, 1_000_000_000, 1_000_000_000)
	require.NoError(f.t, f.engine.MintInitial(manager, lowerTick, upperTick,
		sdkmath.NewInt(1_000_000_000), sdkmath.NewInt(1_000_000_000)))
}

// accrueFees credits pending fees on the position and funds the simulator's
// settlement account so collection can pay out.
func (f *fixture) accrueFees(fee0, fee1 int64) {
	f.t.Helper()
	handle := f.engine.Position().Handle
	require.NoError(f.t, f.sim.AccrueFees(handle, sdkmath.NewInt(fee0), sdkmath.NewInt(fee1)))
	if fee0 > 0 {
		require.NoError(f.t, f.bank.Mint(ammAddr, atom.Denom, sdkmath.NewInt(fee0)))
	}
	if fee1 > 0 {
		require.NoError(f.t, f.bank.Mint(ammAddr, usdc.Denom, sdkmath.NewInt(fee1)))
	}
}

func TestMintInitialLifecycle(t *testing.T) {
	f := newFixture(t, "0")

	f.fund(alice, 1_000_000, 1_000_000)
	_, err := f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.ErrorIs(t, err, ErrNotInitialized)

	err = f.engine.MintInitial(alice, lowerTick, upperTick, sdkmath.NewInt(1), sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrUnauthorized)

	f.initialize()

	pos := f.engine.Position()
	assert.True(t, pos.Initialized())
	assert.True(t, pos.Liquidity.IsPositive())
	// First mint is one-to-one with liquidity units.
	assert.Equal(t, pos.Liquidity, f.engine.Receipt().TotalSupply())
	assert.Equal(t, pos.Liquidity, f.engine.Receipt().BalanceOf(manager))

	err = f.engine.MintInitial(manager, lowerTick, upperTick, sdkmath.NewInt(1), sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrAlreadyInitialized)

	require.Len(t, f.recorder.OfType(events.TypePositionMinted), 1)
}

func TestCalculatePoolMintedAmountsClampsToBindingAsset(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()

	minted0, minted1, err := f.engine.CalculatePoolMintedAmounts(
		sdkmath.NewInt(10_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Asset1 is the binding constraint: consumed nearly whole, asset0 clamped.
	assert.True(t, minted1.LTE(sdkmath.NewInt(1_000_000)))
	assert.True(t, minted1.GTE(sdkmath.NewInt(999_990)))
	assert.True(t, minted0.LT(sdkmath.NewInt(10_000_000)))
	assert.True(t, minted0.IsPositive())
}

func TestCalculateAmountsMintedSingleToken(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()

	_, _, err := f.engine.CalculateAmountsMintedSingleToken("ufoo", sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrUnknownAsset)

	_, _, err = f.engine.CalculateAmountsMintedSingleToken(atom.Denom, sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrZeroAmount)

	amount0, amount1, err := f.engine.CalculateAmountsMintedSingleToken(atom.Denom, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// At price 1 in a symmetric band the split is near-even and the total
	// never exceeds the input.
	assert.True(t, amount0.IsPositive())
	assert.True(t, amount1.IsPositive())
	total := amount0.Add(amount1)
	assert.True(t, total.LTE(sdkmath.NewInt(1_000_000)))
	assert.True(t, total.GTE(sdkmath.NewInt(999_990)))
}

func TestDepositSingleThenFullWithdraw(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	f.fund(alice, 1_000_000, 0)

	minted, err := f.engine.DepositSingle(alice, atom.Denom, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.True(t, minted.IsPositive())

	// The deposit stamped the lock; a withdrawal inside the window fails.
	_, _, err = f.engine.Withdraw(alice, minted, sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrLockActive)

	f.advance(301 * time.Second)

	out0, out1, err := f.engine.Withdraw(alice, minted, sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)

	// At price 1 the round trip returns at least 99.9% of the input value.
	// The slight upside comes from the withdrawer's pro-rata slice of the
	// pre-existing buffer.
	value := out0.Add(out1)
	assert.True(t, value.GTE(sdkmath.NewInt(999_000)),
		"round trip returned %s of 1000000", value)
	assert.True(t, value.LTE(sdkmath.NewInt(1_001_000)))
	assert.True(t, f.engine.Receipt().BalanceOf(alice).IsZero())
}

func TestDepositRatioGuard(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	f.fund(alice, 10_000_000, 10_000_000)

	// Implied ratio 1.02 sits ~2.7% from the staked ratio.
	_, err := f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_020_000))
	require.ErrorIs(t, err, ErrPriceSlippage)

	// 0.995 is within the 1% band.
	minted, err := f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(995_000))
	require.NoError(t, err)
	assert.True(t, minted.IsPositive())
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	f.fund(alice, 1_000_000, 1_000_000)

	_, err := f.engine.Deposit(alice, sdkmath.ZeroInt(), sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrZeroAmount)

	require.NoError(t, f.engine.Pause(manager))
	_, err = f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.ErrorIs(t, err, ErrPaused)

	require.NoError(t, f.engine.Unpause(manager))
	_, err = f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
}

func TestWithdrawValidation(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	f.fund(alice, 1_000_000, 1_000_000)

	minted, err := f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	f.advance(301 * time.Second)

	_, _, err = f.engine.Withdraw(alice, sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrZeroAmount)

	_, _, err = f.engine.Withdraw(alice, minted.AddRaw(1), sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrExceedsBalance)

	// An unmeetable minimum fails before any state moves.
	supplyBefore := f.engine.Receipt().TotalSupply()
	liquidityBefore := f.engine.Position().Liquidity
	_, _, err = f.engine.Withdraw(alice, minted, sdkmath.NewInt(1<<50), sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrSlippageExceeded)
	assert.Equal(t, supplyBefore, f.engine.Receipt().TotalSupply())
	assert.Equal(t, liquidityBefore, f.engine.Position().Liquidity)

	_, _, err = f.engine.Withdraw(alice, minted, sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)
}

func TestTimeLockIndependenceAcrossAccounts(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	f.fund(alice, 2_000_000, 2_000_000)
	f.fund(bob, 2_000_000, 2_000_000)

	_, err := f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Alice's lock does not touch bob.
	_, err = f.engine.Deposit(bob, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	_, err = f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.ErrorIs(t, err, ErrLockActive)

	f.advance(301 * time.Second)
	_, err = f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
}

func TestReceiptTransferStampsLock(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	f.fund(alice, 1_000_000, 1_000_000)

	minted, err := f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Receipt transfers pass through the same lock as deposits.
	err = f.engine.Receipt().Transfer(alice, bob, minted)
	require.ErrorIs(t, err, ErrLockActive)

	f.advance(301 * time.Second)
	require.NoError(t, f.engine.Receipt().Transfer(alice, bob, minted))

	// The transfer restarted alice's window.
	_, err = f.engine.Deposit(alice, sdkmath.NewInt(1), sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrLockActive)
}

func TestSecondDepositorMintsFewerReceiptsAfterCompounding(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	f.fund(alice, 1_000_000, 1_000_000)
	f.fund(bob, 1_000_000, 1_000_000)

	aliceMinted, err := f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Fees compound into the position without minting receipts.
	f.accrueFees(50_000_000, 50_000_000)
	added, err := f.engine.CollectAndReinvest()
	require.NoError(t, err)
	require.True(t, added.IsPositive())

	bobMinted, err := f.engine.Deposit(bob, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Same nominal deposit buys fewer receipts once liquidity per receipt
	// has grown.
	assert.True(t, bobMinted.LT(aliceMinted), "bob %s, alice %s", bobMinted, aliceMinted)
}

func TestDepositSingleRefundsWhenSwapFails(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()

	// Ten times the venue's asset1 inventory: the balancing swap cannot
	// settle its output leg.
	f.fund(alice, 10_000_000_000, 0)
	aliceBefore := f.bank.BalanceOf(alice, atom.Denom)
	poolBefore := f.bank.BalanceOf(poolAddr, atom.Denom)
	supplyBefore := f.engine.Receipt().TotalSupply()
	liquidityBefore := f.engine.Position().Liquidity

	_, err := f.engine.DepositSingle(alice, atom.Denom, sdkmath.NewInt(10_000_000_000))
	require.Error(t, err)

	// The pulled funds come back; nothing sticks to the pool or the venue.
	assert.Equal(t, aliceBefore, f.bank.BalanceOf(alice, atom.Denom))
	assert.Equal(t, poolBefore, f.bank.BalanceOf(poolAddr, atom.Denom))
	assert.Equal(t, supplyBefore, f.engine.Receipt().TotalSupply())
	assert.Equal(t, liquidityBefore, f.engine.Position().Liquidity)

	// The failed attempt must not stamp the time-lock.
	f.fund(alice, 0, 1_000_000)
	minted, err := f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	assert.True(t, minted.IsPositive())
}

func TestShareConservationAcrossInterleavedFlows(t *testing.T) {
	f := newFixture(t, "0")
	f.initialize()
	f.fund(alice, 10_000_000, 10_000_000)
	f.fund(bob, 30_000_000, 30_000_000)

	receipt := f.engine.Receipt()
	checkSupply := func() {
		t.Helper()
		total := sdkmath.ZeroInt()
		for _, holder := range receipt.Holders() {
			total = total.Add(receipt.BalanceOf(holder))
		}
		require.True(t, total.Equal(receipt.TotalSupply()),
			"holder balances sum to %s, supply %s", total, receipt.TotalSupply())
	}
	checkSupply()

	aliceMinted, err := f.engine.Deposit(alice, sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	checkSupply()

	bobMinted, err := f.engine.Deposit(bob, sdkmath.NewInt(3_000_000), sdkmath.NewInt(3_000_000))
	require.NoError(t, err)
	checkSupply()

	f.advance(301 * time.Second)

	// Alice redeems in two slices, bob all at once.
	half := aliceMinted.QuoRaw(2)
	a0, a1, err := f.engine.Withdraw(alice, half, sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)
	checkSupply()

	f.advance(301 * time.Second)
	a0b, a1b, err := f.engine.Withdraw(alice, aliceMinted.Sub(half), sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)
	checkSupply()

	b0, b1, err := f.engine.Withdraw(bob, bobMinted, sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)
	checkSupply()

	assert.True(t, receipt.BalanceOf(alice).IsZero())
	assert.True(t, receipt.BalanceOf(bob).IsZero())
	require.True(t, receipt.TotalSupply().Equal(receipt.BalanceOf(manager)))

	// Redemption value per receipt matches across holders. Each withdrawal
	// truncates at most a few native units, so cross-multiplied values agree
	// within that many units of the receipt counts.
	valueAlice := a0.Add(a1).Add(a0b).Add(a1b)
	valueBob := b0.Add(b1)
	diff := valueAlice.Mul(bobMinted).Sub(valueBob.Mul(aliceMinted)).Abs()
	bound := aliceMinted.Add(bobMinted).MulRaw(8)
	assert.True(t, diff.LTE(bound), "per-receipt value diverges: alice %s/%s, bob %s/%s",
		valueAlice, aliceMinted, valueBob, bobMinted)
}
