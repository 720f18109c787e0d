/*

This file contains the share accounting engine and position ledger for one
pool instance: proportional receipt minting and burning against deposits and
withdrawals, single- and dual-asset deposit conversion, the slippage guards,
and the one-time initial position mint.

Every fund-moving operation validates completely before touching state, rolls
the reward accumulators forward before mutating stakes, and stamps the
time-lock only once it has succeeded.

*/

package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/amberfi/clr/internal/amm"
	"github.com/amberfi/clr/internal/events"
	"github.com/amberfi/clr/internal/logger"
	"github.com/amberfi/clr/internal/token"
	"github.com/amberfi/clr/internal/types"
	"github.com/amberfi/clr/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrZeroAmount         = errors.New("amount must be positive")
	ErrNotInitialized     = errors.New("position has not been initialized")
	ErrAlreadyInitialized = errors.New("position is already initialized")
	ErrPaused             = errors.New("pool is paused")
	ErrPriceSlippage      = errors.New("deposit ratio deviates beyond tolerance")
	ErrSlippageExceeded   = errors.New("returned amounts are below the supplied minimums")
	ErrUnauthorized       = errors.New("caller is not the pool manager")
	ErrExceedsBalance     = errors.New("receipt amount exceeds balance")
	ErrUnknownAsset       = errors.New("asset does not belong to this pool")
)

// maxRatioDeviation is the tolerated deviation of a deposit's implied ratio
// from the ratio recorded at the last stake: 1%.
var maxRatioDeviation = sdkmath.LegacyMustNewDecFromStr("0.01")

// RewardToucher rolls reward accumulators forward for an account. The reward
// distributor implements it; the engine calls it before every stake mutation.
type RewardToucher interface {
	Touch(account types.Account)
}

// Config holds the static parameters and collaborators of a pool instance.
type Config struct {
	Name    string
	Asset0  types.Asset
	Asset1  types.Asset
	Address types.Account // the pool's own ledger account
	Manager types.Account

	ReceiptDenom string
	Transferable bool

	LockWindow        time.Duration
	RebalanceCooldown time.Duration

	Bank     token.Ledger
	AMM      amm.PoolService
	Recorder events.Recorder
}

// Engine is the state machine for one pool instance. Public operations run to
// completion atomically relative to each other.
type Engine struct {
	mu     sync.Mutex
	logger zerolog.Logger
	cfg    Config

	bank     token.Ledger
	amm      amm.PoolService
	receipt  *token.Receipt
	rewards  RewardToucher
	recorder events.Recorder
	timelock *TimeLock
	nowFn    func() time.Time

	position types.Position
	buffer   types.BufferBalance
	// lastStakedRatio is the canonical asset1/asset0 requirement recorded at
	// the most recent stake. Zero when the position is one-sided.
	lastStakedRatio sdkmath.LegacyDec

	paused           bool
	rebalanceEnabled bool
	lastRebalance    time.Time

	totalFees0 sdkmath.Int
	totalFees1 sdkmath.Int
}

// NewEngine creates a pool engine. The receipt token is created here so its
// transfer guard is wired to this instance's time-lock.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Bank == nil || cfg.AMM == nil {
		return nil, errors.New("bank and AMM service are required")
	}
	for _, asset := range []types.Asset{cfg.Asset0, cfg.Asset1} {
		if _, err := cfg.Bank.Decimals(asset.Denom); err != nil {
			return nil, fmt.Errorf("asset %s: %w", asset.Denom, err)
		}
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = events.NopRecorder{}
	}
	if cfg.RebalanceCooldown <= 0 {
		cfg.RebalanceCooldown = DefaultRebalanceCooldown
	}

	timelock := NewTimeLock(cfg.LockWindow)
	receipt := token.NewReceipt(cfg.ReceiptDenom, cfg.Transferable, timelock)

	return &Engine{
		logger:          logger.GetForComponent("pool_engine"),
		cfg:             cfg,
		bank:            cfg.Bank,
		amm:             cfg.AMM,
		receipt:         receipt,
		recorder:        recorder,
		timelock:        timelock,
		nowFn:           time.Now,
		lastStakedRatio: sdkmath.LegacyZeroDec(),
		totalFees0:      sdkmath.ZeroInt(),
		totalFees1:      sdkmath.ZeroInt(),
	}, nil
}

// SetRewards wires the reward distributor's touch hook.
func (e *Engine) SetRewards(rewards RewardToucher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rewards = rewards
}

// SetNowFunc overrides the time source for the engine and its time-lock.
// Tests only.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
	e.timelock.SetNowFunc(now)
}

// Receipt returns the pool's receipt token.
func (e *Engine) Receipt() *token.Receipt { return e.receipt }

// TimeLock returns the pool's time-lock guard.
func (e *Engine) TimeLock() *TimeLock { return e.timelock }

// Address returns the pool's ledger account.
func (e *Engine) Address() types.Account { return e.cfg.Address }

// Position returns a copy of the active position.
func (e *Engine) Position() types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// Buffer returns a copy of the uninvested buffer balances.
func (e *Engine) Buffer() types.BufferBalance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer
}

// Assets returns the pool's asset pair.
func (e *Engine) Assets() (types.Asset, types.Asset) {
	return e.cfg.Asset0, e.cfg.Asset1
}

// Pause stops deposits. Manager only.
func (e *Engine) Pause(caller types.Account) error {
	if caller != e.cfg.Manager {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	e.logger.Warn().Str("pool", e.cfg.Name).Msg("Pool paused")
	return nil
}

// Unpause resumes deposits. Manager only.
func (e *Engine) Unpause(caller types.Account) error {
	if caller != e.cfg.Manager {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.logger.Info().Str("pool", e.cfg.Name).Msg("Pool unpaused")
	return nil
}

// toDec converts a native amount of one pool asset to canonical fixed point.
func (e *Engine) toDec(amount sdkmath.Int, asset types.Asset) sdkmath.LegacyDec {
	return utils.ToCanonicalDec(amount, asset.Decimals)
}

// toNative converts a canonical value to native units, truncating.
func (e *Engine) toNative(amount sdkmath.LegacyDec, asset types.Asset) sdkmath.Int {
	return utils.FromCanonicalDec(amount, asset.Decimals)
}

// rangePrices resolves the active position's bounds. Caller holds the lock.
func (e *Engine) rangePrices() (lower, upper sdkmath.LegacyDec, err error) {
	lower, err = amm.TickToPrice(e.position.LowerTick)
	if err != nil {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), err
	}
	upper, err = amm.TickToPrice(e.position.UpperTick)
	if err != nil {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), err
	}
	return lower, upper, nil
}

// unitAmounts returns the canonical asset amounts backing one unit of
// liquidity at the current price. Caller holds the lock.
func (e *Engine) unitAmounts(price sdkmath.LegacyDec) (u0, u1 sdkmath.LegacyDec, err error) {
	lower, upper, err := e.rangePrices()
	if err != nil {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), err
	}
	return amm.AmountsForLiquidity(price, lower, upper, sdkmath.LegacyOneDec())
}

// stakedRatio derives the asset1-per-asset0 requirement of the position at
// the given price. Zero for one-sided ranges. Caller holds the lock.
func (e *Engine) stakedRatio(price sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	u0, u1, err := e.unitAmounts(price)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if !u0.IsPositive() || !u1.IsPositive() {
		return sdkmath.LegacyZeroDec(), nil
	}
	return u1.Quo(u0), nil
}

// CalculatePoolMintedAmounts clamps a proposed dual-asset deposit down to
// whichever asset is the binding constraint at the current position ratio.
// Deterministic, no side effects; outputs never exceed the inputs.
func (e *Engine) CalculatePoolMintedAmounts(amount0, amount1 sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calculatePoolMintedAmountsLocked(amount0, amount1)
}

func (e *Engine) calculatePoolMintedAmountsLocked(amount0, amount1 sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if !e.position.Initialized() {
		return zero, zero, ErrNotInitialized
	}
	price, err := e.amm.QuotePrice()
	if err != nil {
		return zero, zero, err
	}
	lower, upper, err := e.rangePrices()
	if err != nil {
		return zero, zero, err
	}

	dec0 := e.toDec(amount0, e.cfg.Asset0)
	dec1 := e.toDec(amount1, e.cfg.Asset1)
	liq, err := amm.LiquidityForAmounts(price, lower, upper, dec0, dec1)
	if err != nil {
		return zero, zero, err
	}
	need0, need1, err := amm.AmountsForLiquidity(price, lower, upper, liq)
	if err != nil {
		return zero, zero, err
	}

	minted0 := sdkmath.MinInt(e.toNative(need0, e.cfg.Asset0), amount0)
	minted1 := sdkmath.MinInt(e.toNative(need1, e.cfg.Asset1), amount1)
	return minted0, minted1, nil
}

// CalculateAmountsMintedSingleToken converts a single-asset input into the
// deposit pair matching the current position ratio, pricing part of the flow
// through a hypothetical swap at the mid price. Deterministic, no side
// effects.
func (e *Engine) CalculateAmountsMintedSingleToken(denom string, amount sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.singleTokenAmountsLocked(denom, amount)
}

func (e *Engine) singleTokenAmountsLocked(denom string, amount sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if !e.position.Initialized() {
		return zero, zero, ErrNotInitialized
	}
	if !amount.IsPositive() {
		return zero, zero, ErrZeroAmount
	}
	if denom != e.cfg.Asset0.Denom && denom != e.cfg.Asset1.Denom {
		return zero, zero, fmt.Errorf("%w: %s", ErrUnknownAsset, denom)
	}

	price, err := e.amm.QuotePrice()
	if err != nil {
		return zero, zero, err
	}
	u0, u1, err := e.unitAmounts(price)
	if err != nil {
		return zero, zero, err
	}

	if denom == e.cfg.Asset0.Denom {
		c := e.toDec(amount, e.cfg.Asset0)
		switch {
		case !u0.IsPositive():
			// Position is all asset1: the entire input is swapped.
			return zero, e.toNative(c.Mul(price), e.cfg.Asset1), nil
		case !u1.IsPositive():
			return amount, zero, nil
		default:
			// Swap x of the input so that (c-x) : x*P matches the ratio.
			ratio := u1.Quo(u0)
			x := ratio.Mul(c).Quo(price.Add(ratio))
			return e.toNative(c.Sub(x), e.cfg.Asset0), e.toNative(x.Mul(price), e.cfg.Asset1), nil
		}
	}

	c := e.toDec(amount, e.cfg.Asset1)
	switch {
	case !u1.IsPositive():
		// Position is all asset0: the entire input is swapped.
		return e.toNative(c.Quo(price), e.cfg.Asset0), zero, nil
	case !u0.IsPositive():
		return zero, amount, nil
	default:
		ratio := u1.Quo(u0)
		y := c.Mul(price).Quo(ratio.Add(price))
		return e.toNative(y.Quo(price), e.cfg.Asset0), e.toNative(c.Sub(y), e.cfg.Asset1), nil
	}
}

// MintInitial creates the position. One-time, manager-gated; any later call
// fails with ErrAlreadyInitialized.
func (e *Engine) MintInitial(caller types.Account, lowerTick, upperTick int, amount0, amount1 sdkmath.Int) error {
	if caller != e.cfg.Manager {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.position.Initialized() {
		return ErrAlreadyInitialized
	}
	if !amount0.IsPositive() && !amount1.IsPositive() {
		return ErrZeroAmount
	}

	if err := e.pullFromCaller(caller, amount0, amount1); err != nil {
		return err
	}

	handle, liquidity, used0, used1, err := e.amm.MintPosition(lowerTick, upperTick, amount0, amount1)
	if err != nil {
		e.refundToCaller(caller, amount0, amount1)
		return err
	}

	e.position = types.Position{
		LowerTick: lowerTick,
		UpperTick: upperTick,
		Liquidity: liquidity,
		Handle:    handle,
	}
	e.creditBuffer(amount0.Sub(used0), amount1.Sub(used1))
	if err := e.refreshStakedRatio(); err != nil {
		return err
	}

	// First deposit: receipts are minted one-to-one with liquidity units.
	if err := e.receipt.Mint(caller, liquidity); err != nil {
		return err
	}
	e.timelock.Stamp(caller)

	now := e.nowFn()
	e.recorder.Record(events.New(events.TypePositionMinted, now, map[string]string{
		"pool":       e.cfg.Name,
		"lower_tick": fmt.Sprintf("%d", lowerTick),
		"upper_tick": fmt.Sprintf("%d", upperTick),
		"liquidity":  liquidity.String(),
	}))
	e.recorder.Record(events.New(events.TypeDeposit, now, map[string]string{
		"pool":    e.cfg.Name,
		"account": caller,
		"amount0": amount0.String(),
		"amount1": amount1.String(),
		"minted":  liquidity.String(),
	}))
	e.logger.Info().
		Str("pool", e.cfg.Name).
		Int("lower_tick", lowerTick).
		Int("upper_tick", upperTick).
		Str("liquidity", liquidity.String()).
		Msg("Initial position minted")
	return nil
}

// pullFromCaller moves deposit amounts into the pool account. Caller holds
// the lock.
func (e *Engine) pullFromCaller(caller types.Account, amount0, amount1 sdkmath.Int) error {
	if amount0.IsPositive() {
		if err := e.bank.TransferFrom(e.cfg.Address, caller, e.cfg.Address, e.cfg.Asset0.Denom, amount0); err != nil {
			return err
		}
	}
	if amount1.IsPositive() {
		if err := e.bank.TransferFrom(e.cfg.Address, caller, e.cfg.Address, e.cfg.Asset1.Denom, amount1); err != nil {
			// Unwind the first pull so the deposit has no partial effect.
			if amount0.IsPositive() {
				if refundErr := e.bank.Transfer(e.cfg.Address, caller, e.cfg.Asset0.Denom, amount0); refundErr != nil {
					e.logger.Error().Err(refundErr).Msg("Failed to unwind deposit pull")
				}
			}
			return err
		}
	}
	return nil
}

// refundToCaller returns previously pulled funds after a failed mint.
func (e *Engine) refundToCaller(caller types.Account, amount0, amount1 sdkmath.Int) {
	if amount0.IsPositive() {
		if err := e.bank.Transfer(e.cfg.Address, caller, e.cfg.Asset0.Denom, amount0); err != nil {
			e.logger.Error().Err(err).Msg("Failed to refund pulled funds")
		}
	}
	if amount1.IsPositive() {
		if err := e.bank.Transfer(e.cfg.Address, caller, e.cfg.Asset1.Denom, amount1); err != nil {
			e.logger.Error().Err(err).Msg("Failed to refund pulled funds")
		}
	}
}

func (e *Engine) creditBuffer(delta0, delta1 sdkmath.Int) {
	if e.buffer.Amount0.IsNil() {
		e.buffer.Amount0 = sdkmath.ZeroInt()
	}
	if e.buffer.Amount1.IsNil() {
		e.buffer.Amount1 = sdkmath.ZeroInt()
	}
	if !delta0.IsNil() && delta0.IsPositive() {
		e.buffer.Amount0 = e.buffer.Amount0.Add(delta0)
	}
	if !delta1.IsNil() && delta1.IsPositive() {
		e.buffer.Amount1 = e.buffer.Amount1.Add(delta1)
	}
}

// refreshStakedRatio records the ratio of the just-staked position. Caller
// holds the lock.
func (e *Engine) refreshStakedRatio() error {
	price, err := e.amm.QuotePrice()
	if err != nil {
		return err
	}
	ratio, err := e.stakedRatio(price)
	if err != nil {
		return err
	}
	e.lastStakedRatio = ratio
	return nil
}

// touchRewards must run before any stake mutation. Caller holds the lock.
func (e *Engine) touchRewards(account types.Account) {
	if e.rewards != nil {
		e.rewards.Touch(account)
	}
}

// Deposit converts a dual-asset deposit into receipt tokens. The deposit's
// implied ratio must sit within 1% of the last staked ratio; both amounts
// must be nonzero.
func (e *Engine) Deposit(caller types.Account, amount0, amount1 sdkmath.Int) (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	zero := sdkmath.ZeroInt()
	if e.paused {
		return zero, ErrPaused
	}
	if !e.position.Initialized() {
		return zero, ErrNotInitialized
	}
	if !amount0.IsPositive() || !amount1.IsPositive() {
		return zero, ErrZeroAmount
	}
	if err := e.timelock.Check(caller); err != nil {
		return zero, err
	}

	if e.lastStakedRatio.IsPositive() {
		implied := e.toDec(amount1, e.cfg.Asset1).Quo(e.toDec(amount0, e.cfg.Asset0))
		deviation := implied.Sub(e.lastStakedRatio).Abs().Quo(e.lastStakedRatio)
		if deviation.GT(maxRatioDeviation) {
			return zero, fmt.Errorf("%w: deviation %s", ErrPriceSlippage, deviation)
		}
	}

	minted0, minted1, err := e.calculatePoolMintedAmountsLocked(amount0, amount1)
	if err != nil {
		return zero, err
	}
	if !minted0.IsPositive() && !minted1.IsPositive() {
		return zero, ErrZeroAmount
	}

	// Accrual checkpoint before the stake changes.
	e.touchRewards(caller)

	if err := e.pullFromCaller(caller, minted0, minted1); err != nil {
		return zero, err
	}
	return e.stakeAndMintLocked(caller, minted0, minted1)
}

// DepositSingle converts a single-asset deposit into receipt tokens: the
// input is split per the position's ratio, the excess side swapped at the
// mid price, and the resulting pair staked. Leftover dust lands in the
// buffer.
func (e *Engine) DepositSingle(caller types.Account, denom string, amount sdkmath.Int) (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	zero := sdkmath.ZeroInt()
	if e.paused {
		return zero, ErrPaused
	}
	if !e.position.Initialized() {
		return zero, ErrNotInitialized
	}
	if err := e.timelock.Check(caller); err != nil {
		return zero, err
	}
	keep0, keep1, err := e.singleTokenAmountsLocked(denom, amount)
	if err != nil {
		return zero, err
	}

	// Accrual checkpoint before the stake changes.
	e.touchRewards(caller)

	if denom == e.cfg.Asset0.Denom {
		if err := e.pullFromCaller(caller, amount, zero); err != nil {
			return zero, err
		}
		avail0, avail1 := amount, zero
		if swapIn := amount.Sub(keep0); swapIn.IsPositive() {
			out, err := e.amm.Swap(swapIn, true)
			if err != nil {
				// The venue could not fill the balancing swap; return the
				// pulled deposit untouched.
				e.refundToCaller(caller, amount, zero)
				return zero, err
			}
			avail0, avail1 = keep0, out
		}
		return e.stakeAndMintLocked(caller, avail0, avail1)
	}

	if err := e.pullFromCaller(caller, zero, amount); err != nil {
		return zero, err
	}
	avail0, avail1 := zero, amount
	if swapIn := amount.Sub(keep1); swapIn.IsPositive() {
		out, err := e.amm.Swap(swapIn, false)
		if err != nil {
			e.refundToCaller(caller, zero, amount)
			return zero, err
		}
		avail0, avail1 = out, keep1
	}
	return e.stakeAndMintLocked(caller, avail0, avail1)
}

// expectedStakeLocked computes the liquidity the venue would add for the
// given pair, with the venue's own truncation. Caller holds the lock.
func (e *Engine) expectedStakeLocked(amount0, amount1 sdkmath.Int) (sdkmath.Int, error) {
	price, err := e.amm.QuotePrice()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	lower, upper, err := e.rangePrices()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	liq, err := amm.LiquidityForAmounts(price, lower, upper,
		e.toDec(amount0, e.cfg.Asset0), e.toDec(amount1, e.cfg.Asset1))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return sdkmath.NewIntFromBigInt(liq.BigInt()), nil
}

// stakeAndMintLocked stakes amounts already held by the pool, credits any
// unstaked remainder to the buffer and mints receipts pro rata to the
// liquidity added. Caller holds the lock and has passed the time-lock check.
// Every failure before the venue stake refunds the pulled funds, so a failed
// deposit leaves the caller whole.
func (e *Engine) stakeAndMintLocked(caller types.Account, avail0, avail1 sdkmath.Int) (sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()

	minted0, minted1, err := e.calculatePoolMintedAmountsLocked(avail0, avail1)
	if err != nil {
		e.refundToCaller(caller, avail0, avail1)
		return zero, err
	}

	supplyBefore := e.receipt.TotalSupply()
	liquidityBefore := e.position.Liquidity

	// The receipt amount is prechecked against the venue's liquidity math, so
	// a deposit too small to mint anything is refunded before any stake moves.
	expectedLiquidity, err := e.expectedStakeLocked(minted0, minted1)
	if err != nil {
		e.refundToCaller(caller, avail0, avail1)
		return zero, err
	}
	if !expectedLiquidity.Mul(supplyBefore).Quo(liquidityBefore).IsPositive() {
		e.refundToCaller(caller, avail0, avail1)
		return zero, fmt.Errorf("%w: deposit too small to mint receipts", ErrZeroAmount)
	}

	liquidityAdded, used0, used1, err := e.amm.IncreasePosition(e.position.Handle, minted0, minted1)
	if err != nil {
		e.refundToCaller(caller, avail0, avail1)
		return zero, err
	}
	e.creditBuffer(avail0.Sub(used0), avail1.Sub(used1))
	e.position.Liquidity = e.position.Liquidity.Add(liquidityAdded)

	receiptMinted := liquidityAdded.Mul(supplyBefore).Quo(liquidityBefore)
	if err := e.receipt.Mint(caller, receiptMinted); err != nil {
		return zero, err
	}
	if err := e.refreshStakedRatio(); err != nil {
		// The stake has settled; a stale ratio only widens the deposit guard.
		e.logger.Warn().Err(err).Str("pool", e.cfg.Name).Msg("Failed to refresh staked ratio")
	}
	e.timelock.Stamp(caller)

	e.recorder.Record(events.New(events.TypeDeposit, e.nowFn(), map[string]string{
		"pool":    e.cfg.Name,
		"account": caller,
		"amount0": used0.String(),
		"amount1": used1.String(),
		"minted":  receiptMinted.String(),
	}))
	e.logger.Debug().
		Str("pool", e.cfg.Name).
		Str("account", caller).
		Str("minted", receiptMinted.String()).
		Msg("Deposit")
	return receiptMinted, nil
}

// Withdraw redeems receipt tokens for the caller's proportional share of the
// staked position plus the buffer. The returned amounts must meet the
// caller-supplied minimums.
func (e *Engine) Withdraw(caller types.Account, receiptAmount, minAmount0, minAmount1 sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	zero := sdkmath.ZeroInt()
	if !e.position.Initialized() {
		return zero, zero, ErrNotInitialized
	}
	if !receiptAmount.IsPositive() {
		return zero, zero, ErrZeroAmount
	}
	balance := e.receipt.BalanceOf(caller)
	if balance.LT(receiptAmount) {
		return zero, zero, fmt.Errorf("%w: have %s, redeem %s", ErrExceedsBalance, balance, receiptAmount)
	}
	if err := e.timelock.Check(caller); err != nil {
		return zero, zero, err
	}

	// Accrual checkpoint before the stake changes.
	e.touchRewards(caller)

	supply := e.receipt.TotalSupply()
	liquidityOut := e.position.Liquidity.Mul(receiptAmount).Quo(supply)
	bufferShare0 := e.buffer.Amount0.Mul(receiptAmount).Quo(supply)
	bufferShare1 := e.buffer.Amount1.Mul(receiptAmount).Quo(supply)

	// The minimums are checked against the expected amounts before any
	// state moves, so a failing withdrawal has no partial effect.
	expected0, expected1, err := e.expectedUnstakeLocked(liquidityOut)
	if err != nil {
		return zero, zero, err
	}
	if expected0.Add(bufferShare0).LT(minAmount0) || expected1.Add(bufferShare1).LT(minAmount1) {
		return zero, zero, fmt.Errorf("%w: got %s/%s, want >= %s/%s",
			ErrSlippageExceeded, expected0.Add(bufferShare0), expected1.Add(bufferShare1), minAmount0, minAmount1)
	}

	unstaked0, unstaked1 := zero, zero
	if liquidityOut.IsPositive() {
		unstaked0, unstaked1, err = e.amm.DecreasePosition(e.position.Handle, liquidityOut)
		if err != nil {
			return zero, zero, err
		}
		e.position.Liquidity = e.position.Liquidity.Sub(liquidityOut)
	}

	total0 := unstaked0.Add(bufferShare0)
	total1 := unstaked1.Add(bufferShare1)

	if err := e.receipt.Burn(caller, receiptAmount); err != nil {
		return zero, zero, err
	}
	e.buffer.Amount0 = e.buffer.Amount0.Sub(bufferShare0)
	e.buffer.Amount1 = e.buffer.Amount1.Sub(bufferShare1)

	if total0.IsPositive() {
		if err := e.bank.Transfer(e.cfg.Address, caller, e.cfg.Asset0.Denom, total0); err != nil {
			return zero, zero, err
		}
	}
	if total1.IsPositive() {
		if err := e.bank.Transfer(e.cfg.Address, caller, e.cfg.Asset1.Denom, total1); err != nil {
			return zero, zero, err
		}
	}
	e.timelock.Stamp(caller)

	e.recorder.Record(events.New(events.TypeWithdraw, e.nowFn(), map[string]string{
		"pool":    e.cfg.Name,
		"account": caller,
		"burned":  receiptAmount.String(),
		"amount0": total0.String(),
		"amount1": total1.String(),
	}))
	e.logger.Debug().
		Str("pool", e.cfg.Name).
		Str("account", caller).
		Str("burned", receiptAmount.String()).
		Msg("Withdraw")
	return total0, total1, nil
}

// expectedUnstakeLocked computes the native amounts that unstaking the given
// liquidity would return at the current price. Caller holds the lock.
func (e *Engine) expectedUnstakeLocked(liquidity sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if !liquidity.IsPositive() {
		return zero, zero, nil
	}
	price, err := e.amm.QuotePrice()
	if err != nil {
		return zero, zero, err
	}
	lower, upper, err := e.rangePrices()
	if err != nil {
		return zero, zero, err
	}
	dec0, dec1, err := amm.AmountsForLiquidity(price, lower, upper, sdkmath.LegacyNewDecFromIntWithPrec(liquidity, 18))
	if err != nil {
		return zero, zero, err
	}
	return e.toNative(dec0, e.cfg.Asset0), e.toNative(dec1, e.cfg.Asset1), nil
}

// CollectFees pulls accrued trading fees into the buffer.
func (e *Engine) CollectFees() (sdkmath.Int, sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collectFeesLocked()
}

func (e *Engine) collectFeesLocked() (sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if !e.position.Initialized() {
		return zero, zero, ErrNotInitialized
	}
	fee0, fee1, err := e.amm.CollectFees(e.position.Handle)
	if err != nil {
		return zero, zero, err
	}
	if fee0.IsPositive() || fee1.IsPositive() {
		e.creditBuffer(fee0, fee1)
		e.totalFees0 = e.totalFees0.Add(fee0)
		e.totalFees1 = e.totalFees1.Add(fee1)
		e.recorder.Record(events.New(events.TypeFeeCollected, e.nowFn(), map[string]string{
			"pool": e.cfg.Name,
			"fee0": fee0.String(),
			"fee1": fee1.String(),
		}))
	}
	return fee0, fee1, nil
}

// Snapshot captures the pool's state for the reporting layers.
func (e *Engine) Snapshot(cycle int) types.PoolSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	price := ""
	if p, err := e.amm.QuotePrice(); err == nil {
		price = p.String()
	}
	return types.PoolSnapshot{
		CycleNumber:    cycle,
		Timestamp:      e.nowFn(),
		PoolName:       e.cfg.Name,
		LowerTick:      e.position.LowerTick,
		UpperTick:      e.position.UpperTick,
		Liquidity:      e.position.Liquidity,
		Buffer0:        e.buffer.Amount0,
		Buffer1:        e.buffer.Amount1,
		TotalSupply:    e.receipt.TotalSupply(),
		MidPrice:       price,
		FeesCollected0: e.totalFees0,
		FeesCollected1: e.totalFees1,
	}
}
