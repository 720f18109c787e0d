/*

This file contains a deterministic in-process implementation of PoolService.
It backs the test suites and clrd's sim mode. Swaps execute at the pool's mid
price with a proportional fee and no price impact; the price only moves when
the operator (or a test) sets it explicitly. This matches the single-hop
constant-product-like response the buffer rebalancer's closed form assumes.

*/

package amm

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/amberfi/clr/internal/logger"
	"github.com/amberfi/clr/internal/token"
	"github.com/amberfi/clr/internal/types"
	"github.com/amberfi/clr/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownHandle   = errors.New("position handle is unknown")
	ErrZeroSwapAmount  = errors.New("swap amount must be positive")
	ErrZeroLiquidity   = errors.New("liquidity must be positive")
	ErrExcessLiquidity = errors.New("liquidity exceeds position holdings")
)

type simPosition struct {
	lowerTick, upperTick int
	lower, upper         sdkmath.LegacyDec
	liquidity            sdkmath.LegacyDec
	fee0, fee1           sdkmath.Int
}

// SimPool is an in-memory AMM pool of two assets.
type SimPool struct {
	mu         sync.Mutex
	logger     zerolog.Logger
	asset0     types.Asset
	asset1     types.Asset
	price      sdkmath.LegacyDec
	feeRate    sdkmath.LegacyDec
	nextHandle uint64
	positions  map[types.PositionHandle]*simPosition

	// Optional settlement binding. When set, every operation moves the
	// underlying tokens between the bound vault account and the pool's own
	// account, the way a live venue adapter would.
	bank         token.Ledger
	account      types.Account
	vaultAccount types.Account
}

// NewSimPool creates a simulated pool at the given mid price (canonical
// asset1 per asset0) with the given proportional swap fee (e.g. 0.003).
func NewSimPool(asset0, asset1 types.Asset, price, feeRate sdkmath.LegacyDec) (*SimPool, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	if feeRate.IsNegative() || feeRate.GTE(sdkmath.LegacyOneDec()) {
		return nil, fmt.Errorf("%w: fee rate %s", ErrInvalidPrice, feeRate)
	}
	return &SimPool{
		logger:    logger.GetForComponent("sim_pool"),
		asset0:    asset0,
		asset1:    asset1,
		price:     price,
		feeRate:   feeRate,
		positions: make(map[types.PositionHandle]*simPosition),
	}, nil
}

// BindSettlement wires the ledger accounts operations settle against. Without
// a binding the simulator only does the math, which is enough for pure-math
// tests.
func (s *SimPool) BindSettlement(bank token.Ledger, ammAccount, vaultAccount types.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bank = bank
	s.account = ammAccount
	s.vaultAccount = vaultAccount
}

// Account returns the simulator's own ledger account, if bound.
func (s *SimPool) Account() types.Account { return s.account }

// settleIn pulls amounts from the vault, settleOut pays them back. Both are
// no-ops on zero amounts or when no ledger is bound. Caller holds the lock.
func (s *SimPool) settleIn(denom string, amount sdkmath.Int) error {
	if s.bank == nil || amount.IsNil() || !amount.IsPositive() {
		return nil
	}
	return s.bank.Transfer(s.vaultAccount, s.account, denom, amount)
}

func (s *SimPool) settleOut(denom string, amount sdkmath.Int) error {
	if s.bank == nil || amount.IsNil() || !amount.IsPositive() {
		return nil
	}
	return s.bank.Transfer(s.account, s.vaultAccount, denom, amount)
}

// SetPrice moves the pool's mid price. Sim-mode price feed and tests only.
func (s *SimPool) SetPrice(price sdkmath.LegacyDec) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = price
	return nil
}

// QuotePrice implements PoolService.
func (s *SimPool) QuotePrice() (sdkmath.LegacyDec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price, nil
}

func (s *SimPool) toDec(amount sdkmath.Int, asset types.Asset) sdkmath.LegacyDec {
	return utils.ToCanonicalDec(amount, asset.Decimals)
}

func (s *SimPool) toNative(amount sdkmath.LegacyDec, asset types.Asset) sdkmath.Int {
	return utils.FromCanonicalDec(amount, asset.Decimals)
}

func liquidityToInt(l sdkmath.LegacyDec) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(l.BigInt())
}

func liquidityFromInt(l sdkmath.Int) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDecFromIntWithPrec(l, 18)
}

// MintPosition implements PoolService.
func (s *SimPool) MintPosition(lowerTick, upperTick int, amount0, amount1 sdkmath.Int) (types.PositionHandle, sdkmath.Int, sdkmath.Int, sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	zero := sdkmath.ZeroInt()
	lower, err := TickToPrice(lowerTick)
	if err != nil {
		return 0, zero, zero, zero, err
	}
	upper, err := TickToPrice(upperTick)
	if err != nil {
		return 0, zero, zero, zero, err
	}

	liq, used0, used1, err := s.computeAdd(lower, upper, amount0, amount1)
	if err != nil {
		return 0, zero, zero, zero, err
	}
	if err := s.settleIn(s.asset0.Denom, used0); err != nil {
		return 0, zero, zero, zero, err
	}
	if err := s.settleIn(s.asset1.Denom, used1); err != nil {
		return 0, zero, zero, zero, err
	}

	s.nextHandle++
	handle := types.PositionHandle(s.nextHandle)
	s.positions[handle] = &simPosition{
		lowerTick: lowerTick,
		upperTick: upperTick,
		lower:     lower,
		upper:     upper,
		liquidity: liq,
		fee0:      sdkmath.ZeroInt(),
		fee1:      sdkmath.ZeroInt(),
	}

	s.logger.Debug().
		Uint64("handle", uint64(handle)).
		Int("lower_tick", lowerTick).
		Int("upper_tick", upperTick).
		Str("liquidity", liq.String()).
		Msg("Minted position")

	return handle, liquidityToInt(liq), used0, used1, nil
}

// computeAdd solves the liquidity and consumed amounts for an add at the
// current price. Caller holds the lock.
func (s *SimPool) computeAdd(lower, upper sdkmath.LegacyDec, amount0, amount1 sdkmath.Int) (sdkmath.LegacyDec, sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	dec0 := s.toDec(amount0, s.asset0)
	dec1 := s.toDec(amount1, s.asset1)

	liq, err := LiquidityForAmounts(s.price, lower, upper, dec0, dec1)
	if err != nil {
		return sdkmath.LegacyZeroDec(), zero, zero, err
	}
	if !liq.IsPositive() {
		return sdkmath.LegacyZeroDec(), zero, zero, fmt.Errorf("%w: computed liquidity is zero", ErrZeroLiquidity)
	}

	need0, need1, err := AmountsForLiquidity(s.price, lower, upper, liq)
	if err != nil {
		return sdkmath.LegacyZeroDec(), zero, zero, err
	}

	used0 := sdkmath.MinInt(s.toNative(need0, s.asset0), amount0)
	used1 := sdkmath.MinInt(s.toNative(need1, s.asset1), amount1)
	return liq, used0, used1, nil
}

// IncreasePosition implements PoolService.
func (s *SimPool) IncreasePosition(handle types.PositionHandle, amount0, amount1 sdkmath.Int) (sdkmath.Int, sdkmath.Int, sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	zero := sdkmath.ZeroInt()
	pos, ok := s.positions[handle]
	if !ok {
		return zero, zero, zero, fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}

	liq, used0, used1, err := s.computeAdd(pos.lower, pos.upper, amount0, amount1)
	if err != nil {
		return zero, zero, zero, err
	}
	if err := s.settleIn(s.asset0.Denom, used0); err != nil {
		return zero, zero, zero, err
	}
	if err := s.settleIn(s.asset1.Denom, used1); err != nil {
		return zero, zero, zero, err
	}
	pos.liquidity = pos.liquidity.Add(liq)
	return liquidityToInt(liq), used0, used1, nil
}

// DecreasePosition implements PoolService.
func (s *SimPool) DecreasePosition(handle types.PositionHandle, liquidity sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decreaseLocked(handle, liquidity)
}

func (s *SimPool) decreaseLocked(handle types.PositionHandle, liquidity sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	pos, ok := s.positions[handle]
	if !ok {
		return zero, zero, fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}
	if !liquidity.IsPositive() {
		return zero, zero, ErrZeroLiquidity
	}
	liqDec := liquidityFromInt(liquidity)
	if liqDec.GT(pos.liquidity) {
		return zero, zero, fmt.Errorf("%w: have %s, want %s", ErrExcessLiquidity, pos.liquidity, liqDec)
	}

	amount0, amount1, err := AmountsForLiquidity(s.price, pos.lower, pos.upper, liqDec)
	if err != nil {
		return zero, zero, err
	}
	out0 := s.toNative(amount0, s.asset0)
	out1 := s.toNative(amount1, s.asset1)
	if err := s.settleOut(s.asset0.Denom, out0); err != nil {
		return zero, zero, err
	}
	if err := s.settleOut(s.asset1.Denom, out1); err != nil {
		return zero, zero, err
	}
	pos.liquidity = pos.liquidity.Sub(liqDec)
	return out0, out1, nil
}

// BurnPosition implements PoolService. Pending fees must be collected first;
// burning forfeits anything uncollected.
func (s *SimPool) BurnPosition(handle types.PositionHandle) (sdkmath.Int, sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[handle]
	if !ok {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}

	amount0 := sdkmath.ZeroInt()
	amount1 := sdkmath.ZeroInt()
	if pos.liquidity.IsPositive() {
		var err error
		amount0, amount1, err = s.decreaseLocked(handle, liquidityToInt(pos.liquidity))
		if err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
	}
	delete(s.positions, handle)

	s.logger.Debug().Uint64("handle", uint64(handle)).Msg("Burned position")
	return amount0, amount1, nil
}

// Swap implements PoolService. The fee is charged on the input amount; output
// is computed at the mid price with no impact.
func (s *SimPool) Swap(amountIn sdkmath.Int, zeroForOne bool) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !amountIn.IsPositive() {
		return sdkmath.ZeroInt(), ErrZeroSwapAmount
	}

	feeMul := sdkmath.LegacyOneDec().Sub(s.feeRate)
	var out sdkmath.Int
	var inDenom, outDenom string
	if zeroForOne {
		in := s.toDec(amountIn, s.asset0).Mul(feeMul)
		out = s.toNative(in.Mul(s.price), s.asset1)
		inDenom, outDenom = s.asset0.Denom, s.asset1.Denom
	} else {
		in := s.toDec(amountIn, s.asset1).Mul(feeMul)
		out = s.toNative(in.Quo(s.price), s.asset0)
		inDenom, outDenom = s.asset1.Denom, s.asset0.Denom
	}
	if err := s.settleIn(inDenom, amountIn); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := s.settleOut(outDenom, out); err != nil {
		// Return the input so a failed swap has no partial effect.
		if refundErr := s.settleOut(inDenom, amountIn); refundErr != nil {
			s.logger.Error().Err(refundErr).Str("denom", inDenom).Msg("Failed to unwind swap input")
		}
		return sdkmath.ZeroInt(), err
	}
	return out, nil
}

// CollectFees implements PoolService.
func (s *SimPool) CollectFees(handle types.PositionHandle) (sdkmath.Int, sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[handle]
	if !ok {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}
	fee0, fee1 := pos.fee0, pos.fee1
	if err := s.settleOut(s.asset0.Denom, fee0); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	if err := s.settleOut(s.asset1.Denom, fee1); err != nil {
		// Take the first leg back so the fees stay collectable as a pair.
		if refundErr := s.settleIn(s.asset0.Denom, fee0); refundErr != nil {
			s.logger.Error().Err(refundErr).Msg("Failed to unwind fee settlement")
		}
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	pos.fee0 = sdkmath.ZeroInt()
	pos.fee1 = sdkmath.ZeroInt()
	return fee0, fee1, nil
}

// AccrueFees credits pending fees to a position. Sim-mode fee feed and tests
// only.
func (s *SimPool) AccrueFees(handle types.PositionHandle, fee0, fee1 sdkmath.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[handle]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}
	pos.fee0 = pos.fee0.Add(fee0)
	pos.fee1 = pos.fee1.Add(fee1)
	return nil
}
