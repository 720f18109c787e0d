/*

This file contains the fungible asset collaborator: the Ledger interface the
engines pull and pay assets through, and an in-memory Bank implementation used
by the test suites and clrd's sim mode. A live deployment substitutes an
adapter to the real asset service behind the same interface.

*/

package token

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/amberfi/clr/internal/types"
	"github.com/amberfi/clr/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownAsset          = errors.New("asset is not registered")
	ErrAssetExists           = errors.New("asset is already registered")
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Ledger is the fungible asset service consumed by the engines.
type Ledger interface {
	Transfer(from, to types.Account, denom string, amount sdkmath.Int) error
	TransferFrom(spender, from, to types.Account, denom string, amount sdkmath.Int) error
	BalanceOf(account types.Account, denom string) sdkmath.Int
	Decimals(denom string) (uint8, error)
}

type allowanceKey struct {
	owner   types.Account
	spender types.Account
	denom   string
}

// Bank is an in-memory Ledger covering any number of registered assets.
type Bank struct {
	mu         sync.Mutex
	assets     map[string]types.Asset
	balances   map[string]map[types.Account]sdkmath.Int
	allowances map[allowanceKey]sdkmath.Int
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{
		assets:     make(map[string]types.Asset),
		balances:   make(map[string]map[types.Account]sdkmath.Int),
		allowances: make(map[allowanceKey]sdkmath.Int),
	}
}

// RegisterAsset adds an asset to the bank. Precision above 18 decimals is
// rejected here so no runtime path ever sees it.
func (b *Bank) RegisterAsset(asset types.Asset) error {
	if err := utils.ValidateDecimals(asset.Decimals); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.assets[asset.Denom]; exists {
		return fmt.Errorf("%w: %s", ErrAssetExists, asset.Denom)
	}
	b.assets[asset.Denom] = asset
	b.balances[asset.Denom] = make(map[types.Account]sdkmath.Int)
	return nil
}

// Mint credits freshly created units to an account. Sim-mode funding and
// tests only.
func (b *Bank) Mint(account types.Account, denom string, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrZeroAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	balances, ok := b.balances[denom]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, denom)
	}
	balances[account] = b.balanceLocked(denom, account).Add(amount)
	return nil
}

// Approve sets the allowance spender may move out of owner's balance.
func (b *Bank) Approve(owner, spender types.Account, denom string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrZeroAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.assets[denom]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, denom)
	}
	b.allowances[allowanceKey{owner: owner, spender: spender, denom: denom}] = amount
	return nil
}

func (b *Bank) balanceLocked(denom string, account types.Account) sdkmath.Int {
	bal, ok := b.balances[denom][account]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

// BalanceOf implements Ledger.
func (b *Bank) BalanceOf(account types.Account, denom string) sdkmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balanceLocked(denom, account)
}

// Decimals implements Ledger.
func (b *Bank) Decimals(denom string) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	asset, ok := b.assets[denom]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, denom)
	}
	return asset.Decimals, nil
}

func (b *Bank) transferLocked(from, to types.Account, denom string, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrZeroAmount
	}
	balances, ok := b.balances[denom]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, denom)
	}
	fromBal := b.balanceLocked(denom, from)
	if fromBal.LT(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from, fromBal, denom, amount)
	}
	balances[from] = fromBal.Sub(amount)
	balances[to] = b.balanceLocked(denom, to).Add(amount)
	return nil
}

// Transfer implements Ledger.
func (b *Bank) Transfer(from, to types.Account, denom string, amount sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transferLocked(from, to, denom, amount)
}

// TransferFrom implements Ledger. The spender consumes allowance unless it is
// the owner itself.
func (b *Bank) TransferFrom(spender, from, to types.Account, denom string, amount sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if spender != from {
		key := allowanceKey{owner: from, spender: spender, denom: denom}
		allowed, ok := b.allowances[key]
		if !ok || allowed.LT(amount) {
			return fmt.Errorf("%w: %s spending for %s", ErrInsufficientAllowance, spender, from)
		}
		if err := b.transferLocked(from, to, denom, amount); err != nil {
			return err
		}
		b.allowances[key] = allowed.Sub(amount)
		return nil
	}
	return b.transferLocked(from, to, denom, amount)
}
