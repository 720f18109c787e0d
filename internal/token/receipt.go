/*

This file contains the receipt token: the fungible proportional-ownership unit
minted against deposits into the pool. Transferability is fixed at creation;
every transfer from an account passes through the pool's time-lock guard.

*/

package token

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/amberfi/clr/internal/types"
)

var (
	ErrNonTransferable = errors.New("receipt token is non-transferable")
	ErrBurnExceeds     = errors.New("burn amount exceeds balance")
)

// TransferGuard validates and stamps an account before it may move receipt
// tokens. The pool's time-lock guard implements it.
type TransferGuard interface {
	CheckAndStamp(account types.Account) error
}

// Receipt is the proportional-ownership token for one pool instance. Mint and
// Burn are reserved to the owning pool engine; holders interact through
// Transfer/TransferFrom.
type Receipt struct {
	mu           sync.Mutex
	denom        string
	transferable bool
	guard        TransferGuard
	totalSupply  sdkmath.Int
	balances     map[types.Account]sdkmath.Int
}

// NewReceipt creates the receipt token. transferable is fixed for the token's
// lifetime. guard may be nil until the pool wires its time-lock in.
func NewReceipt(denom string, transferable bool, guard TransferGuard) *Receipt {
	return &Receipt{
		denom:        denom,
		transferable: transferable,
		guard:        guard,
		totalSupply:  sdkmath.ZeroInt(),
		balances:     make(map[types.Account]sdkmath.Int),
	}
}

// SetGuard wires the time-lock guard. Used once during pool construction.
func (r *Receipt) SetGuard(guard TransferGuard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guard = guard
}

// Denom returns the receipt denom.
func (r *Receipt) Denom() string { return r.denom }

// TotalSupply returns the current total supply.
func (r *Receipt) TotalSupply() sdkmath.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalSupply
}

// BalanceOf returns an account's receipt balance.
func (r *Receipt) BalanceOf(account types.Account) sdkmath.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balanceLocked(account)
}

func (r *Receipt) balanceLocked(account types.Account) sdkmath.Int {
	bal, ok := r.balances[account]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

// Mint credits newly minted receipts. Pool engine only; the engine performs
// the time-lock check before calling.
func (r *Receipt) Mint(to types.Account, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrZeroAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[to] = r.balanceLocked(to).Add(amount)
	r.totalSupply = r.totalSupply.Add(amount)
	return nil
}

// Burn destroys receipts from an account. Pool engine only.
func (r *Receipt) Burn(from types.Account, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrZeroAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bal := r.balanceLocked(from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: have %s, burn %s", ErrBurnExceeds, bal, amount)
	}
	r.balances[from] = bal.Sub(amount)
	r.totalSupply = r.totalSupply.Sub(amount)
	return nil
}

// Transfer moves receipts between holders. Fails unless the token was created
// transferable, and the sending account must clear the time-lock guard.
func (r *Receipt) Transfer(from, to types.Account, amount sdkmath.Int) error {
	return r.transfer(from, from, to, amount)
}

// TransferFrom moves receipts on behalf of the holder. The time-lock applies
// to the account the funds leave, not the spender.
func (r *Receipt) TransferFrom(spender types.Account, from, to types.Account, amount sdkmath.Int) error {
	return r.transfer(spender, from, to, amount)
}

func (r *Receipt) transfer(_ types.Account, from, to types.Account, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrZeroAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.transferable {
		return fmt.Errorf("%w: %s", ErrNonTransferable, r.denom)
	}
	bal := r.balanceLocked(from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: have %s, send %s", ErrInsufficientBalance, bal, amount)
	}
	// Balance is validated first so a failing transfer never stamps the lock.
	if r.guard != nil {
		if err := r.guard.CheckAndStamp(from); err != nil {
			return err
		}
	}
	r.balances[from] = bal.Sub(amount)
	r.balances[to] = r.balanceLocked(to).Add(amount)
	return nil
}

// StakedBalance reports the account's receipt balance under the name the
// reward distributor's stake view expects.
func (r *Receipt) StakedBalance(account types.Account) sdkmath.Int {
	return r.BalanceOf(account)
}

// TotalStaked reports the total receipt supply for the reward distributor.
func (r *Receipt) TotalStaked() sdkmath.Int {
	return r.TotalSupply()
}

// Holders returns every account with a nonzero balance. Reporting only.
func (r *Receipt) Holders() []types.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	accounts := make([]types.Account, 0, len(r.balances))
	for account, bal := range r.balances {
		if bal.IsPositive() {
			accounts = append(accounts, account)
		}
	}
	return accounts
}
