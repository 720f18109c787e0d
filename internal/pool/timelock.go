/*

This file contains the time-lock guard: one shared cooldown window per account
per pool instance, enforced uniformly across deposit, withdraw and receipt
transfers to prevent same-block round trips. Accounts are independent; one
account's lock never blocks another's.

*/

package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amberfi/clr/internal/types"
)

// DefaultLockWindow is the cooldown applied when none is configured.
const DefaultLockWindow = 300 * time.Second

var ErrLockActive = errors.New("account is time-locked")

// TimeLock tracks the last fund-moving action per account.
type TimeLock struct {
	mu     sync.Mutex
	window time.Duration
	stamps map[types.Account]time.Time
	nowFn  func() time.Time
}

// NewTimeLock creates a guard with the given window.
func NewTimeLock(window time.Duration) *TimeLock {
	if window <= 0 {
		window = DefaultLockWindow
	}
	return &TimeLock{
		window: window,
		stamps: make(map[types.Account]time.Time),
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the time source. Tests only.
func (t *TimeLock) SetNowFunc(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now == nil {
		t.nowFn = time.Now
		return
	}
	t.nowFn = now
}

// Window returns the configured lock window.
func (t *TimeLock) Window() time.Duration { return t.window }

// Check fails with ErrLockActive while the account's window is still
// running. It does not record an action.
func (t *TimeLock) Check(account types.Account) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkLocked(account)
}

func (t *TimeLock) checkLocked(account types.Account) error {
	if last, ok := t.stamps[account]; ok {
		if elapsed := t.nowFn().Sub(last); elapsed < t.window {
			return fmt.Errorf("%w: %s for another %s", ErrLockActive, account, t.window-elapsed)
		}
	}
	return nil
}

// Stamp records the current time as the account's last fund-moving action.
func (t *TimeLock) Stamp(account types.Account) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stamps[account] = t.nowFn()
}

// CheckAndStamp fails with ErrLockActive while the account's window is still
// running, and otherwise records the action as the new last action.
func (t *TimeLock) CheckAndStamp(account types.Account) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkLocked(account); err != nil {
		return err
	}
	t.stamps[account] = t.nowFn()
	return nil
}

// LastAction returns the account's last recorded action time.
func (t *TimeLock) LastAction(account types.Account) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.stamps[account]
	return last, ok
}
