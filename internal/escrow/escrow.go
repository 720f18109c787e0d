/*

This file contains the vesting escrow: a custodial, append-only ledger of
deferred reward payouts. Entries are appended by registered reward-source
contracts and released FIFO once their release time passes. Schedules are
bounded; a full schedule rejects further claims until vesting frees capacity.

*/

package escrow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/amberfi/clr/internal/events"
	"github.com/amberfi/clr/internal/logger"
	"github.com/amberfi/clr/internal/token"
	"github.com/amberfi/clr/internal/types"
)

// DefaultMaxVestingEntries bounds each (source, asset, account) schedule.
const DefaultMaxVestingEntries = 52

// Error definitions for zero-tolerance error handling
var (
	ErrUnauthorized             = errors.New("caller is not the escrow manager")
	ErrUnregisteredSource       = errors.New("source is not a registered rewards contract")
	ErrInsufficientEscrowBalance = errors.New("escrow holdings are insufficient for the entry")
	ErrScheduleTooLong          = errors.New("vesting schedule is at maximum length")
	ErrZeroQuantity             = errors.New("vesting quantity must be positive")
	ErrZeroVestingPeriod        = errors.New("vesting period must be positive")
)

type scheduleKey struct {
	source  types.Account
	denom   string
	account types.Account
}

// Escrow holds claimed rewards until their vesting period elapses.
type Escrow struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	bank     token.Ledger
	recorder events.Recorder
	nowFn    func() time.Time

	address    types.Account
	manager    types.Account
	maxEntries int

	// sources maps registered reward contracts to their fixed vesting period.
	sources   map[types.Account]time.Duration
	schedules map[scheduleKey][]types.VestingEntry
	// escrowed tracks the total unreleased quantity per denom so holdings
	// can never be promised twice.
	escrowed map[string]sdkmath.Int
}

// NewEscrow creates an escrow custodied at the given account.
func NewEscrow(bank token.Ledger, address, manager types.Account, maxEntries int, recorder events.Recorder) (*Escrow, error) {
	if bank == nil {
		return nil, errors.New("bank is required")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxVestingEntries
	}
	if recorder == nil {
		recorder = events.NopRecorder{}
	}
	return &Escrow{
		logger:     logger.GetForComponent("vesting_escrow"),
		bank:       bank,
		recorder:   recorder,
		nowFn:      time.Now,
		address:    address,
		manager:    manager,
		maxEntries: maxEntries,
		sources:    make(map[types.Account]time.Duration),
		schedules:  make(map[scheduleKey][]types.VestingEntry),
		escrowed:   make(map[string]sdkmath.Int),
	}, nil
}

// SetNowFunc overrides the time source. Tests only.
func (e *Escrow) SetNowFunc(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

// Address returns the escrow's custodial account.
func (e *Escrow) Address() types.Account { return e.address }

// MaxEntries returns the per-schedule entry cap.
func (e *Escrow) MaxEntries() int { return e.maxEntries }

// AddRewardsContract registers a reward source with its fixed vesting period.
// Re-adding an already-registered source is a silent no-op: no event, the
// original vesting period stands.
func (e *Escrow) AddRewardsContract(caller, source types.Account, vestingPeriod time.Duration) error {
	if caller != e.manager {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	if vestingPeriod <= 0 {
		return ErrZeroVestingPeriod
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.sources[source]; exists {
		return nil
	}
	e.sources[source] = vestingPeriod
	e.recorder.Record(events.New(events.TypeRewardsContractAdded, e.nowFn(), map[string]string{
		"source":         source,
		"vesting_period": vestingPeriod.String(),
	}))
	e.logger.Info().Str("source", source).Dur("vesting_period", vestingPeriod).Msg("Rewards contract registered")
	return nil
}

// RemoveRewardsContract deregisters a reward source. Removing an unregistered
// source is a silent no-op. Existing schedules keep vesting.
func (e *Escrow) RemoveRewardsContract(caller, source types.Account) error {
	if caller != e.manager {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.sources[source]; !exists {
		return nil
	}
	delete(e.sources, source)
	e.recorder.Record(events.New(events.TypeRewardsContractRemoved, e.nowFn(), map[string]string{
		"source": source,
	}))
	e.logger.Info().Str("source", source).Msg("Rewards contract deregistered")
	return nil
}

func (e *Escrow) escrowedLocked(denom string) sdkmath.Int {
	total, ok := e.escrowed[denom]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return total
}

// AppendVestingEntry records a deferred payout of quantity to account,
// releasing at now plus the source's vesting period. Only registered sources
// may append, and the escrow's holdings must cover every unreleased entry
// plus the new one.
func (e *Escrow) AppendVestingEntry(source types.Account, denom string, account types.Account, quantity sdkmath.Int) error {
	if quantity.IsNil() || !quantity.IsPositive() {
		return ErrZeroQuantity
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	period, registered := e.sources[source]
	if !registered {
		return fmt.Errorf("%w: %s", ErrUnregisteredSource, source)
	}

	holdings := e.bank.BalanceOf(e.address, denom)
	promised := e.escrowedLocked(denom).Add(quantity)
	if holdings.LT(promised) {
		return fmt.Errorf("%w: holdings %s, promised %s %s", ErrInsufficientEscrowBalance, holdings, promised, denom)
	}

	key := scheduleKey{source: source, denom: denom, account: account}
	if len(e.schedules[key]) >= e.maxEntries {
		return fmt.Errorf("%w: %d entries", ErrScheduleTooLong, e.maxEntries)
	}

	now := e.nowFn()
	releaseTime := now.Add(period)
	e.schedules[key] = append(e.schedules[key], types.VestingEntry{
		ReleaseTime: releaseTime,
		Quantity:    quantity,
	})
	e.escrowed[denom] = promised

	e.recorder.Record(events.New(events.TypeVestingEntryAppended, now, map[string]string{
		"source":       source,
		"denom":        denom,
		"account":      account,
		"quantity":     quantity.String(),
		"release_time": releaseTime.UTC().Format(time.RFC3339),
	}))
	return nil
}

// Vest releases every due entry of the account's schedule for one asset, in
// FIFO order, as a single transfer. Returns zero with no error when nothing
// is due.
func (e *Escrow) Vest(account, source types.Account, denom string) (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vestLocked(account, source, denom, e.nowFn())
}

func (e *Escrow) vestLocked(account, source types.Account, denom string, now time.Time) (sdkmath.Int, error) {
	key := scheduleKey{source: source, denom: denom, account: account}
	schedule := e.schedules[key]

	released := 0
	total := sdkmath.ZeroInt()
	for _, entry := range schedule {
		if !entry.Due(now) {
			break
		}
		total = total.Add(entry.Quantity)
		released++
	}
	if released == 0 {
		return sdkmath.ZeroInt(), nil
	}

	// Shift the unreleased remainder down before moving funds.
	remainder := make([]types.VestingEntry, len(schedule)-released)
	copy(remainder, schedule[released:])
	if len(remainder) == 0 {
		delete(e.schedules, key)
	} else {
		e.schedules[key] = remainder
	}
	e.escrowed[denom] = e.escrowedLocked(denom).Sub(total)

	if err := e.bank.Transfer(e.address, account, denom, total); err != nil {
		// Restore the ledger; the transfer moved nothing.
		e.schedules[key] = schedule
		e.escrowed[denom] = e.escrowedLocked(denom).Add(total)
		return sdkmath.ZeroInt(), fmt.Errorf("releasing %s: %w", denom, err)
	}

	e.recorder.Record(events.New(events.TypeVested, now, map[string]string{
		"source":   source,
		"denom":    denom,
		"account":  account,
		"quantity": total.String(),
		"entries":  fmt.Sprintf("%d", released),
	}))
	return total, nil
}

// VestAll releases every due entry across the given assets for one source.
func (e *Escrow) VestAll(account, source types.Account, denoms []string) (map[string]sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	out := make(map[string]sdkmath.Int, len(denoms))
	for _, denom := range denoms {
		released, err := e.vestLocked(account, source, denom, now)
		if err != nil {
			return out, err
		}
		out[denom] = released
	}
	return out, nil
}

// Schedule returns a copy of the account's unreleased entries for one
// (source, asset) pair, oldest first.
func (e *Escrow) Schedule(account, source types.Account, denom string) []types.VestingEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	schedule := e.schedules[scheduleKey{source: source, denom: denom, account: account}]
	out := make([]types.VestingEntry, len(schedule))
	copy(out, schedule)
	return out
}

// NumVestingEntries returns the current schedule length for one
// (source, asset, account) triple.
func (e *Escrow) NumVestingEntries(account, source types.Account, denom string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.schedules[scheduleKey{source: source, denom: denom, account: account}])
}

// TotalEscrowed returns the unreleased quantity held for one asset across all
// schedules.
func (e *Escrow) TotalEscrowed(denom string) sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escrowedLocked(denom)
}
