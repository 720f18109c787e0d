/*

This file contains the reward distribution engine: duration-based accrual of
any number of independent reward asset streams, proportional to each account's
share of the staked receipt supply.

The accrual update ("touch") must run before any stake-mutating operation and
before every claim. The pool engine calls Touch on deposit and withdraw; the
ordering is load-bearing, since mutating stakes first would corrupt accrual
for every other staker.

*/

package rewards

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

// Error definitions for zero-tolerance error handling
var (
	ErrAlreadyInitiated      = errors.New("rewards program already initiated")
	ErrNotInitiated          = errors.New("rewards program not initiated")
	ErrPreviousProgramActive = errors.New("previous rewards program still active")
	ErrZeroDuration          = errors.New("program duration must be at least one second")
	ErrAmountCountMismatch   = errors.New("amount count does not match configured reward assets")
	ErrZeroProgramAmount     = errors.New("program amount must be positive")
	ErrUnauthorized          = errors.New("caller is not the rewards manager")
	ErrNoRewardAssets        = errors.New("no reward assets configured")
)

// StakeView exposes the staked receipt balances the distributor accrues
// against. The pool's receipt token implements it.
type StakeView interface {
	StakedBalance(account types.Account) sdkmath.Int
	TotalStaked() sdkmath.Int
}

// VestingSink receives claimed rewards for deferred release. The vesting
// escrow implements it; a nil sink means claims pay out directly.
type VestingSink interface {
	AppendVestingEntry(source types.Account, denom string, account types.Account, quantity sdkmath.Int) error
	Address() types.Account
}

// Distributor accrues and pays N concurrent reward streams.
type Distributor struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	bank     token.Ledger
	stakes   StakeView
	recorder events.Recorder
	nowFn    func() time.Time

	// address is the treasury account holding undistributed reward funds and
	// the identity the distributor registers with the escrow under.
	address types.Account
	manager types.Account
	escrow  VestingSink

	denoms    []string
	programs  map[string]*types.RewardProgram
	users     map[string]map[types.Account]*types.UserRewardState
	initiated bool
}

// Config holds the dependencies for creating a Distributor.
type Config struct {
	Bank         token.Ledger
	Stakes       StakeView
	Recorder     events.Recorder
	Address      types.Account
	Manager      types.Account
	RewardDenoms []string
}

// NewDistributor creates a distributor for the configured reward assets.
func NewDistributor(cfg Config) (*Distributor, error) {
	if cfg.Bank == nil || cfg.Stakes == nil {
		return nil, errors.New("bank and stake view are required")
	}
	if len(cfg.RewardDenoms) == 0 {
		return nil, ErrNoRewardAssets
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = events.NopRecorder{}
	}

	programs := make(map[string]*types.RewardProgram, len(cfg.RewardDenoms))
	users := make(map[string]map[types.Account]*types.UserRewardState, len(cfg.RewardDenoms))
	for _, denom := range cfg.RewardDenoms {
		if _, err := cfg.Bank.Decimals(denom); err != nil {
			return nil, fmt.Errorf("reward asset %s: %w", denom, err)
		}
		programs[denom] = &types.RewardProgram{
			Denom:                denom,
			TotalAmount:          sdkmath.ZeroInt(),
			RemainingAmount:      sdkmath.ZeroInt(),
			Rate:                 sdkmath.LegacyZeroDec(),
			RewardPerTokenStored: sdkmath.LegacyZeroDec(),
		}
		users[denom] = make(map[types.Account]*types.UserRewardState)
	}

	return &Distributor{
		logger:   logger.GetForComponent("reward_distributor"),
		bank:     cfg.Bank,
		stakes:   cfg.Stakes,
		recorder: recorder,
		nowFn:    time.Now,
		address:  cfg.Address,
		manager:  cfg.Manager,
		denoms:   append([]string(nil), cfg.RewardDenoms...),
		programs: programs,
		users:    users,
	}, nil
}

// SetEscrow wires the vesting escrow. When set, claims are forwarded there
// instead of paid directly.
func (d *Distributor) SetEscrow(escrow VestingSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.escrow = escrow
}

// SetNowFunc overrides the time source. Tests only.
func (d *Distributor) SetNowFunc(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if now == nil {
		d.nowFn = time.Now
		return
	}
	d.nowFn = now
}

// Address returns the distributor's treasury account.
func (d *Distributor) Address() types.Account { return d.address }

// RewardDenoms returns the configured reward assets.
func (d *Distributor) RewardDenoms() []string {
	return append([]string(nil), d.denoms...)
}

// lastTimeApplicable caps accrual at the program end.
func lastTimeApplicable(now time.Time, program *types.RewardProgram) time.Time {
	if program.PeriodFinish.IsZero() || now.Before(program.PeriodFinish) {
		return now
	}
	return program.PeriodFinish
}

// rewardPerTokenLocked computes the up-to-date accumulator for one program.
// Caller holds the lock.
func (d *Distributor) rewardPerTokenLocked(program *types.RewardProgram, now time.Time) sdkmath.LegacyDec {
	totalStaked := d.stakes.TotalStaked()
	if totalStaked.IsZero() || program.LastUpdateTime.IsZero() {
		return program.RewardPerTokenStored
	}
	applicable := lastTimeApplicable(now, program)
	elapsed := applicable.Unix() - program.LastUpdateTime.Unix()
	if elapsed <= 0 {
		return program.RewardPerTokenStored
	}
	accrued := program.Rate.MulInt64(elapsed)
	return program.RewardPerTokenStored.Add(accrued.QuoInt(totalStaked))
}

func (d *Distributor) userStateLocked(denom string, account types.Account) *types.UserRewardState {
	state, ok := d.users[denom][account]
	if !ok {
		state = &types.UserRewardState{
			RewardPerTokenPaid: sdkmath.LegacyZeroDec(),
			Owed:               sdkmath.ZeroInt(),
		}
		d.users[denom][account] = state
	}
	return state
}

// earnedLocked computes the account's claimable amount for one asset at the
// given accumulator value. Caller holds the lock.
func (d *Distributor) earnedLocked(denom string, account types.Account, rewardPerToken sdkmath.LegacyDec) sdkmath.Int {
	state := d.userStateLocked(denom, account)
	staked := d.stakes.StakedBalance(account)
	delta := rewardPerToken.Sub(state.RewardPerTokenPaid)
	return delta.MulInt(staked).TruncateInt().Add(state.Owed)
}

// touchLocked rolls every program's accumulator forward and checkpoints the
// account. Caller holds the lock.
func (d *Distributor) touchLocked(account types.Account, now time.Time) {
	for _, denom := range d.denoms {
		program := d.programs[denom]
		rpt := d.rewardPerTokenLocked(program, now)
		program.RewardPerTokenStored = rpt
		program.LastUpdateTime = lastTimeApplicable(now, program)

		if account != "" {
			state := d.userStateLocked(denom, account)
			state.Owed = d.earnedLocked(denom, account, rpt)
			state.RewardPerTokenPaid = rpt
		}
	}
}

// Touch updates all reward accumulators and the given account's checkpoint.
// Must be called before any operation that changes the account's staked
// balance or the total staked supply.
func (d *Distributor) Touch(account types.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touchLocked(account, d.nowFn())
}

// RewardPerToken returns the current accumulator for one reward asset.
func (d *Distributor) RewardPerToken(denom string) sdkmath.LegacyDec {
	d.mu.Lock()
	defer d.mu.Unlock()
	program, ok := d.programs[denom]
	if !ok {
		return sdkmath.LegacyZeroDec()
	}
	return d.rewardPerTokenLocked(program, d.nowFn())
}

// Earned returns the amount of one reward asset the account could claim now.
func (d *Distributor) Earned(account types.Account, denom string) sdkmath.Int {
	d.mu.Lock()
	defer d.mu.Unlock()
	program, ok := d.programs[denom]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return d.earnedLocked(denom, account, d.rewardPerTokenLocked(program, d.nowFn()))
}

// Program returns a copy of one program's accrual record.
func (d *Distributor) Program(denom string) (types.RewardProgram, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	program, ok := d.programs[denom]
	if !ok {
		return types.RewardProgram{}, false
	}
	return *program, true
}

// Programs returns copies of all program records.
func (d *Distributor) Programs() []types.RewardProgram {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.RewardProgram, 0, len(d.denoms))
	for _, denom := range d.denoms {
		out = append(out, *d.programs[denom])
	}
	return out
}

func (d *Distributor) validateProgramInputs(caller types.Account, amounts []sdkmath.Int, duration time.Duration) error {
	if caller != d.manager {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	// The rate is native units per whole second; anything under a second
	// would truncate to a zero divisor.
	if duration < time.Second {
		return ErrZeroDuration
	}
	if len(amounts) != len(d.denoms) {
		return fmt.Errorf("%w: got %d, want %d", ErrAmountCountMismatch, len(amounts), len(d.denoms))
	}
	for i, amount := range amounts {
		if amount.IsNil() || !amount.IsPositive() {
			return fmt.Errorf("%w: %s", ErrZeroProgramAmount, d.denoms[i])
		}
	}
	return nil
}

// startProgramsLocked pulls funding and rewrites the per-asset schedules.
// Caller holds the lock and has already rolled accumulators forward.
func (d *Distributor) startProgramsLocked(funder types.Account, amounts []sdkmath.Int, duration time.Duration, now time.Time) error {
	seconds := int64(duration / time.Second)
	for i, denom := range d.denoms {
		if err := d.bank.TransferFrom(d.address, funder, d.address, denom, amounts[i]); err != nil {
			// Unwind the earlier pulls so a failed start has no partial effect.
			for j := 0; j < i; j++ {
				if refundErr := d.bank.Transfer(d.address, funder, d.denoms[j], amounts[j]); refundErr != nil {
					d.logger.Error().Err(refundErr).Str("denom", d.denoms[j]).Msg("Failed to unwind program funding")
				}
			}
			return fmt.Errorf("funding %s: %w", denom, err)
		}
	}
	finish := now.Add(duration)
	for i, denom := range d.denoms {
		program := d.programs[denom]
		program.TotalAmount = amounts[i]
		program.RemainingAmount = amounts[i]
		program.Rate = sdkmath.LegacyNewDecFromInt(amounts[i]).QuoInt64(seconds)
		program.PeriodFinish = finish
		program.LastUpdateTime = now

		d.recorder.Record(events.New(events.TypeRewardProgramStarted, now, map[string]string{
			"denom":         denom,
			"total_amount":  amounts[i].String(),
			"duration_sec":  fmt.Sprintf("%d", seconds),
			"period_finish": finish.UTC().Format(time.RFC3339),
		}))
		d.logger.Info().
			Str("denom", denom).
			Str("amount", amounts[i].String()).
			Dur("duration", duration).
			Msg("Reward program started")
	}
	return nil
}

// InitiateProgram starts the first reward program. One-time per pool; amounts
// are pulled from the funder in the order of the configured reward assets.
func (d *Distributor) InitiateProgram(caller types.Account, amounts []sdkmath.Int, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initiated {
		return ErrAlreadyInitiated
	}
	if err := d.validateProgramInputs(caller, amounts, duration); err != nil {
		return err
	}

	now := d.nowFn()
	if err := d.startProgramsLocked(caller, amounts, duration, now); err != nil {
		return err
	}
	d.initiated = true
	return nil
}

// InitiateNewProgram starts a follow-up program once the previous one has
// fully elapsed. Any unused remainder from the prior program is not rolled
// in; the new rate comes purely from the supplied amounts.
func (d *Distributor) InitiateNewProgram(caller types.Account, amounts []sdkmath.Int, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initiated {
		return ErrNotInitiated
	}
	if err := d.validateProgramInputs(caller, amounts, duration); err != nil {
		return err
	}

	now := d.nowFn()
	for _, denom := range d.denoms {
		if d.programs[denom].Active(now) {
			return fmt.Errorf("%w: %s finishes at %s", ErrPreviousProgramActive, denom, d.programs[denom].PeriodFinish.UTC().Format(time.RFC3339))
		}
	}

	// Roll accumulators to the old period end before the rate changes.
	d.touchLocked("", now)
	return d.startProgramsLocked(caller, amounts, duration, now)
}

// ClaimedReward reports one paid (or escrowed) reward asset.
type ClaimedReward struct {
	Denom    string
	Amount   sdkmath.Int
	Escrowed bool
}

// ClaimReward pays out every reward asset with a nonzero owed balance for the
// account: directly when no escrow is wired, otherwise into the vesting
// escrow under this distributor's address.
func (d *Distributor) ClaimReward(account types.Account) ([]ClaimedReward, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFn()
	d.touchLocked(account, now)

	var claimed []ClaimedReward
	for _, denom := range d.denoms {
		state := d.userStateLocked(denom, account)
		owed := state.Owed
		if !owed.IsPositive() {
			continue
		}
		state.Owed = sdkmath.ZeroInt()

		escrowed := false
		if d.escrow != nil {
			if err := d.bank.Transfer(d.address, d.escrow.Address(), denom, owed); err != nil {
				state.Owed = owed
				return claimed, fmt.Errorf("escrow funding %s: %w", denom, err)
			}
			if err := d.escrow.AppendVestingEntry(d.address, denom, account, owed); err != nil {
				// Unwind the funding transfer so the claim has no partial effect.
				if refundErr := d.bank.Transfer(d.escrow.Address(), d.address, denom, owed); refundErr != nil {
					d.logger.Error().Err(refundErr).Str("denom", denom).Msg("Failed to unwind escrow funding")
				}
				state.Owed = owed
				return claimed, fmt.Errorf("escrow append %s: %w", denom, err)
			}
			escrowed = true
		} else {
			if err := d.bank.Transfer(d.address, account, denom, owed); err != nil {
				state.Owed = owed
				return claimed, fmt.Errorf("paying %s: %w", denom, err)
			}
		}

		program := d.programs[denom]
		program.RemainingAmount = sdkmath.MaxInt(program.RemainingAmount.Sub(owed), sdkmath.ZeroInt())

		claimed = append(claimed, ClaimedReward{Denom: denom, Amount: owed, Escrowed: escrowed})
		d.recorder.Record(events.New(events.TypeRewardClaimed, now, map[string]string{
			"denom":    denom,
			"account":  account,
			"amount":   owed.String(),
			"escrowed": fmt.Sprintf("%t", escrowed),
		}))
	}
	return claimed, nil
}
