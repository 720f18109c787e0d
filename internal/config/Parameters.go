/*

This file contains the default operating parameters for a managed pool.

These values are the fallbacks applied when the corresponding environment
variables are not set. Each value has been chosen to balance depositor
protection against operational flexibility.

*/

package config

import "time"

// PoolParameters is the tunable envelope of one managed pool instance.
type PoolParameters struct {
	LockWindow          time.Duration
	RebalanceCooldown   time.Duration
	VestingPeriod       time.Duration
	MaxVestingEntries   int
	ReceiptTransferable bool
}

// DefaultParameters provides the baseline parameters used when nothing is
// configured.
var DefaultParameters = PoolParameters{
	LockWindow: 300 * time.Second,
	// Rationale: long enough to kill same-block mint/burn round trips and
	// flash-loan style share-price games, short enough not to trap honest
	// depositors.

	RebalanceCooldown: 24 * time.Hour,
	// Rationale: range moves realize impermanent loss. One move per day
	// bounds how fast a compromised or misconfigured manager can bleed the
	// position through repeated re-ranging.

	VestingPeriod: 7 * 24 * time.Hour,
	// Rationale: a week of vesting keeps claimed incentives aligned with
	// the pool without locking rewards long enough to feel punitive.

	MaxVestingEntries: 52,
	// Rationale: bounds the per-account schedule scan. At one claim per
	// week this covers a full year of outstanding entries.

	ReceiptTransferable: true,
}
