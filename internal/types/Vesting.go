/*

This file contains the ledger entry type for the vesting escrow. Entries are
append-only per (source contract, asset, account) and released FIFO.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// VestingEntry is a single deferred payout. ReleaseTime is claim time plus the
// source contract's fixed vesting period, so entries within one schedule are
// appended in non-decreasing ReleaseTime order.
type VestingEntry struct {
	ReleaseTime time.Time   `json:"release_time"`
	Quantity    sdkmath.Int `json:"quantity"`
}

// Due reports whether the entry has passed its release time.
func (e VestingEntry) Due(now time.Time) bool {
	return !now.Before(e.ReleaseTime)
}
