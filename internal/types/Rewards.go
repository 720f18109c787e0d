/*

This file contains the accrual state for duration-based reward programs. One
RewardProgram record exists per reward asset; the distribution engine treats
the set of programs as a table keyed by denom.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// RewardProgram is the accrual record for a single reward asset.
type RewardProgram struct {
	Denom                string            `json:"denom"`
	TotalAmount          sdkmath.Int       `json:"total_amount"`
	RemainingAmount      sdkmath.Int       `json:"remaining_amount"`
	Rate                 sdkmath.LegacyDec `json:"rate"` // native units per second
	PeriodFinish         time.Time         `json:"period_finish"`
	LastUpdateTime       time.Time         `json:"last_update_time"`
	RewardPerTokenStored sdkmath.LegacyDec `json:"reward_per_token_stored"`
}

// Active reports whether the program is still accruing at the given time.
func (p RewardProgram) Active(now time.Time) bool {
	return now.Before(p.PeriodFinish)
}

// UserRewardState tracks one account's accrual checkpoint for one reward asset.
type UserRewardState struct {
	RewardPerTokenPaid sdkmath.LegacyDec `json:"reward_per_token_paid"`
	Owed               sdkmath.Int       `json:"owed"`
}
