/*

This file contains the snapshot types persisted by the state package after each
service cycle. Snapshots are for reporting and the web dashboard only; they are
never read back into the engine.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// PoolSnapshot is a point-in-time view of one pool instance.
type PoolSnapshot struct {
	SnapshotID     int64           `json:"snapshot_id,omitempty"` // Auto-incremented by DB
	CycleNumber    int             `json:"cycle_number"`
	Timestamp      time.Time       `json:"timestamp"`
	PoolName       string          `json:"pool_name"`
	LowerTick      int             `json:"lower_tick"`
	UpperTick      int             `json:"upper_tick"`
	Liquidity      sdkmath.Int     `json:"liquidity"`
	Buffer0        sdkmath.Int     `json:"buffer0"`
	Buffer1        sdkmath.Int     `json:"buffer1"`
	TotalSupply    sdkmath.Int     `json:"total_supply"`
	MidPrice       string          `json:"mid_price"` // 18-dec fixed point, string form
	FeesCollected0 sdkmath.Int     `json:"fees_collected0"`
	FeesCollected1 sdkmath.Int     `json:"fees_collected1"`
	RewardPrograms []RewardProgram `json:"reward_programs,omitempty"`
}
