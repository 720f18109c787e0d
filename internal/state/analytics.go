// ./internal/state/analytics.go
package state

import (
	"fmt"
	"time"
)

// PoolSummary aggregates the journaled history for the dashboard.
type PoolSummary struct {
	PoolName       string     `json:"pool_name"`
	TotalCycles    int        `json:"total_cycles"`
	FirstSnapshot  *time.Time `json:"first_snapshot,omitempty"`
	LatestSnapshot *time.Time `json:"latest_snapshot,omitempty"`
	TotalEvents    int        `json:"total_events"`
	TotalDeposits  int        `json:"total_deposits"`
	TotalWithdraws int        `json:"total_withdraws"`
	TotalRebalance int        `json:"total_rebalances"`
}

// GetPoolSummary computes history-wide counters from the snapshot and event
// tables.
func GetPoolSummary() (*PoolSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	summary := &PoolSummary{}

	query := `
		SELECT
			COALESCE(MAX(pool_name), ''),
			COUNT(*),
			MIN(snapshot_timestamp),
			MAX(snapshot_timestamp)
		FROM pool_snapshots;
	`
	var first, latest *time.Time
	if err := DB.QueryRow(query).Scan(&summary.PoolName, &summary.TotalCycles, &first, &latest); err != nil {
		return nil, fmt.Errorf("failed to query snapshot summary: %w", err)
	}
	summary.FirstSnapshot = first
	summary.LatestSnapshot = latest

	eventQuery := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE event_type = 'deposit'),
			COUNT(*) FILTER (WHERE event_type = 'withdraw'),
			COUNT(*) FILTER (WHERE event_type = 'rebalanced')
		FROM pool_events;
	`
	if err := DB.QueryRow(eventQuery).Scan(
		&summary.TotalEvents, &summary.TotalDeposits, &summary.TotalWithdraws, &summary.TotalRebalance,
	); err != nil {
		return nil, fmt.Errorf("failed to query event summary: %w", err)
	}

	return summary, nil
}

// FeeGrowth reports cumulative collected fees between the first and latest
// snapshots.
type FeeGrowth struct {
	From  *time.Time `json:"from,omitempty"`
	To    *time.Time `json:"to,omitempty"`
	Fees0 string     `json:"fees_collected0"`
	Fees1 string     `json:"fees_collected1"`
}

// GetFeeGrowth returns the latest cumulative fee totals with the covered
// window.
func GetFeeGrowth() (*FeeGrowth, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_timestamp, fees_collected0, fees_collected1
		FROM pool_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT 1;
	`
	growth := &FeeGrowth{Fees0: "0", Fees1: "0"}
	var latest time.Time
	err := DB.QueryRow(query).Scan(&latest, &growth.Fees0, &growth.Fees1)
	if err != nil {
		return nil, fmt.Errorf("failed to query fee growth: %w", err)
	}
	growth.To = &latest

	var first time.Time
	if err := DB.QueryRow(`SELECT MIN(snapshot_timestamp) FROM pool_snapshots;`).Scan(&first); err == nil {
		growth.From = &first
	}
	return growth, nil
}
