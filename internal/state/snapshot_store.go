// ./internal/state/snapshot_store.go
package state

import (
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/amberfi/clr/internal/types"
)

// SavePoolSnapshot saves a pool snapshot to the database.
func SavePoolSnapshot(snapshot types.PoolSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	rewardProgramsJSON, err := json.Marshal(snapshot.RewardPrograms)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal reward_programs: %w", err)
	}

	query := `
		INSERT INTO pool_snapshots (
			cycle_number, snapshot_timestamp, pool_name,
			lower_tick, upper_tick, liquidity, buffer0, buffer1,
			total_supply, mid_price,
			fees_collected0, fees_collected1, reward_programs
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.CycleNumber, snapshot.Timestamp, snapshot.PoolName,
		snapshot.LowerTick, snapshot.UpperTick,
		snapshot.Liquidity.String(), snapshot.Buffer0.String(), snapshot.Buffer1.String(),
		snapshot.TotalSupply.String(), snapshot.MidPrice,
		snapshot.FeesCollected0.String(), snapshot.FeesCollected1.String(), rewardProgramsJSON,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save pool snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("pool", snapshot.PoolName).
		Msg("Pool snapshot saved to database")

	return snapshotID, nil
}

// GetRecentSnapshots returns the newest snapshots, newest first.
func GetRecentSnapshots(limit int) ([]types.PoolSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT snapshot_id, cycle_number, snapshot_timestamp, pool_name,
		       lower_tick, upper_tick, liquidity, buffer0, buffer1,
		       total_supply, mid_price, fees_collected0, fees_collected1, reward_programs
		FROM pool_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pool snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.PoolSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

// GetLatestSnapshot returns the most recent snapshot.
func GetLatestSnapshot() (*types.PoolSnapshot, error) {
	snapshots, err := GetRecentSnapshots(1)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("no snapshots recorded")
	}
	return &snapshots[0], nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (types.PoolSnapshot, error) {
	var (
		snapshot           types.PoolSnapshot
		liquidityStr       string
		buffer0Str         string
		buffer1Str         string
		totalSupplyStr     string
		fees0Str           string
		fees1Str           string
		rewardProgramsJSON []byte
	)
	err := row.Scan(
		&snapshot.SnapshotID, &snapshot.CycleNumber, &snapshot.Timestamp, &snapshot.PoolName,
		&snapshot.LowerTick, &snapshot.UpperTick, &liquidityStr, &buffer0Str, &buffer1Str,
		&totalSupplyStr, &snapshot.MidPrice, &fees0Str, &fees1Str, &rewardProgramsJSON,
	)
	if err != nil {
		return types.PoolSnapshot{}, fmt.Errorf("failed to scan pool snapshot: %w", err)
	}

	for _, field := range []struct {
		dst *sdkmath.Int
		src string
	}{
		{&snapshot.Liquidity, liquidityStr},
		{&snapshot.Buffer0, buffer0Str},
		{&snapshot.Buffer1, buffer1Str},
		{&snapshot.TotalSupply, totalSupplyStr},
		{&snapshot.FeesCollected0, fees0Str},
		{&snapshot.FeesCollected1, fees1Str},
	} {
		value, ok := sdkmath.NewIntFromString(field.src)
		if !ok {
			return types.PoolSnapshot{}, fmt.Errorf("invalid integer column value: %q", field.src)
		}
		*field.dst = value
	}

	if len(rewardProgramsJSON) > 0 {
		if err := json.Unmarshal(rewardProgramsJSON, &snapshot.RewardPrograms); err != nil {
			return types.PoolSnapshot{}, fmt.Errorf("failed to unmarshal reward_programs: %w", err)
		}
	}
	return snapshot, nil
}
