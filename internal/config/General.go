package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables. These are
// populated at startup by the LoadConfig function.
var (
	// PoolName identifies the pool instance this daemon manages.
	PoolName string

	// Asset0Denom/Asset1Denom are the pool pair's native denominations.
	Asset0Denom string
	Asset1Denom string
	// Asset0Decimals/Asset1Decimals are each asset's native precision.
	Asset0Decimals uint8
	Asset1Decimals uint8

	// ReceiptDenom is the denom of the proportional receipt token.
	ReceiptDenom string
	// ReceiptTransferable controls whether holders may move receipts.
	ReceiptTransferable bool

	// PoolAccount is the pool's own ledger account; ManagerAccount is the
	// authority for gated operations.
	PoolAccount    string
	ManagerAccount string

	// LockWindow is the per-account cooldown across deposits, withdrawals
	// and receipt transfers.
	LockWindow time.Duration
	// RebalanceCooldown is the rolling window between range moves.
	RebalanceCooldown time.Duration

	// VestingPeriod is the delay applied to escrowed reward claims.
	VestingPeriod time.Duration
	// MaxVestingEntries caps the per-(source, asset, account) schedule.
	MaxVestingEntries int

	// Mode selects the AMM binding. Only "sim" is currently supported.
	Mode string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. Pool identity and accounts are required; windows and
// limits fall back to the defaults in Parameters.go.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	PoolName, err = getEnv("CLR_POOL_NAME")
	if err != nil {
		return err
	}

	Asset0Denom, err = getEnv("CLR_ASSET0_DENOM")
	if err != nil {
		return err
	}
	Asset1Denom, err = getEnv("CLR_ASSET1_DENOM")
	if err != nil {
		return err
	}
	Asset0Decimals, err = getEnvAsUint8("CLR_ASSET0_DECIMALS")
	if err != nil {
		return err
	}
	Asset1Decimals, err = getEnvAsUint8("CLR_ASSET1_DECIMALS")
	if err != nil {
		return err
	}

	ReceiptDenom, err = getEnv("CLR_RECEIPT_DENOM")
	if err != nil {
		return err
	}
	ReceiptTransferable = getEnvAsBool("CLR_RECEIPT_TRANSFERABLE", DefaultParameters.ReceiptTransferable)

	PoolAccount, err = getEnv("CLR_POOL_ACCOUNT")
	if err != nil {
		return err
	}
	ManagerAccount, err = getEnv("CLR_MANAGER_ACCOUNT")
	if err != nil {
		return err
	}

	LockWindow = getEnvAsDuration("CLR_LOCK_WINDOW_SECONDS", DefaultParameters.LockWindow)
	RebalanceCooldown = getEnvAsDuration("CLR_REBALANCE_COOLDOWN_SECONDS", DefaultParameters.RebalanceCooldown)
	VestingPeriod = getEnvAsDuration("CLR_VESTING_PERIOD_SECONDS", DefaultParameters.VestingPeriod)
	MaxVestingEntries = getEnvAsInt("CLR_MAX_VESTING_ENTRIES", DefaultParameters.MaxVestingEntries)

	Mode = os.Getenv("CLR_MODE")
	if Mode == "" {
		Mode = "sim"
	}

	log.Debug().
		Str("PoolName", PoolName).
		Str("Asset0", Asset0Denom).
		Str("Asset1", Asset1Denom).
		Str("Mode", Mode).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint8 retrieves an environment variable as a uint8. Returns error if not set or invalid.
func getEnvAsUint8(key string) (uint8, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 8)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint8, got: " + valueStr)
	}
	return uint8(value), nil
}

// getEnvAsInt retrieves an optional environment variable as an int.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an optional environment variable as a bool.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid boolean value, using default")
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an optional environment variable holding whole
// seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	seconds, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil || seconds < 0 {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid duration value, using default")
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}
