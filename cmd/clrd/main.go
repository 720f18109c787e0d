package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/amberfi/clr/internal/amm"
	"github.com/amberfi/clr/internal/config"
	"github.com/amberfi/clr/internal/escrow"
	"github.com/amberfi/clr/internal/logger"
	"github.com/amberfi/clr/internal/pool"
	"github.com/amberfi/clr/internal/rewards"
	"github.com/amberfi/clr/internal/service"
	"github.com/amberfi/clr/internal/state"
	"github.com/amberfi/clr/internal/token"
	"github.com/amberfi/clr/internal/types"
	"github.com/amberfi/clr/internal/web"
)

const (
	LOOP_INTERVAL = 10 * time.Minute
)

// main is the entry point for the pool daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("CLR Pool Daemon Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	recorder := state.NewJournal()

	// --- 2. Asset Ledger and AMM Binding (with Safety Switch) ---
	asset0 := types.Asset{Denom: config.Asset0Denom, Symbol: strings.ToUpper(config.Asset0Denom), Decimals: config.Asset0Decimals}
	asset1 := types.Asset{Denom: config.Asset1Denom, Symbol: strings.ToUpper(config.Asset1Denom), Decimals: config.Asset1Decimals}

	if config.Mode != "sim" {
		log.Fatal().Str("mode", config.Mode).Msg("Only CLR_MODE=sim is supported. Halting to prevent accidental execution against a live venue.")
	}
	log.Info().Msg("Initializing in SIM mode. All AMM interactions are simulated.")

	bank := token.NewBank()
	for _, asset := range []types.Asset{asset0, asset1} {
		if err := bank.RegisterAsset(asset); err != nil {
			log.Fatal().Err(err).Str("denom", asset.Denom).Msg("Failed to register asset")
		}
	}

	simPrice := envDec("CLR_SIM_PRICE", "1.0")
	simFee := envDec("CLR_SIM_FEE_RATE", "0.003")
	simPool, err := amm.NewSimPool(asset0, asset1, simPrice, simFee)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create simulated AMM pool")
	}
	simPool.BindSettlement(bank, "amm:"+config.PoolName, config.PoolAccount)

	// --- 3. Engine Wiring ---
	engine, err := pool.NewEngine(pool.Config{
		Name:              config.PoolName,
		Asset0:            asset0,
		Asset1:            asset1,
		Address:           config.PoolAccount,
		Manager:           config.ManagerAccount,
		ReceiptDenom:      config.ReceiptDenom,
		Transferable:      config.ReceiptTransferable,
		LockWindow:        config.LockWindow,
		RebalanceCooldown: config.RebalanceCooldown,
		Bank:              bank,
		AMM:               simPool,
		Recorder:          recorder,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pool engine")
	}

	var distributor *rewards.Distributor
	var vestingEscrow *escrow.Escrow
	if rewardDenoms := envList("CLR_REWARD_DENOMS"); len(rewardDenoms) > 0 {
		for _, denom := range rewardDenoms {
			rewardAsset := types.Asset{Denom: denom, Symbol: strings.ToUpper(denom), Decimals: 18}
			if err := bank.RegisterAsset(rewardAsset); err != nil {
				log.Fatal().Err(err).Str("denom", denom).Msg("Failed to register reward asset")
			}
		}

		distributor, err = rewards.NewDistributor(rewards.Config{
			Bank:         bank,
			Stakes:       engine.Receipt(),
			Recorder:     recorder,
			Address:      "rewards:" + config.PoolName,
			Manager:      config.ManagerAccount,
			RewardDenoms: rewardDenoms,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create reward distributor")
		}
		engine.SetRewards(distributor)

		vestingEscrow, err = escrow.NewEscrow(bank, "escrow:"+config.PoolName, config.ManagerAccount, config.MaxVestingEntries, recorder)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create vesting escrow")
		}
		if err := vestingEscrow.AddRewardsContract(config.ManagerAccount, distributor.Address(), config.VestingPeriod); err != nil {
			log.Fatal().Err(err).Msg("Failed to register reward distributor with escrow")
		}
		distributor.SetEscrow(vestingEscrow)
		log.Info().Strs("denoms", rewardDenoms).Msg("Reward distribution enabled with vesting escrow")
	}

	// --- 4. Sim Seeding ---
	if seed0, seed1 := envInt("CLR_SIM_SEED_AMOUNT0"), envInt("CLR_SIM_SEED_AMOUNT1"); seed0.IsPositive() || seed1.IsPositive() {
		lower := mustAtoi(os.Getenv("CLR_INITIAL_LOWER_TICK"), -296)
		upper := mustAtoi(os.Getenv("CLR_INITIAL_UPPER_TICK"), 296)
		if err := seedInitialPosition(bank, engine, asset0, asset1, seed0, seed1, lower, upper); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed initial position")
		}
		log.Info().
			Int("lower_tick", lower).
			Int("upper_tick", upper).
			Msg("Initial position seeded")
	}

	// --- 5. Web Dashboard ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}
	webServer := web.NewWebServer(webPort, engine, distributor)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting pool web dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 6. Service Loop ---
	svc, err := service.NewService(service.Config{
		Engine:  engine,
		Rewards: distributor,
		Escrow:  vestingEscrow,
		Persist: true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pool service")
	}

	log.Info().Str("interval", LOOP_INTERVAL.String()).Msg("Starting pool service loop")
	ctx := context.Background()
	svc.RunLoop(ctx, LOOP_INTERVAL)
}

// seedInitialPosition funds the manager and opens the one-time position.
func seedInitialPosition(bank *token.Bank, engine *pool.Engine, asset0, asset1 types.Asset, seed0, seed1 sdkmath.Int, lower, upper int) error {
	manager := config.ManagerAccount
	if seed0.IsPositive() {
		if err := bank.Mint(manager, asset0.Denom, seed0); err != nil {
			return err
		}
		if err := bank.Approve(manager, engine.Address(), asset0.Denom, seed0); err != nil {
			return err
		}
	}
	if seed1.IsPositive() {
		if err := bank.Mint(manager, asset1.Denom, seed1); err != nil {
			return err
		}
		if err := bank.Approve(manager, engine.Address(), asset1.Denom, seed1); err != nil {
			return err
		}
	}
	return engine.MintInitial(manager, lower, upper, seed0, seed1)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}

// envDec parses a fixed-point environment variable with a fallback.
func envDec(key, fallback string) sdkmath.LegacyDec {
	value := os.Getenv(key)
	if value == "" {
		value = fallback
	}
	dec, err := sdkmath.LegacyNewDecFromStr(value)
	if err != nil {
		log.Fatal().Err(err).Str("key", key).Str("value", value).Msg("Invalid decimal environment variable")
	}
	return dec
}

// envInt parses an integer amount environment variable, zero when unset.
func envInt(key string) sdkmath.Int {
	value := os.Getenv(key)
	if value == "" {
		return sdkmath.ZeroInt()
	}
	amount, ok := sdkmath.NewIntFromString(value)
	if !ok {
		log.Fatal().Str("key", key).Str("value", value).Msg("Invalid integer environment variable")
	}
	return amount
}

// envList parses a comma-separated environment variable.
func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
