/*

This file contains the pool service loop: the periodic cycle that sweeps
trading fees into the buffer, compounds the buffer back into the position and
persists a snapshot of the pool's state. The loop is the only writer of cycle
snapshots; the engines stay pure state machines.

*/

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/amberfi/clr/internal/escrow"
	"github.com/amberfi/clr/internal/logger"
	"github.com/amberfi/clr/internal/pool"
	"github.com/amberfi/clr/internal/rewards"
	"github.com/amberfi/clr/internal/state"
	"github.com/amberfi/clr/internal/types"
)

// Config holds the collaborators injected into the service.
type Config struct {
	Engine  *pool.Engine
	Rewards *rewards.Distributor // optional
	Escrow  *escrow.Escrow       // optional
	Persist bool                 // save cycle snapshots to the database
}

// Service drives the periodic maintenance cycle for one pool instance.
type Service struct {
	logger  zerolog.Logger
	engine  *pool.Engine
	rewards *rewards.Distributor
	escrow  *escrow.Escrow
	persist bool

	cycleCount int
}

// NewService creates the service after validating its dependencies.
func NewService(cfg Config) (*Service, error) {
	if err := validateServiceConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}
	return &Service{
		logger:  logger.GetForComponent("pool_service"),
		engine:  cfg.Engine,
		rewards: cfg.Rewards,
		escrow:  cfg.Escrow,
		persist: cfg.Persist,
	}, nil
}

func validateServiceConfig(cfg Config) error {
	if cfg.Engine == nil {
		return errors.New("pool engine is required")
	}
	if cfg.Persist && state.DB == nil {
		return errors.New("persistence enabled but database is not initialized")
	}
	return nil
}

// RunLoop starts the main service loop with the specified interval
func (s *Service) RunLoop(ctx context.Context, interval time.Duration) {
	s.logger.Info().
		Dur("interval", interval).
		Msg("Starting pool service loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Service loop stopped due to context cancellation")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one maintenance pass: compound fees, release due vesting
// entries, snapshot.
func (s *Service) RunCycle(ctx context.Context) {
	cycleStart := time.Now()
	cycle := s.nextCycleNumber()
	cycleLogger := s.logger.With().Int("cycle", cycle).Logger()
	cycleLogger.Info().Msg("Initiating pool cycle")

	if ctx.Err() != nil {
		cycleLogger.Warn().Msg("Cycle aborted before start")
		return
	}

	added, err := s.engine.CollectAndReinvest()
	switch {
	case errors.Is(err, pool.ErrZeroReinvestAmount):
		cycleLogger.Debug().Msg("Nothing to reinvest this cycle")
	case err != nil:
		cycleLogger.Error().Err(err).Msg("Fee compounding failed")
	default:
		cycleLogger.Info().Str("liquidity_added", added.String()).Msg("Fees compounded into position")
	}

	s.releaseVested(cycleLogger)
	s.saveSnapshot(cycle, cycleLogger)

	cycleLogger.Info().
		Dur("duration", time.Since(cycleStart)).
		Msg("Pool cycle completed")
}

// releaseVested pushes every holder's due vesting entries out of escrow.
func (s *Service) releaseVested(cycleLogger zerolog.Logger) {
	if s.escrow == nil || s.rewards == nil {
		return
	}
	denoms := s.rewards.RewardDenoms()
	for _, holder := range s.engine.Receipt().Holders() {
		released, err := s.escrow.VestAll(holder, s.rewards.Address(), denoms)
		if err != nil {
			cycleLogger.Error().Err(err).Str("account", holder).Msg("Vesting release failed")
			continue
		}
		for denom, amount := range released {
			if amount.IsPositive() {
				cycleLogger.Info().
					Str("account", holder).
					Str("denom", denom).
					Str("amount", amount.String()).
					Msg("Vested rewards released")
			}
		}
	}
}

func (s *Service) saveSnapshot(cycle int, cycleLogger zerolog.Logger) {
	snapshot := s.engine.Snapshot(cycle)
	if s.rewards != nil {
		snapshot.RewardPrograms = s.rewards.Programs()
	}
	if !s.persist {
		return
	}
	if _, err := state.SavePoolSnapshot(snapshot); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to persist cycle snapshot")
	}
}

// nextCycleNumber advances the cycle counter, preferring the persistent one.
func (s *Service) nextCycleNumber() int {
	if s.persist {
		cycle, err := state.IncrementCycleNumber()
		if err == nil {
			s.cycleCount = cycle
			return cycle
		}
		s.logger.Error().Err(err).Msg("Failed to increment persistent cycle counter")
	}
	s.cycleCount++
	return s.cycleCount
}

// Snapshot exposes the engine's current state for the web layer.
func (s *Service) Snapshot() types.PoolSnapshot {
	snapshot := s.engine.Snapshot(s.cycleCount)
	if s.rewards != nil {
		snapshot.RewardPrograms = s.rewards.Programs()
	}
	return snapshot
}
