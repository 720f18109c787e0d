/*

This file defines the observable events emitted by the engines for external
indexers, and the Recorder interface the engines publish them through. The
postgres-backed recorder lives in internal/state; tests use the no-op or the
in-memory recorder.

*/

package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/amberfi/clr/internal/logger"
)

// Event types emitted by the pool, rewards and escrow engines.
const (
	TypePositionMinted         = "position_minted"
	TypePositionBurned         = "position_burned"
	TypeDeposit                = "deposit"
	TypeWithdraw               = "withdraw"
	TypeFeeCollected           = "fee_collected"
	TypeReinvested             = "reinvested"
	TypeRebalanced             = "rebalanced"
	TypeRewardProgramStarted   = "reward_program_started"
	TypeRewardClaimed          = "reward_claimed"
	TypeVestingEntryAppended   = "vesting_entry_appended"
	TypeVested                 = "vested"
	TypeRewardsContractAdded   = "rewards_contract_added"
	TypeRewardsContractRemoved = "rewards_contract_removed"
)

// Event is a single observable occurrence. Attributes are flat string pairs so
// they can be journaled as JSONB without schema churn.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// New builds an event with a fresh ID and the supplied timestamp.
func New(eventType string, ts time.Time, attrs map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  ts,
		Attributes: attrs,
	}
}

// Recorder receives events as they happen. Implementations must not fail the
// emitting operation; recording is best-effort relative to engine state.
type Recorder interface {
	Record(evt Event)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}

// LogRecorder writes events to the component logger. Used when no database is
// configured.
type LogRecorder struct{}

func (LogRecorder) Record(evt Event) {
	eventLogger := logger.GetForComponent("events")
	e := eventLogger.Info().Str("event_id", evt.ID).Str("event_type", evt.Type).Time("event_time", evt.Timestamp)
	for k, v := range evt.Attributes {
		e = e.Str(k, v)
	}
	e.Msg("Event recorded")
}

// MemoryRecorder captures events in order. Intended for tests.
type MemoryRecorder struct {
	Events []Event
}

func (m *MemoryRecorder) Record(evt Event) {
	m.Events = append(m.Events, evt)
}

// OfType returns the captured events matching the given type.
func (m *MemoryRecorder) OfType(eventType string) []Event {
	var out []Event
	for _, evt := range m.Events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}
