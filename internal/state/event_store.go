// ./internal/state/event_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/amberfi/clr/internal/events"
	"github.com/amberfi/clr/internal/logger"
)

// Journal persists engine events to the pool_events table. It implements
// events.Recorder; persistence failures are logged and swallowed so a broken
// database never fails a fund-moving operation.
type Journal struct{}

// NewJournal returns a database-backed event recorder.
func NewJournal() *Journal {
	return &Journal{}
}

// Record implements events.Recorder.
func (j *Journal) Record(evt events.Event) {
	if err := SaveEvent(evt); err != nil {
		journalLogger := logger.GetForComponent("event_journal")
		journalLogger.Error().Err(err).Str("event_type", evt.Type).Msg("Failed to journal event")
	}
}

// SaveEvent inserts one event row.
func SaveEvent(evt events.Event) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	attributesJSON, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal event attributes: %w", err)
	}

	query := `
		INSERT INTO pool_events (event_id, event_type, event_timestamp, attributes)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := DB.Exec(query, evt.ID, evt.Type, evt.Timestamp, attributesJSON); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// GetRecentEvents returns the newest events, newest first. eventType filters
// by type when non-empty.
func GetRecentEvents(limit int, eventType string) ([]events.Event, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT event_id, event_type, event_timestamp, attributes
		FROM pool_events
	`
	args := []any{}
	if eventType != "" {
		query += ` WHERE event_type = $1`
		args = append(args, eventType)
	}
	query += fmt.Sprintf(` ORDER BY event_timestamp DESC LIMIT $%d;`, len(args)+1)
	args = append(args, limit)

	rows, err := DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var result []events.Event
	for rows.Next() {
		var (
			evt            events.Event
			attributesJSON []byte
		)
		if err := rows.Scan(&evt.ID, &evt.Type, &evt.Timestamp, &attributesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(attributesJSON) > 0 {
			if err := json.Unmarshal(attributesJSON, &evt.Attributes); err != nil {
				log.Error().Err(err).Str("event_id", evt.ID).Msg("Failed to unmarshal event attributes")
			}
		}
		result = append(result, evt)
	}
	return result, rows.Err()
}
