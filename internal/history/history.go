// Package history records applied gamma changes in Postgres.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saaga0h/circadianlight/internal/circadian"
	"github.com/saaga0h/circadianlight/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS gamma_history (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	phase TEXT NOT NULL,
	red DOUBLE PRECISION NOT NULL,
	green DOUBLE PRECISION NOT NULL,
	blue DOUBLE PRECISION NOT NULL,
	hour DOUBLE PRECISION NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gamma_history_name_applied
	ON gamma_history (name, applied_at DESC);
`

// Entry is one applied gamma change
type Entry struct {
	ID        uuid.UUID          `json:"id"`
	Name      string             `json:"name"`
	Phase     circadian.DayPhase `json:"phase"`
	Gamma     circadian.Triple   `json:"gamma"`
	Hour      float64            `json:"hour"`
	AppliedAt time.Time          `json:"applied_at"`
}

// Store persists entries through a postgres.Client
type Store struct {
	db postgres.Client
}

// NewStore creates a store; call Migrate before the first Record
func NewStore(db postgres.Client) *Store {
	return &Store{db: db}
}

// Migrate creates the history table if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create gamma_history: %w", err)
	}
	return nil
}

// Record inserts a row for the given reading and returns the stored entry
func (s *Store) Record(ctx context.Context, name string, reading circadian.Reading, at time.Time) (Entry, error) {
	entry := Entry{
		ID:        uuid.New(),
		Name:      name,
		Phase:     reading.Phase,
		Gamma:     reading.Gamma,
		Hour:      reading.Hour,
		AppliedAt: at.UTC(),
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO gamma_history (id, name, phase, red, green, blue, hour, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.Name, entry.Phase.String(),
		entry.Gamma.Red, entry.Gamma.Green, entry.Gamma.Blue,
		entry.Hour, entry.AppliedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to insert gamma history: %w", err)
	}
	return entry, nil
}

// Recent returns up to limit entries for name, newest first
func (s *Store) Recent(ctx context.Context, name string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, name, phase, red, green, blue, hour, applied_at
		FROM gamma_history
		WHERE name = $1
		ORDER BY applied_at DESC
		LIMIT $2`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query gamma history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			phase string
		)
		if err := rows.Scan(&e.ID, &e.Name, &phase,
			&e.Gamma.Red, &e.Gamma.Green, &e.Gamma.Blue,
			&e.Hour, &e.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan gamma history: %w", err)
		}
		e.Phase, err = circadian.ParsePhase(phase)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
