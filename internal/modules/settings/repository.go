// Package settings stores per-source routing overrides in inbox.db and
// layers them over the environment defaults.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles the source_settings table.
// Each row holds the JSON-encoded SourceOverrides of one source.
type Repository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a new source settings repository.
//
// Parameters:
//   - db: Database connection to inbox.db
//   - log: Structured logger
//
// Returns:
//   - *Repository: Initialized repository instance
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repository", "settings").Logger(),
	}
}

// Get retrieves the overrides of a source.
// Returns nil if the source has none (not an error).
func (r *Repository) Get(ctx context.Context, source string) (*SourceOverrides, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, "SELECT config FROM source_settings WHERE source = ?", source).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings for %s: %w", source, err)
	}

	var o SourceOverrides
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fmt.Errorf("failed to decode settings for %s: %w", source, err)
	}
	return &o, nil
}

// Set stores the overrides of a source, replacing any previous row
func (r *Repository) Set(ctx context.Context, source string, o SourceOverrides) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode settings for %s: %w", source, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO source_settings (source, config, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			config = excluded.config,
			updated_at = excluded.updated_at
	`, source, string(raw), r.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set settings for %s: %w", source, err)
	}
	return nil
}

// GetAll retrieves the overrides of every source
func (r *Repository) GetAll(ctx context.Context) (map[string]SourceOverrides, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT source, config FROM source_settings ORDER BY source")
	if err != nil {
		return nil, fmt.Errorf("failed to get all settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]SourceOverrides)
	for rows.Next() {
		var source, raw string
		if err := rows.Scan(&source, &raw); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan settings row")
			continue
		}
		var o SourceOverrides
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			r.log.Warn().Err(err).Str("source", source).Msg("Skipping undecodable settings row")
			continue
		}
		result[source] = o
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return result, nil
}

// Delete removes the overrides of a source. Deleting a missing source is not an error.
func (r *Repository) Delete(ctx context.Context, source string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM source_settings WHERE source = ?", source); err != nil {
		return fmt.Errorf("failed to delete settings for %s: %w", source, err)
	}
	return nil
}
