package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bobarin/threadcast/internal/models"
	"github.com/google/uuid"
)

// ReplaceVideoUnits swaps the stored units of a video for the given ones.
func (db *DB) ReplaceVideoUnits(ctx context.Context, videoID uuid.UUID, units []models.VideoUnit) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM video_units WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("failed to clear units: %w", err)
	}

	query := `
		INSERT INTO video_units (
			id, video_id, position, name, duration_sec, parts, timeline
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i := range units {
		u := &units[i]
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		u.VideoID = videoID

		timeline, err := json.Marshal(u.Timeline)
		if err != nil {
			return fmt.Errorf("failed to marshal timeline for unit %s: %w", u.Name, err)
		}

		if _, err := tx.ExecContext(ctx, query,
			u.ID, videoID, u.Position, u.Name, u.DurationSec, u.Parts, timeline,
		); err != nil {
			return fmt.Errorf("failed to insert unit %s: %w", u.Name, err)
		}
	}

	return tx.Commit()
}

func (db *DB) GetVideoUnits(ctx context.Context, videoID uuid.UUID) ([]models.VideoUnit, error) {
	query := `
		SELECT id, video_id, position, name, duration_sec, parts, timeline, created_at
		FROM video_units
		WHERE video_id = $1
		ORDER BY position
	`

	rows, err := db.QueryContext(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var units []models.VideoUnit
	for rows.Next() {
		var u models.VideoUnit
		var timeline []byte
		if err := rows.Scan(
			&u.ID, &u.VideoID, &u.Position, &u.Name, &u.DurationSec, &u.Parts,
			&timeline, &u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		if len(timeline) > 0 {
			if err := json.Unmarshal(timeline, &u.Timeline); err != nil {
				return nil, fmt.Errorf("failed to decode timeline for unit %s: %w", u.Name, err)
			}
		}
		units = append(units, u)
	}

	return units, rows.Err()
}
