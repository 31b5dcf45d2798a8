package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/threadcast/internal/models"
	"github.com/google/uuid"
)

const videoColumns = `
	id, thread_id, title, status, narrative, options,
	total_duration_sec, last_index, progress, storage_key,
	error_message, created_at, updated_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner, v *models.Video) error {
	return row.Scan(
		&v.ID, &v.ThreadID, &v.Title, &v.Status, &v.Narrative, &v.Options,
		&v.TotalDurationSec, &v.LastIndex, &v.Progress, &v.StorageKey,
		&v.ErrorMessage, &v.CreatedAt, &v.UpdatedAt,
	)
}

func (db *DB) CreateVideo(ctx context.Context, video *models.Video) error {
	query := `
		INSERT INTO videos (
			id, thread_id, title, status, narrative, options
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		video.ID, video.ThreadID, video.Title, video.Status,
		video.Narrative, video.Options,
	).Scan(&video.CreatedAt, &video.UpdatedAt)
}

func (db *DB) GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	video := &models.Video{}
	err := scanVideo(db.QueryRowContext(ctx, query, id), video)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return video, nil
}

// ListVideos returns videos ordered by creation date (newest first).
// Supports optional status filter, limit, and offset for pagination.
func (db *DB) ListVideos(ctx context.Context, status string, limit, offset int) ([]models.Video, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `SELECT ` + videoColumns + ` FROM videos`

	if status != "" {
		query := baseSelect + ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = db.QueryContext(ctx, query, status, limit, offset)
	} else {
		query := baseSelect + ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		rows, err = db.QueryContext(ctx, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		var v models.Video
		if err := scanVideo(rows, &v); err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, v)
	}

	return videos, rows.Err()
}

// CountVideos returns the total number of videos, optionally filtered by status.
func (db *DB) CountVideos(ctx context.Context, status string) (int, error) {
	var count int
	var err error

	if status != "" {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos WHERE status = $1`, status).Scan(&count)
	} else {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count videos: %w", err)
	}

	return count, nil
}

func (db *DB) UpdateVideoStatus(ctx context.Context, id uuid.UUID, status models.VideoStatus) error {
	query := `UPDATE videos SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

// UpdateVideoProgress never lowers the stored progress.
func (db *DB) UpdateVideoProgress(ctx context.Context, id uuid.UUID, progress float64) error {
	query := `UPDATE videos SET progress = GREATEST(progress, $1), updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, progress, id)
	return err
}

// UpdateVideoResult records a finished render and marks the video completed.
func (db *DB) UpdateVideoResult(ctx context.Context, id uuid.UUID, totalDuration float64, lastIndex int, storageKey string) error {
	query := `
		UPDATE videos
		SET status = $1, total_duration_sec = $2, last_index = $3,
			storage_key = $4, progress = 1, error_message = NULL, updated_at = NOW()
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, models.VideoStatusCompleted, totalDuration, lastIndex, storageKey, id)
	return err
}

func (db *DB) UpdateVideoError(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE videos
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, models.VideoStatusFailed, errorMessage, id)
	return err
}
