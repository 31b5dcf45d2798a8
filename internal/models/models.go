package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobarin/threadcast/internal/timing"
	"github.com/google/uuid"
)

// Enums
type VideoStatus string

const (
	VideoStatusQueued       VideoStatus = "queued"
	VideoStatusSynthesizing VideoStatus = "synthesizing"
	VideoStatusRendering    VideoStatus = "rendering"
	VideoStatusUploading    VideoStatus = "uploading"
	VideoStatusCompleted    VideoStatus = "completed"
	VideoStatusFailed       VideoStatus = "failed"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// ---------------------------------------------------------------------------
// Narrative input
// ---------------------------------------------------------------------------

// Comment is one reply read aloud in comment mode.
type Comment struct {
	ID     string `json:"id" yaml:"id"`
	Author string `json:"author,omitempty" yaml:"author,omitempty"`
	Body   string `json:"body" yaml:"body" validate:"required"`
}

// Narrative is the text a video narrates: a title followed by either the
// comments (comment mode) or the post itself (story mode).
type Narrative struct {
	ThreadID   string    `json:"thread_id" yaml:"thread_id" validate:"required"`
	Title      string    `json:"title" yaml:"title" validate:"required"`
	URL        string    `json:"url,omitempty" yaml:"url,omitempty"`
	Post       string    `json:"post,omitempty" yaml:"post,omitempty"`
	Paragraphs []string  `json:"paragraphs,omitempty" yaml:"paragraphs,omitempty"`
	Comments   []Comment `json:"comments,omitempty" yaml:"comments,omitempty" validate:"dive"`
}

// Value stores a narrative in a JSONB column.
func (n Narrative) Value() (driver.Value, error) {
	return json.Marshal(n)
}

func (n *Narrative) Scan(value interface{}) error {
	if value == nil {
		*n = Narrative{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("narrative: unsupported scan type %T", value)
	}
	return json.Unmarshal(bytes, n)
}

// RenderOptions are per-video overrides of the service defaults.
// All fields are optional pointers, nil means "use defaults".
type RenderOptions struct {
	StoryMode        *bool    `json:"story_mode,omitempty" yaml:"story_mode,omitempty"`
	StoryModeMethod  *int     `json:"story_mode_method,omitempty" yaml:"story_mode_method,omitempty" validate:"omitempty,oneof=0 1"`
	Language         *string  `json:"language,omitempty" yaml:"language,omitempty" validate:"omitempty,len=2"`
	MaxDurationSec   *float64 `json:"max_duration_sec,omitempty" yaml:"max_duration_sec,omitempty" validate:"omitempty,gt=0"`
	WordTimings      *bool    `json:"word_timings,omitempty" yaml:"word_timings,omitempty"`
	Voice            *string  `json:"voice,omitempty" yaml:"voice,omitempty"`
	RandomVoice      *bool    `json:"random_voice,omitempty" yaml:"random_voice,omitempty"`
	Background       *string  `json:"background,omitempty" yaml:"background,omitempty"`
	BackgroundVolume *float64 `json:"background_volume,omitempty" yaml:"background_volume,omitempty" validate:"omitempty,gte=0,lte=2"`
	Opacity          *float64 `json:"opacity,omitempty" yaml:"opacity,omitempty" validate:"omitempty,gte=0,lte=1"`
}

func (o RenderOptions) Value() (driver.Value, error) {
	return json.Marshal(o)
}

func (o *RenderOptions) Scan(value interface{}) error {
	if value == nil {
		*o = RenderOptions{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("render options: unsupported scan type %T", value)
	}
	return json.Unmarshal(bytes, o)
}

// Models

type Video struct {
	ID               uuid.UUID     `json:"id"`
	ThreadID         string        `json:"thread_id"`
	Title            string        `json:"title"`
	Status           VideoStatus   `json:"status"`
	Narrative        Narrative     `json:"-"`
	Options          RenderOptions `json:"options"`
	TotalDurationSec *float64      `json:"total_duration_sec,omitempty"`
	LastIndex        *int          `json:"last_index,omitempty"` // last narrated comment/paragraph
	Progress         float64       `json:"progress"`             // render fraction in [0,1]
	StorageKey       *string       `json:"storage_key,omitempty"`
	ErrorMessage     *string       `json:"error_message,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// VideoUnit is one narrated unit (title, comment or story part) of a video.
type VideoUnit struct {
	ID          uuid.UUID       `json:"id"`
	VideoID     uuid.UUID       `json:"video_id"`
	Position    int             `json:"position"` // order on the video timeline
	Name        string          `json:"name"`     // "title", "0", "postaudio-1", ...
	DurationSec float64         `json:"duration_sec"`
	Parts       int             `json:"parts"` // 0 when synthesized in one call
	Timeline    timing.Timeline `json:"timeline,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Job struct {
	ID           uuid.UUID  `json:"id"`
	VideoID      uuid.UUID  `json:"video_id"`
	Type         string     `json:"type"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DTOs for API responses
type VideoResponse struct {
	Video
	Units    []VideoUnit `json:"units,omitempty"`
	VideoURL *string     `json:"video_url,omitempty"`
}

// VideoSummary is a lightweight DTO for the list endpoint (no units array).
type VideoSummary struct {
	ID               uuid.UUID   `json:"id"`
	ThreadID         string      `json:"thread_id"`
	Title            string      `json:"title"`
	Status           VideoStatus `json:"status"`
	TotalDurationSec *float64    `json:"total_duration_sec,omitempty"`
	Progress         float64     `json:"progress"`
	ErrorMessage     *string     `json:"error_message,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

type ListVideosResponse struct {
	Videos []VideoSummary `json:"videos"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type CreateVideoRequest struct {
	Narrative Narrative     `json:"narrative" yaml:"narrative" validate:"required"`
	Options   RenderOptions `json:"options" yaml:"options"`
}

type CreateVideoResponse struct {
	VideoID uuid.UUID   `json:"video_id"`
	Status  VideoStatus `json:"status"`
}

// CaptionPreview is the caption text on screen at T seconds into a unit.
type CaptionPreview struct {
	Unit string  `json:"unit"`
	T    float64 `json:"t"`
	Text string  `json:"text"`
}
