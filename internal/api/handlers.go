package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bobarin/threadcast/internal/db"
	"github.com/bobarin/threadcast/internal/models"
	"github.com/bobarin/threadcast/internal/timing"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VideoStore is the persistence the handlers read and write.
type VideoStore interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error)
	ListVideos(ctx context.Context, status string, limit, offset int) ([]models.Video, error)
	CountVideos(ctx context.Context, status string) (int, error)
	GetVideoUnits(ctx context.Context, videoID uuid.UUID) ([]models.VideoUnit, error)
	CreateJob(ctx context.Context, job *models.Job) error
	GetVideoJobs(ctx context.Context, videoID uuid.UUID) ([]models.Job, error)
}

type JobQueue interface {
	EnqueueRenderVideo(ctx context.Context, videoID, jobID uuid.UUID) error
	Ping(ctx context.Context) error
}

// Links turns storage keys into downloadable URLs.
type Links interface {
	URL(ctx context.Context, key string) (string, error)
}

type Handler struct {
	db       VideoStore
	queue    JobQueue
	links    Links
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(store VideoStore, q JobQueue, links Links, logger *zap.Logger) *Handler {
	return &Handler{
		db:       store,
		queue:    q,
		links:    links,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateVideo handles POST /v1/videos
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req models.CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	video := &models.Video{
		ID:        uuid.New(),
		ThreadID:  req.Narrative.ThreadID,
		Title:     req.Narrative.Title,
		Status:    models.VideoStatusQueued,
		Narrative: req.Narrative,
		Options:   req.Options,
	}

	if err := h.db.CreateVideo(r.Context(), video); err != nil {
		h.logger.Error("failed to create video", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create video")
		return
	}

	// Create and enqueue job
	jobID := uuid.New()
	job := &models.Job{
		ID:      jobID,
		VideoID: video.ID,
		Type:    "render_video",
		Status:  models.JobStatusQueued,
	}

	if err := h.db.CreateJob(r.Context(), job); err != nil {
		h.logger.Error("failed to create job", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.queue.EnqueueRenderVideo(r.Context(), video.ID, jobID); err != nil {
		h.logger.Error("failed to enqueue job", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateVideoResponse{
		VideoID: video.ID,
		Status:  video.Status,
	})
}

// ListVideos handles GET /v1/videos
// Query params:
//   - status: filter by video status (queued, synthesizing, rendering, uploading, completed, failed)
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" {
		switch models.VideoStatus(statusFilter) {
		case models.VideoStatusQueued, models.VideoStatusSynthesizing,
			models.VideoStatusRendering, models.VideoStatusUploading,
			models.VideoStatusCompleted, models.VideoStatusFailed:
			// valid
		default:
			respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: queued, synthesizing, rendering, uploading, completed, failed")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	total, err := h.db.CountVideos(r.Context(), statusFilter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count videos")
		return
	}

	videos, err := h.db.ListVideos(r.Context(), statusFilter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list videos")
		return
	}

	summaries := make([]models.VideoSummary, 0, len(videos))
	for _, v := range videos {
		summaries = append(summaries, models.VideoSummary{
			ID:               v.ID,
			ThreadID:         v.ThreadID,
			Title:            v.Title,
			Status:           v.Status,
			TotalDurationSec: v.TotalDurationSec,
			Progress:         v.Progress,
			ErrorMessage:     v.ErrorMessage,
			CreatedAt:        v.CreatedAt,
			UpdatedAt:        v.UpdatedAt,
		})
	}

	respondJSON(w, http.StatusOK, models.ListVideosResponse{
		Videos: summaries,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// GetVideo handles GET /v1/videos/{id}
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	video, ok := h.loadVideo(w, r)
	if !ok {
		return
	}

	units, err := h.db.GetVideoUnits(r.Context(), video.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get units")
		return
	}

	response := models.VideoResponse{
		Video: *video,
		Units: units,
	}
	if video.StorageKey != nil {
		if url, err := h.links.URL(r.Context(), *video.StorageKey); err == nil {
			response.VideoURL = &url
		} else {
			h.logger.Warn("failed to sign video URL", zap.String("video_id", video.ID.String()), zap.Error(err))
		}
	}

	respondJSON(w, http.StatusOK, response)
}

// GetVideoDownload handles GET /v1/videos/{id}/download
func (h *Handler) GetVideoDownload(w http.ResponseWriter, r *http.Request) {
	video, ok := h.loadVideo(w, r)
	if !ok {
		return
	}

	if video.StorageKey == nil {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	url, err := h.links.URL(r.Context(), *video.StorageKey)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate download URL")
		return
	}

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GetVideoCaptions handles GET /v1/videos/{id}/captions
// Query params:
//   - t:    seconds, required
//   - unit: unit name ("title", "0", "postaudio-1", ...). When omitted, t is
//     measured from the start of the video.
func (h *Handler) GetVideoCaptions(w http.ResponseWriter, r *http.Request) {
	t, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
	if err != nil || t < 0 {
		respondError(w, http.StatusBadRequest, "Query parameter t must be a non-negative number of seconds")
		return
	}

	video, ok := h.loadVideo(w, r)
	if !ok {
		return
	}

	units, err := h.db.GetVideoUnits(r.Context(), video.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get units")
		return
	}

	unit, local, found := locateUnit(units, r.URL.Query().Get("unit"), t)
	if !found {
		respondError(w, http.StatusNotFound, "Unit not found")
		return
	}

	respondJSON(w, http.StatusOK, models.CaptionPreview{
		Unit: unit.Name,
		T:    local,
		Text: timing.TextVisibleAt(unit.Timeline, local),
	})
}

// GetVideoJobs handles GET /v1/videos/{id}/debug/jobs
func (h *Handler) GetVideoJobs(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid video ID")
		return
	}

	jobs, err := h.db.GetVideoJobs(r.Context(), videoID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get jobs")
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

// Helper methods

func (h *Handler) loadVideo(w http.ResponseWriter, r *http.Request) (*models.Video, bool) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid video ID")
		return nil, false
	}

	video, err := h.db.GetVideo(r.Context(), videoID)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Video not found")
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get video")
		return nil, false
	}
	return video, true
}

// locateUnit finds the unit a caption lookup refers to and the time within
// it. Without a name, t is an offset into the whole video.
func locateUnit(units []models.VideoUnit, name string, t float64) (models.VideoUnit, float64, bool) {
	if name != "" {
		for _, u := range units {
			if u.Name == name {
				return u, t, true
			}
		}
		return models.VideoUnit{}, 0, false
	}

	offset := 0.0
	for _, u := range units {
		if t < offset+u.DurationSec {
			return u, t - offset, true
		}
		offset += u.DurationSec
	}
	return models.VideoUnit{}, 0, false
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return "Invalid fields: " + strings.Join(fields, ", ")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check. Reports 503 while the job queue is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.queue.Ping(ctx); err != nil {
		h.logger.Warn("health check: queue unreachable", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "queue": "unreachable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
