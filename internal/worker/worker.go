package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobarin/threadcast/internal/models"
	"github.com/bobarin/threadcast/internal/pipeline"
	"github.com/bobarin/threadcast/internal/queue"
	"github.com/bobarin/threadcast/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the worker needs.
type Store interface {
	GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error)
	UpdateVideoStatus(ctx context.Context, id uuid.UUID, status models.VideoStatus) error
	UpdateVideoProgress(ctx context.Context, id uuid.UUID, progress float64) error
	UpdateVideoResult(ctx context.Context, id uuid.UUID, totalDuration float64, lastIndex int, storageKey string) error
	UpdateVideoError(ctx context.Context, id uuid.UUID, errorMessage string) error
	ReplaceVideoUnits(ctx context.Context, videoID uuid.UUID, units []models.VideoUnit) error
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	UpdateJobError(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// JobSource hands out queued jobs; a nil job means none arrived in time.
type JobSource interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
}

// Renderer runs the narration and render pipeline.
type Renderer interface {
	Settings() pipeline.Settings
	RunWith(ctx context.Context, n models.Narrative, s pipeline.Settings, onProgress pipeline.ProgressFunc) (*pipeline.Output, error)
}

const (
	dequeueTimeout = 5 * time.Second

	// progress is only persisted when it moved at least this much
	progressStep = 0.02
)

// Overall progress bands per pipeline stage.
var stageBands = map[pipeline.Stage][2]float64{
	pipeline.StageSynthesizing: {0, 0.2},
	pipeline.StageRendering:    {0.2, 0.85},
	pipeline.StageOnlyTTS:      {0.85, 0.95},
}

type Worker struct {
	store    Store
	jobs     JobSource
	renderer Renderer
	objects  storage.ObjectStore
	logger   *zap.Logger

	// KeepOutputs leaves rendered files on disk after upload.
	KeepOutputs bool
}

func New(store Store, jobs JobSource, renderer Renderer, objects storage.ObjectStore, logger *zap.Logger) *Worker {
	return &Worker{
		store:    store,
		jobs:     jobs,
		renderer: renderer,
		objects:  objects,
		logger:   logger,
	}
}

// Start runs concurrency consumers of the render queue until ctx is done.
func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	w.logger.Info("worker started", zap.Int("concurrency", concurrency))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			w.processQueue(ctx, queue.QueueRenderVideo, w.handleRenderVideo)
			return nil
		})
	}

	err := g.Wait()
	w.logger.Info("worker shutting down")
	return err
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.jobs.Dequeue(ctx, queueName, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", zap.String("queue", queueName), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue // No job available, retry
		}

		w.runJob(ctx, job, handler)
	}
}

func (w *Worker) runJob(ctx context.Context, job *queue.Job, handler func(context.Context, *queue.Job) error) {
	log := w.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("type", job.Type),
		zap.String("video_id", job.VideoID.String()),
	)
	log.Info("processing job")

	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
		log.Warn("failed to update job status", zap.Error(err))
	}

	if err := handler(ctx, job); err != nil {
		log.Error("job failed", zap.Error(err))
		if err := w.store.UpdateJobError(ctx, job.ID, err.Error()); err != nil {
			log.Warn("failed to record job error", zap.Error(err))
		}
		return
	}

	log.Info("job completed")
	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusSucceeded); err != nil {
		log.Warn("failed to update job status", zap.Error(err))
	}
}

// handleRenderVideo narrates and renders one video, uploads it and stores
// the per-unit timelines.
func (w *Worker) handleRenderVideo(ctx context.Context, job *queue.Job) error {
	video, err := w.store.GetVideo(ctx, job.VideoID)
	if err != nil {
		return fmt.Errorf("failed to get video: %w", err)
	}

	if err := w.renderVideo(ctx, video); err != nil {
		if uerr := w.store.UpdateVideoError(ctx, video.ID, err.Error()); uerr != nil {
			w.logger.Warn("failed to record video error", zap.String("video_id", video.ID.String()), zap.Error(uerr))
		}
		return err
	}
	return nil
}

func (w *Worker) renderVideo(ctx context.Context, video *models.Video) error {
	log := w.logger.With(zap.String("video_id", video.ID.String()))

	if err := w.store.UpdateVideoStatus(ctx, video.ID, models.VideoStatusSynthesizing); err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}

	// Runs of the same thread must not share a workspace or output name.
	s := w.renderer.Settings().WithOptions(video.Options)
	s.TempDir = filepath.Join(s.TempDir, video.ID.String())
	s.OutputDir = filepath.Join(s.OutputDir, video.ID.String())
	s.ImageDir = s.ScreenshotDir(pipeline.SafeID(video.Narrative.ThreadID))
	if !s.KeepWorkspace {
		defer w.removeDir(s.TempDir, log)
	}

	tracker := newProgressTracker(ctx, w.store, video.ID, log)
	out, err := w.renderer.RunWith(ctx, video.Narrative, s, tracker.update)
	if err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}

	if err := w.store.UpdateVideoStatus(ctx, video.ID, models.VideoStatusUploading); err != nil {
		log.Warn("failed to update video status", zap.Error(err))
	}

	key := storage.VideoKey(video.ID, filepath.Base(out.VideoPath))
	if err := w.objects.UploadFile(ctx, key, out.VideoPath, "video/mp4"); err != nil {
		return fmt.Errorf("failed to upload video: %w", err)
	}
	w.uploadExtra(ctx, video.ID, out.OnlyTTSPath, "OnlyTTS/", "video/mp4", log)
	w.uploadExtra(ctx, video.ID, out.SubtitlePath, "", "text/x-ssa", log)

	if err := w.store.ReplaceVideoUnits(ctx, video.ID, videoUnits(out)); err != nil {
		return fmt.Errorf("failed to save units: %w", err)
	}

	lastIndex := 0
	if out.Narration != nil {
		lastIndex = out.Narration.LastIndex
	}
	if err := w.store.UpdateVideoResult(ctx, video.ID, out.Duration, lastIndex, key); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	if !w.KeepOutputs {
		w.removeDir(s.OutputDir, log)
	}

	log.Info("video completed", zap.String("key", key), zap.Float64("duration", out.Duration))
	return nil
}

func (w *Worker) removeDir(dir string, log *zap.Logger) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("failed to remove directory", zap.String("path", dir), zap.Error(err))
	}
}

// uploadExtra publishes an optional artifact; failures only cost the extra.
func (w *Worker) uploadExtra(ctx context.Context, videoID uuid.UUID, path, prefix, contentType string, log *zap.Logger) {
	if path == "" {
		return
	}
	key := storage.VideoKey(videoID, prefix+filepath.Base(path))
	if err := w.objects.UploadFile(ctx, key, path, contentType); err != nil {
		log.Warn("failed to upload extra artifact", zap.String("path", path), zap.Error(err))
	}
}

// videoUnits pairs each narrated unit with its rendered duration and timeline.
func videoUnits(out *pipeline.Output) []models.VideoUnit {
	if out.Narration == nil {
		return nil
	}
	units := make([]models.VideoUnit, 0, len(out.Narration.Units))
	for i, seg := range out.Narration.Units {
		u := models.VideoUnit{
			Position:    i,
			Name:        seg.Name,
			DurationSec: seg.Duration,
			Parts:       seg.Parts,
		}
		if i < len(out.Units) {
			u.DurationSec = out.Units[i].Duration
			u.Timeline = out.Units[i].Timeline
		}
		units = append(units, u)
	}
	return units
}

// progressTracker folds stage progress into one overall fraction and writes
// it to the store, at most once per progressStep.
type progressTracker struct {
	ctx     context.Context
	store   Store
	videoID uuid.UUID
	logger  *zap.Logger

	mu        sync.Mutex
	stage     pipeline.Stage
	persisted float64
}

func newProgressTracker(ctx context.Context, store Store, videoID uuid.UUID, logger *zap.Logger) *progressTracker {
	return &progressTracker{ctx: ctx, store: store, videoID: videoID, logger: logger, stage: pipeline.StageSynthesizing}
}

func (t *progressTracker) update(stage pipeline.Stage, fraction float64) {
	band, ok := stageBands[stage]
	if !ok {
		return
	}
	overall := band[0] + (band[1]-band[0])*fraction

	t.mu.Lock()
	defer t.mu.Unlock()

	if stage == pipeline.StageRendering && t.stage != pipeline.StageRendering {
		if err := t.store.UpdateVideoStatus(t.ctx, t.videoID, models.VideoStatusRendering); err != nil {
			t.logger.Warn("failed to update video status", zap.Error(err))
		}
	}
	t.stage = stage

	if overall < t.persisted+progressStep && !(fraction >= 1 && overall > t.persisted) {
		return
	}
	if err := t.store.UpdateVideoProgress(t.ctx, t.videoID, overall); err != nil {
		if !errors.Is(err, context.Canceled) {
			t.logger.Warn("failed to update progress", zap.Error(err))
		}
		return
	}
	t.persisted = overall
}
