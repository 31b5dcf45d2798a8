package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/threadcast/internal/models"
	"github.com/bobarin/threadcast/internal/narration"
	"github.com/bobarin/threadcast/internal/overlay"
	"github.com/bobarin/threadcast/internal/pipeline"
	"github.com/bobarin/threadcast/internal/queue"
	"github.com/bobarin/threadcast/internal/timing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu        sync.Mutex
	videos    map[uuid.UUID]*models.Video
	units     map[uuid.UUID][]models.VideoUnit
	statuses  []models.VideoStatus
	progress  []float64
	jobStatus map[uuid.UUID]models.JobStatus
	jobErrors map[uuid.UUID]string
}

func newFakeStore(videos ...*models.Video) *fakeStore {
	s := &fakeStore{
		videos:    map[uuid.UUID]*models.Video{},
		units:     map[uuid.UUID][]models.VideoUnit{},
		jobStatus: map[uuid.UUID]models.JobStatus{},
		jobErrors: map[uuid.UUID]string{},
	}
	for _, v := range videos {
		s.videos[v.ID] = v
	}
	return s
}

func (s *fakeStore) GetVideo(_ context.Context, id uuid.UUID) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, errors.New("video not found")
	}
	cp := *v
	return &cp, nil
}

func (s *fakeStore) UpdateVideoStatus(_ context.Context, id uuid.UUID, status models.VideoStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[id].Status = status
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) UpdateVideoProgress(_ context.Context, id uuid.UUID, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[id].Progress = progress
	s.progress = append(s.progress, progress)
	return nil
}

func (s *fakeStore) UpdateVideoResult(_ context.Context, id uuid.UUID, total float64, lastIndex int, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.videos[id]
	v.Status = models.VideoStatusCompleted
	v.TotalDurationSec = &total
	v.LastIndex = &lastIndex
	v.StorageKey = &key
	v.Progress = 1
	return nil
}

func (s *fakeStore) UpdateVideoError(_ context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[id].Status = models.VideoStatusFailed
	s.videos[id].ErrorMessage = &msg
	return nil
}

func (s *fakeStore) ReplaceVideoUnits(_ context.Context, id uuid.UUID, units []models.VideoUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[id] = units
	return nil
}

func (s *fakeStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobStatus[id] = status
	return nil
}

func (s *fakeStore) UpdateJobError(_ context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobStatus[id] = models.JobStatusFailed
	s.jobErrors[id] = msg
	return nil
}

func (s *fakeStore) job(id uuid.UUID) models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobStatus[id]
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []*queue.Job
}

func (f *fakeJobs) Dequeue(ctx context.Context, _ string, _ time.Duration) (*queue.Job, error) {
	f.mu.Lock()
	if len(f.jobs) > 0 {
		job := f.jobs[0]
		f.jobs = f.jobs[1:]
		f.mu.Unlock()
		return job, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

type fakeRenderer struct {
	settings pipeline.Settings
	err      error
	gotRun   pipeline.Settings
}

func (r *fakeRenderer) Settings() pipeline.Settings { return r.settings }

func (r *fakeRenderer) RunWith(_ context.Context, n models.Narrative, s pipeline.Settings, onProgress pipeline.ProgressFunc) (*pipeline.Output, error) {
	r.gotRun = s
	// like the pipeline, only the thread workspace is cleaned up here
	workspace := filepath.Join(s.TempDir, pipeline.SafeID(n.ThreadID))
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, err
	}
	defer os.RemoveAll(workspace)

	onProgress(pipeline.StageSynthesizing, 0)
	onProgress(pipeline.StageSynthesizing, 1)
	if r.err != nil {
		return nil, r.err
	}
	for _, f := range []float64{0, 0.005, 0.5, 1} {
		onProgress(pipeline.StageRendering, f)
	}

	if err := os.MkdirAll(filepath.Join(s.OutputDir, "OnlyTTS"), 0755); err != nil {
		return nil, err
	}
	video := filepath.Join(s.OutputDir, n.Title+".mp4")
	onlyTTS := filepath.Join(s.OutputDir, "OnlyTTS", n.Title+".mp4")
	for _, p := range []string{video, onlyTTS} {
		if err := os.WriteFile(p, []byte("mp4"), 0644); err != nil {
			return nil, err
		}
	}

	tl := timing.Timeline{{Word: "Drink", Start: 0, End: 1}, {Word: "water.", Start: 1, End: 2}}
	return &pipeline.Output{
		Name:        n.Title,
		VideoPath:   video,
		OnlyTTSPath: onlyTTS,
		Duration:    4.5,
		Narration: &narration.Result{
			TotalDuration: 4.5,
			LastIndex:     0,
			Units: []narration.AudioSegment{
				{Name: "title", Index: -1, Duration: 2.4},
				{Name: "0", Index: 0, Duration: 2, Parts: 2},
			},
		},
		Units: []overlay.Unit{
			{Duration: 2.5},
			{Duration: 2, Timeline: tl},
		},
	}, nil
}

type fakeObjects struct {
	mu   sync.Mutex
	keys []string
	fail bool
}

func (o *fakeObjects) UploadFile(_ context.Context, key, localPath, _ string) error {
	if o.fail {
		return errors.New("bucket unavailable")
	}
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.keys = append(o.keys, key)
	return nil
}

func (o *fakeObjects) URL(_ context.Context, key string) (string, error) {
	return "https://cdn.example.com/" + key, nil
}

func newVideo() *models.Video {
	story := false
	return &models.Video{
		ID:       uuid.New(),
		ThreadID: "t3_abc",
		Title:    "Best advice",
		Status:   models.VideoStatusQueued,
		Narrative: models.Narrative{
			ThreadID: "t3_abc",
			Title:    "Best advice",
			Comments: []models.Comment{{ID: "c1", Body: "Drink water."}},
		},
		Options: models.RenderOptions{StoryMode: &story},
	}
}

func newTestWorker(t *testing.T, store *fakeStore, renderer *fakeRenderer, objects *fakeObjects, jobs *fakeJobs) *Worker {
	t.Helper()
	dir := t.TempDir()
	renderer.settings = pipeline.Settings{
		TempDir:   filepath.Join(dir, "temp"),
		OutputDir: filepath.Join(dir, "results"),
	}
	if jobs == nil {
		jobs = &fakeJobs{}
	}
	return New(store, jobs, renderer, objects, zap.NewNop())
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHandleRenderVideo(t *testing.T) {
	video := newVideo()
	store := newFakeStore(video)
	renderer := &fakeRenderer{}
	objects := &fakeObjects{}
	w := newTestWorker(t, store, renderer, objects, nil)

	job := &queue.Job{ID: uuid.New(), Type: queue.JobTypeRenderVideo, VideoID: video.ID}
	if err := w.handleRenderVideo(context.Background(), job); err != nil {
		t.Fatalf("handleRenderVideo: %v", err)
	}

	got := store.videos[video.ID]
	if got.Status != models.VideoStatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	wantKey := video.ID.String() + "/Best advice.mp4"
	if got.StorageKey == nil || *got.StorageKey != wantKey {
		t.Errorf("storage key = %v, want %s", got.StorageKey, wantKey)
	}
	if *got.TotalDurationSec != 4.5 || *got.LastIndex != 0 {
		t.Errorf("result = %v / %v", *got.TotalDurationSec, *got.LastIndex)
	}

	if len(objects.keys) != 2 || objects.keys[1] != video.ID.String()+"/OnlyTTS/Best advice.mp4" {
		t.Errorf("uploaded keys = %v", objects.keys)
	}

	units := store.units[video.ID]
	if len(units) != 2 {
		t.Fatalf("units = %+v", units)
	}
	if units[0].Name != "title" || units[0].DurationSec != 2.5 {
		t.Errorf("title unit = %+v", units[0])
	}
	if units[1].Parts != 2 || len(units[1].Timeline) != 2 || units[1].Position != 1 {
		t.Errorf("comment unit = %+v", units[1])
	}

	if !strings.HasSuffix(renderer.gotRun.TempDir, video.ID.String()) {
		t.Errorf("per-video temp dir not used: %s", renderer.gotRun.TempDir)
	}
	if _, err := os.Stat(renderer.gotRun.OutputDir); !os.IsNotExist(err) {
		t.Errorf("local outputs should be removed after upload, stat err = %v", err)
	}
	if _, err := os.Stat(renderer.gotRun.TempDir); !os.IsNotExist(err) {
		t.Errorf("per-video temp dir should be removed, stat err = %v", err)
	}
	if renderer.gotRun.ImageDir != "" {
		t.Errorf("image dir = %q, want none without an image root", renderer.gotRun.ImageDir)
	}

	wantStatuses := []models.VideoStatus{
		models.VideoStatusSynthesizing,
		models.VideoStatusRendering,
		models.VideoStatusUploading,
	}
	if len(store.statuses) != len(wantStatuses) {
		t.Fatalf("statuses = %v", store.statuses)
	}
	for i, s := range wantStatuses {
		if store.statuses[i] != s {
			t.Errorf("statuses[%d] = %s, want %s", i, store.statuses[i], s)
		}
	}
}

func TestHandleRenderVideoUsesThreadScreenshots(t *testing.T) {
	video := newVideo()
	store := newFakeStore(video)
	renderer := &fakeRenderer{}
	w := newTestWorker(t, store, renderer, &fakeObjects{}, nil)
	root := filepath.Join(t.TempDir(), "screenshots")
	renderer.settings.ImageRoot = root

	job := &queue.Job{ID: uuid.New(), Type: queue.JobTypeRenderVideo, VideoID: video.ID}
	if err := w.handleRenderVideo(context.Background(), job); err != nil {
		t.Fatalf("handleRenderVideo: %v", err)
	}

	if want := filepath.Join(root, "t3_abc"); renderer.gotRun.ImageDir != want {
		t.Errorf("image dir = %q, want %q", renderer.gotRun.ImageDir, want)
	}
}

func TestHandleRenderVideoFailureRemovesTempDir(t *testing.T) {
	video := newVideo()
	store := newFakeStore(video)
	renderer := &fakeRenderer{err: errors.New("ffmpeg exited with status 1")}
	w := newTestWorker(t, store, renderer, &fakeObjects{}, nil)

	if err := w.handleRenderVideo(context.Background(), &queue.Job{ID: uuid.New(), VideoID: video.ID}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(renderer.gotRun.TempDir); !os.IsNotExist(err) {
		t.Errorf("per-video temp dir should be removed, stat err = %v", err)
	}
}

func TestHandleRenderVideoPipelineFailure(t *testing.T) {
	video := newVideo()
	store := newFakeStore(video)
	renderer := &fakeRenderer{err: &narration.SynthesisError{Unit: "0", Part: -1, Backend: "elevenlabs", Err: errors.New("quota exceeded")}}
	objects := &fakeObjects{}
	w := newTestWorker(t, store, renderer, objects, nil)

	err := w.handleRenderVideo(context.Background(), &queue.Job{ID: uuid.New(), VideoID: video.ID})
	var synthErr *narration.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("err = %v, want SynthesisError", err)
	}

	got := store.videos[video.ID]
	if got.Status != models.VideoStatusFailed || got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "quota exceeded") {
		t.Errorf("video = %+v", got)
	}
	if len(objects.keys) != 0 {
		t.Errorf("nothing should be uploaded, got %v", objects.keys)
	}
}

func TestHandleRenderVideoUploadFailure(t *testing.T) {
	video := newVideo()
	store := newFakeStore(video)
	w := newTestWorker(t, store, &fakeRenderer{}, &fakeObjects{fail: true}, nil)

	if err := w.handleRenderVideo(context.Background(), &queue.Job{ID: uuid.New(), VideoID: video.ID}); err == nil {
		t.Fatal("expected upload error")
	}
	if store.videos[video.ID].Status != models.VideoStatusFailed {
		t.Errorf("status = %s", store.videos[video.ID].Status)
	}
	if len(store.units[video.ID]) != 0 {
		t.Error("units should not be stored when upload fails")
	}
}

func TestProgressTrackerIsMonotonicAndThrottled(t *testing.T) {
	video := newVideo()
	store := newFakeStore(video)
	tr := newProgressTracker(context.Background(), store, video.ID, zap.NewNop())

	tr.update(pipeline.StageSynthesizing, 0)   // 0: below first step
	tr.update(pipeline.StageSynthesizing, 1)   // 0.2
	tr.update(pipeline.StageRendering, 0)      // 0.2: no change
	tr.update(pipeline.StageRendering, 0.01)   // 0.2065: below step
	tr.update(pipeline.StageRendering, 0.5)    // 0.525
	tr.update(pipeline.StageRendering, 0.4)    // lower, ignored
	tr.update(pipeline.StageRendering, 1)      // 0.85
	tr.update(pipeline.Stage("unknown"), 0.99) // ignored

	want := []float64{0.2, 0.525, 0.85}
	if len(store.progress) != len(want) {
		t.Fatalf("progress = %v, want %v", store.progress, want)
	}
	for i := range want {
		if diff := store.progress[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("progress[%d] = %v, want %v", i, store.progress[i], want[i])
		}
	}

	rendering := 0
	for _, s := range store.statuses {
		if s == models.VideoStatusRendering {
			rendering++
		}
	}
	if rendering != 1 {
		t.Errorf("rendering status written %d times, want 1", rendering)
	}
}

func TestStartConsumesQueue(t *testing.T) {
	video := newVideo()
	store := newFakeStore(video)
	jobID := uuid.New()
	jobs := &fakeJobs{jobs: []*queue.Job{
		{ID: jobID, Type: queue.JobTypeRenderVideo, VideoID: video.ID},
	}}
	w := newTestWorker(t, store, &fakeRenderer{}, &fakeObjects{}, jobs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, 2) }()

	deadline := time.Now().Add(5 * time.Second)
	for store.job(jobID) != models.JobStatusSucceeded {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("job status = %q, want succeeded", store.job(jobID))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestStartRecordsJobFailure(t *testing.T) {
	store := newFakeStore()
	jobID := uuid.New()
	jobs := &fakeJobs{jobs: []*queue.Job{{ID: jobID, VideoID: uuid.New()}}}
	w := newTestWorker(t, store, &fakeRenderer{}, &fakeObjects{}, jobs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx, 1)

	deadline := time.Now().Add(5 * time.Second)
	for store.job(jobID) != models.JobStatusFailed {
		if time.Now().After(deadline) {
			t.Fatalf("job status = %q, want failed", store.job(jobID))
		}
		time.Sleep(5 * time.Millisecond)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if !strings.Contains(store.jobErrors[jobID], "failed to get video") {
		t.Errorf("job error = %q", store.jobErrors[jobID])
	}
}
