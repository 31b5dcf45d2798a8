package db

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/bobarin/threadcast/internal/models"
	"github.com/bobarin/threadcast/internal/timing"
	"github.com/google/uuid"
)

// openTestDB connects to THREADCAST_TEST_DATABASE_URL and migrates it.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("THREADCAST_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("THREADCAST_TEST_DATABASE_URL not set")
	}
	database, err := New(url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if _, err := database.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return database
}

func TestVideoLifecycle(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	lang := "es"
	video := &models.Video{
		ID:       uuid.New(),
		ThreadID: "t3_abc",
		Title:    "Best advice",
		Status:   models.VideoStatusQueued,
		Narrative: models.Narrative{
			ThreadID: "t3_abc",
			Title:    "Best advice",
			Comments: []models.Comment{{ID: "c1", Body: "Drink water."}},
		},
		Options: models.RenderOptions{Language: &lang},
	}
	if err := database.CreateVideo(ctx, video); err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	t.Cleanup(func() { database.Exec(`DELETE FROM videos WHERE id = $1`, video.ID) })

	if err := database.UpdateVideoProgress(ctx, video.ID, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := database.UpdateVideoProgress(ctx, video.ID, 0.2); err != nil {
		t.Fatal(err)
	}

	units := []models.VideoUnit{
		{Position: 0, Name: "title", DurationSec: 2},
		{Position: 1, Name: "0", DurationSec: 3, Timeline: timing.Timeline{{Word: "Drink", Start: 0, End: 1.5}, {Word: "water.", Start: 1.5, End: 3}}},
	}
	if err := database.ReplaceVideoUnits(ctx, video.ID, units); err != nil {
		t.Fatalf("ReplaceVideoUnits: %v", err)
	}
	if err := database.UpdateVideoResult(ctx, video.ID, 5, 0, "key.mp4"); err != nil {
		t.Fatal(err)
	}

	got, err := database.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if got.Status != models.VideoStatusCompleted || got.Progress != 1 {
		t.Errorf("status/progress = %s/%v", got.Status, got.Progress)
	}
	if got.Narrative.Comments[0].Body != "Drink water." || *got.Options.Language != "es" {
		t.Errorf("json columns not restored: %+v %+v", got.Narrative, got.Options)
	}

	stored, err := database.GetVideoUnits(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideoUnits: %v", err)
	}
	if len(stored) != 2 || len(stored[1].Timeline) != 2 || stored[1].Timeline[1].End != 3 {
		t.Errorf("units = %+v", stored)
	}
}

func TestGetVideoNotFound(t *testing.T) {
	database := openTestDB(t)

	_, err := database.GetVideo(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
