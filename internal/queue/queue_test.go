package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

func TestRenderVideoRoundTrip(t *testing.T) {
	url := os.Getenv("THREADCAST_TEST_REDIS_URL")
	if url == "" {
		t.Skip("THREADCAST_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	q := NewWithClient(redis.NewClient(opts))
	defer q.Close()

	ctx := context.Background()
	q.client.Del(ctx, QueueRenderVideo)

	videoID, jobID := uuid.New(), uuid.New()
	if err := q.EnqueueRenderVideo(ctx, videoID, jobID); err != nil {
		t.Fatalf("EnqueueRenderVideo: %v", err)
	}
	if n, _ := q.GetQueueLength(ctx, QueueRenderVideo); n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}

	job, err := q.Dequeue(ctx, QueueRenderVideo, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job == nil || job.ID != jobID || job.VideoID != videoID || job.Type != JobTypeRenderVideo {
		t.Fatalf("job = %+v", job)
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	empty, err := q.Dequeue(ctx, QueueRenderVideo, 100*time.Millisecond)
	if err != nil || empty != nil {
		t.Errorf("empty queue: job=%v err=%v", empty, err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPingUnreachable(t *testing.T) {
	q := NewWithClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	}))
	defer q.Close()

	if err := q.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail")
	}
}
