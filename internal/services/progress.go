package services

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// progressPollInterval is how often the ffmpeg -progress file is read.
const progressPollInterval = time.Second

// ProgressWatcher polls an ffmpeg -progress file in the background and
// forwards the completed fraction of the render to a callback.
//
// The fraction handed to the callback never decreases and stays within [0,1].
// The callback is only ever invoked from the watcher's goroutine, or from the
// caller's goroutine after Stop has returned, so it needs no locking.
type ProgressWatcher struct {
	path       string
	total      float64
	interval   time.Duration
	onProgress func(float64)
	logger     *zap.Logger

	last float64

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewProgressWatcher watches path for a render expected to last total seconds.
// onProgress may be nil.
func NewProgressWatcher(path string, total float64, onProgress func(float64), logger *zap.Logger) *ProgressWatcher {
	return &ProgressWatcher{
		path:       path,
		total:      total,
		interval:   progressPollInterval,
		onProgress: onProgress,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the polling goroutine. Calling it more than once is a no-op.
func (w *ProgressWatcher) Start() {
	w.startOnce.Do(func() {
		go w.loop()
	})
}

// Stop signals the poller and waits for it to exit. Safe to call repeatedly
// and on a watcher that was never started.
func (w *ProgressWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	// Make sure a never-started watcher does not block.
	w.startOnce.Do(func() { close(w.done) })
	<-w.done
}

// Finish stops the watcher and reports completion. The callback always sees
// 1.0 once, even if a poll already reached the end.
func (w *ProgressWatcher) Finish() {
	w.Stop()
	w.last = 1
	if w.onProgress != nil {
		w.onProgress(1)
	}
}

func (w *ProgressWatcher) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *ProgressWatcher) poll() {
	if w.total <= 0 {
		return
	}
	f, err := os.Open(w.path)
	if err != nil {
		// ffmpeg has not written anything yet
		return
	}
	defer f.Close()

	seconds, ok := latestProgress(f)
	if !ok {
		return
	}
	w.report(seconds / w.total)
}

func (w *ProgressWatcher) report(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction <= w.last {
		return
	}
	w.last = fraction
	if w.logger != nil {
		w.logger.Debug("render progress", zap.Float64("fraction", fraction))
	}
	if w.onProgress != nil {
		w.onProgress(fraction)
	}
}

// latestProgress returns the last output timestamp (seconds) found in an
// ffmpeg -progress stream. ffmpeg reports out_time_us and the historically
// misnamed out_time_ms, both in microseconds.
func latestProgress(r io.Reader) (float64, bool) {
	var (
		latest float64
		found  bool
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || (key != "out_time_us" && key != "out_time_ms") {
			continue
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			continue
		}
		latest = float64(us) / 1e6
		found = true
	}
	return latest, found
}
