package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"continuous-streamer/internal/platform/metrics"
)

const (
	ManifestName   = "file_list.txt"
	MergedName     = "concatenated.mp4"
	mergedTempName = "concatenated.tmp.mp4"
)

// Concatenator is the concat mode of the external media processor.
type Concatenator interface {
	Concat(ctx context.Context, manifestPath, outputPath string) error
}

// SegmentSource returns store-relative segment names in playback order.
type SegmentSource func() []string

// Engine rebuilds the merged artifact from the current queue.
// Rebuilds never overlap; triggers arriving during a rebuild collapse into one rerun
// that reads the queue afresh.
type Engine struct {
	ctx     context.Context
	store   *SegmentStore
	proc    Concatenator
	source  SegmentSource
	log     *slog.Logger
	metrics *metrics.Metrics

	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	dirty   bool
	wg      sync.WaitGroup
}

// NewEngine returns an Engine. ctx bounds background rebuilds started by Trigger.
func NewEngine(ctx context.Context, store *SegmentStore, proc Concatenator, source SegmentSource, log *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		ctx:     ctx,
		store:   store,
		proc:    proc,
		source:  source,
		log:     log.With(slog.String("component", "concat")),
		metrics: m,
	}
}

// MergedPath is the well-known location of the merged artifact.
func (e *Engine) MergedPath() string {
	return e.store.Path(MergedName)
}

// Rebuild concatenates the current segments into the merged artifact and blocks
// until done. Output is written under a temporary name and renamed into place, so
// a failed run leaves the previous artifact untouched.
func (e *Engine) Rebuild(ctx context.Context) (string, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	start := time.Now()
	path, n, err := e.rebuildLocked(ctx)
	e.metrics.ObserveRebuild(err == nil, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	e.log.Info("videos concatenated",
		slog.Int("segments", n),
		slog.Int("duration_ms", int(time.Since(start).Milliseconds())))
	return path, nil
}

func (e *Engine) rebuildLocked(ctx context.Context) (string, int, error) {
	names := e.source()
	if len(names) == 0 {
		return "", 0, fmt.Errorf("%w: queue is empty", ErrConcatenationFailed)
	}

	manifest, err := e.store.WriteFile(ManifestName, []byte(BuildConcatManifest(names)))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrConcatenationFailed, err)
	}

	tmp := e.store.Path(mergedTempName)
	if err := e.proc.Concat(ctx, manifest, tmp); err != nil {
		e.store.Remove(tmp)
		return "", 0, fmt.Errorf("%w: %v", ErrConcatenationFailed, err)
	}

	merged := e.MergedPath()
	if err := e.store.Commit(tmp, merged); err != nil {
		e.store.Remove(tmp)
		return "", 0, fmt.Errorf("%w: %v", ErrConcatenationFailed, err)
	}
	return merged, len(names), nil
}

// Trigger schedules a background rebuild and returns immediately.
// Failures are logged; the last good artifact stays in place.
func (e *Engine) Trigger() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.dirty = true
		return
	}
	e.running = true
	e.wg.Add(1)
	go e.loop()
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		if _, err := e.Rebuild(e.ctx); err != nil {
			e.log.Error("error updating concatenated file", slog.Any("error", err))
		}

		e.mu.Lock()
		if !e.dirty {
			e.running = false
			e.mu.Unlock()
			return
		}
		e.dirty = false
		e.mu.Unlock()
	}
}

// Wait blocks until no background rebuild is running.
func (e *Engine) Wait() {
	e.wg.Wait()
}
