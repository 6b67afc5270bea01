package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"continuous-streamer/internal/platform/metrics"

	"github.com/google/uuid"
)

// MediaProcessor is the external media processor in both of its modes.
type MediaProcessor interface {
	Concatenator
	Broadcaster
}

// Service is the pipeline core: it owns the queue, drives background segment
// fetches and keeps the merged artifact current while a stream is live.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	repo     Repository
	resolver *Resolver
	store    *SegmentStore
	engine   *Engine
	ctrl     *Controller
	log      *slog.Logger
	metrics  *metrics.Metrics

	fetches sync.WaitGroup
	newID   func() string
}

// NewService wires the core components. m may be nil to disable metrics.
func NewService(repo Repository, resolver *Resolver, store *SegmentStore, proc MediaProcessor, cfg ControllerConfig, log *slog.Logger, m *metrics.Metrics) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		ctx:      ctx,
		cancel:   cancel,
		repo:     repo,
		resolver: resolver,
		store:    store,
		log:      log.With(slog.String("component", "queue")),
		metrics:  m,
		newID:    newItemID,
	}
	s.engine = NewEngine(ctx, store, proc, s.segmentNames, log, m)
	s.ctrl = NewController(ctx, cfg, proc, s.engine, log, m)
	return s
}

// Controller exposes the stream lifecycle.
func (s *Service) Controller() *Controller {
	return s.ctrl
}

// Engine exposes the concatenation engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Enqueue resolves each request and appends the resolvable ones in request order.
// A failing request is logged and skipped. Downloads start after every append, in
// the background. The appended items are returned.
func (s *Service) Enqueue(ctx context.Context, reqs []EnqueueRequest) []QueueItem {
	added := make([]QueueItem, 0, len(reqs))
	for _, req := range reqs {
		item, err := s.prepare(ctx, req)
		if err != nil {
			s.metrics.IncResolveFailures()
			s.log.Error("error adding video to queue",
				slog.String("url", req.SourceReference),
				slog.Any("error", err))
			continue
		}
		s.repo.Append(item)
		added = append(added, item)
		s.log.Info("added video to queue",
			slog.String("item_id", item.ID),
			slog.String("title", item.Title))
	}
	s.metrics.IncItemsEnqueued(len(added))

	for _, item := range added {
		s.fetches.Add(1)
		go s.fetch(item.ID, item.EncodingURL)
	}

	if len(added) > 0 && s.ctrl.IsActive() {
		s.engine.Trigger()
	}
	return added
}

func (s *Service) prepare(ctx context.Context, req EnqueueRequest) (QueueItem, error) {
	res, err := s.resolver.Resolve(ctx, req.SourceReference)
	if err != nil {
		return QueueItem{}, err
	}
	enc, err := SelectBestEncoding(res.Encodings)
	if err != nil {
		return QueueItem{}, fmt.Errorf("%s: %w", res.ID, err)
	}

	title := req.Title
	if title == "" {
		title = res.Title
	}
	return QueueItem{
		ID:              s.newID(),
		SourceReference: req.SourceReference,
		Title:           title,
		EncodingURL:     enc.URL,
		State:           FetchPending,
	}, nil
}

// fetch downloads one item's segment. The item is tracked by id, so a result for an
// item removed in the meantime is discarded instead of landing in another slot.
func (s *Service) fetch(id, url string) {
	defer s.fetches.Done()
	log := s.log.With(slog.String("item_id", id))

	if !s.repo.Update(id, func(it *QueueItem) { it.State = FetchFetching }) {
		return
	}

	lastPct := -1
	progress := func(written, total int64) {
		if total <= 0 {
			return
		}
		pct := int(written * 100 / total)
		if pct >= 100 {
			pct = 99
		}
		if pct == lastPct {
			return
		}
		lastPct = pct
		s.repo.Update(id, func(it *QueueItem) { it.Progress = pct })
	}

	path, err := s.store.EnsureFetched(s.ctx, id, url, progress)
	if err != nil {
		s.repo.Update(id, func(it *QueueItem) { it.State = FetchFailed })
		s.metrics.ObserveFetch("failed")
		log.Error("error downloading video", slog.Any("error", err))
		return
	}

	ok := s.repo.Update(id, func(it *QueueItem) {
		it.State = FetchReady
		it.LocalPath = path
		it.Progress = 100
	})
	if !ok {
		s.metrics.ObserveFetch("discarded")
		log.Info("item removed while downloading, discarding segment")
		s.store.Remove(path)
		return
	}
	s.metrics.ObserveFetch("ready")

	if s.ctrl.IsActive() {
		s.engine.Trigger()
	}
}

// Remove splices out the item at index. Out-of-range indices are ignored and
// reported as false.
func (s *Service) Remove(index int) bool {
	item, ok := s.repo.RemoveAt(index)
	if !ok {
		return false
	}
	s.log.Info("removed video from queue",
		slog.Int("index", index),
		slog.String("item_id", item.ID))

	if item.LocalPath != "" {
		go s.store.Remove(item.LocalPath)
	}
	if s.ctrl.IsActive() {
		s.engine.Trigger()
	}
	return true
}

// Configure sets the stream credential and channel.
func (s *Service) Configure(credential, channelID string) error {
	return s.ctrl.Configure(credential, channelID)
}

// Start begins broadcasting the current queue.
func (s *Service) Start(ctx context.Context) error {
	return s.ctrl.Start(ctx)
}

// Stop ends the broadcast. Safe to call repeatedly.
func (s *Service) Stop() {
	s.ctrl.Stop()
}

// Snapshot returns the observer view of the queue and stream.
func (s *Service) Snapshot() Snapshot {
	items := s.repo.Items()
	out := Snapshot{
		TotalCount:  len(items),
		IsStreaming: s.ctrl.IsActive(),
		Items:       make([]ItemStatus, 0, len(items)),
	}
	for _, it := range items {
		out.Items = append(out.Items, ItemStatus{
			Title:           it.Title,
			SourceReference: it.SourceReference,
			State:           it.State,
			Progress:        it.Progress,
		})
	}
	if u, ok := s.ctrl.LiveURL(); ok {
		out.LiveURL = &u
	}
	return out
}

// Len returns the number of queued items.
func (s *Service) Len() int {
	return s.repo.Len()
}

// Wait blocks until in-flight downloads and rebuilds have finished.
func (s *Service) Wait() {
	s.fetches.Wait()
	s.engine.Wait()
}

// Close stops the broadcast, cancels background work and waits for it.
func (s *Service) Close() {
	s.ctrl.Stop()
	s.cancel()
	s.Wait()
}

// segmentNames lists segment names in queue order. Failed items are left out since
// their file can never appear; items still downloading are kept so the rebuild
// fails until they land rather than silently dropping them.
func (s *Service) segmentNames() []string {
	items := s.repo.Items()
	names := make([]string, 0, len(items))
	for _, it := range items {
		if it.State == FetchFailed {
			continue
		}
		names = append(names, SegmentName(it.ID))
	}
	return names
}

func newItemID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
