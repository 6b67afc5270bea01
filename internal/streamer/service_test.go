package streamer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestService_Enqueue_skips_unresolvable(t *testing.T) {
	h := newHarness(t, nil)
	h.meta.add("aaaaaaaaaaa", "First")
	h.meta.add("ccccccccccc", "Third")

	added := h.svc.Enqueue(context.Background(), []EnqueueRequest{
		{SourceReference: ref("aaaaaaaaaaa")},
		{SourceReference: ref("bbbbbbbbbbb")},
		{SourceReference: ref("ccccccccccc")},
	})
	h.svc.Wait()

	if len(added) != 2 {
		t.Fatalf("expected 2 items added, got %d", len(added))
	}
	snap := h.svc.Snapshot()
	if snap.TotalCount != 2 {
		t.Fatalf("expected 2 queued, got %d", snap.TotalCount)
	}
	if snap.Items[0].Title != "First" || snap.Items[1].Title != "Third" {
		t.Errorf("unexpected order: %+v", snap.Items)
	}
}

func TestService_Enqueue_invalid_reference(t *testing.T) {
	h := newHarness(t, nil)

	added := h.svc.Enqueue(context.Background(), []EnqueueRequest{{SourceReference: "https://vimeo.com/1"}})
	if len(added) != 0 || h.svc.Len() != 0 {
		t.Error("invalid reference must not be queued")
	}
	if h.meta.calls != 0 {
		t.Error("invalid reference must not reach the metadata service")
	}
}

func TestService_Enqueue_title(t *testing.T) {
	h := newHarness(t, nil)
	h.meta.add("aaaaaaaaaaa", "From metadata")
	h.meta.add("bbbbbbbbbbb", "Ignored")

	added := h.svc.Enqueue(context.Background(), []EnqueueRequest{
		{SourceReference: ref("aaaaaaaaaaa")},
		{SourceReference: ref("bbbbbbbbbbb"), Title: "Caller title"},
	})
	h.svc.Wait()

	if added[0].Title != "From metadata" {
		t.Errorf("default title = %q", added[0].Title)
	}
	if added[1].Title != "Caller title" {
		t.Errorf("caller title = %q", added[1].Title)
	}
	if added[0].ID == "" || added[0].ID == added[1].ID {
		t.Errorf("items need distinct ids: %q %q", added[0].ID, added[1].ID)
	}
}

func TestService_fetch_lifecycle(t *testing.T) {
	dl := newFakeDownloader().blocking()
	h := newHarness(t, dl)
	h.meta.add("aaaaaaaaaaa", "First")

	added := h.svc.Enqueue(context.Background(), []EnqueueRequest{{SourceReference: ref("aaaaaaaaaaa")}})
	id := added[0].ID
	if added[0].State != FetchPending {
		t.Errorf("new item state = %s", added[0].State)
	}

	<-dl.started
	item, _ := h.svc.repo.Get(id)
	if item.State != FetchFetching || item.LocalPath != "" {
		t.Errorf("in-flight item = %+v", item)
	}

	close(dl.release)
	h.svc.Wait()

	item, _ = h.svc.repo.Get(id)
	if item.State != FetchReady || item.Progress != 100 {
		t.Errorf("finished item = %+v", item)
	}
	if item.LocalPath != h.store.PathFor(id) {
		t.Errorf("LocalPath = %q", item.LocalPath)
	}
	data, _ := afero.ReadFile(h.fs, item.LocalPath)
	if string(data) != "payload:https://cdn.test/aaaaaaaaaaa" {
		t.Errorf("segment content %q", data)
	}
}

func TestService_fetch_failure(t *testing.T) {
	h := newHarness(t, nil)
	h.meta.add("aaaaaaaaaaa", "First")
	h.dl.fail("https://cdn.test/aaaaaaaaaaa", errors.New("connection reset"))

	added := h.svc.Enqueue(context.Background(), []EnqueueRequest{{SourceReference: ref("aaaaaaaaaaa")}})
	h.svc.Wait()

	item, _ := h.svc.repo.Get(added[0].ID)
	if item.State != FetchFailed || item.LocalPath != "" {
		t.Errorf("failed item = %+v", item)
	}
	if h.svc.Snapshot().Items[0].State.String() != "error" {
		t.Error("observer should see the error state")
	}

	_ = h.svc.Configure("key", "chan")
	if err := h.svc.Start(context.Background()); !errors.Is(err, ErrConcatenationFailed) {
		t.Errorf("a queue of failed items cannot stream, got %v", err)
	}
}

func TestService_Remove_while_fetching_discards_segment(t *testing.T) {
	dl := newFakeDownloader().blocking()
	h := newHarness(t, dl)
	h.meta.add("aaaaaaaaaaa", "First")

	added := h.svc.Enqueue(context.Background(), []EnqueueRequest{{SourceReference: ref("aaaaaaaaaaa")}})
	<-dl.started

	if !h.svc.Remove(0) {
		t.Fatal("Remove(0) should succeed")
	}
	close(dl.release)
	h.svc.Wait()

	if h.svc.Len() != 0 {
		t.Errorf("queue should be empty, len %d", h.svc.Len())
	}
	if ok, _ := afero.Exists(h.fs, h.store.PathFor(added[0].ID)); ok {
		t.Error("segment of a removed item must be discarded")
	}
}

func TestService_Remove_out_of_range(t *testing.T) {
	h := newHarness(t, nil)
	h.meta.add("aaaaaaaaaaa", "First")
	h.svc.Enqueue(context.Background(), []EnqueueRequest{{SourceReference: ref("aaaaaaaaaaa")}})
	h.svc.Wait()

	for _, idx := range []int{-1, 1, 7} {
		if h.svc.Remove(idx) {
			t.Errorf("Remove(%d) should be ignored", idx)
		}
	}
	if h.svc.Len() != 1 {
		t.Errorf("queue changed: len %d", h.svc.Len())
	}
}

func TestService_stream_end_to_end(t *testing.T) {
	h := newHarness(t, nil)
	h.meta.add("aaaaaaaaaaa", "First")
	h.meta.add("bbbbbbbbbbb", "Second")

	added := h.svc.Enqueue(context.Background(), []EnqueueRequest{
		{SourceReference: ref("aaaaaaaaaaa")},
		{SourceReference: ref("bbbbbbbbbbb")},
	})
	h.svc.Wait()

	if err := h.svc.Configure("key", "UCchannel"); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := h.svc.Snapshot()
	if !snap.IsStreaming {
		t.Fatal("expected streaming")
	}
	if snap.LiveURL == nil || !strings.Contains(*snap.LiveURL, "UCchannel") {
		t.Errorf("live URL = %v", snap.LiveURL)
	}
	if n := h.proc.concatCalls.Load(); n != 1 {
		t.Errorf("expected one concatenation at start, got %d", n)
	}
	want := "file '" + SegmentName(added[0].ID) + "'\nfile '" + SegmentName(added[1].ID) + "'\n"
	if got := h.proc.lastManifest(); got != want {
		t.Errorf("manifest = %q, want %q", got, want)
	}
	if b := h.proc.broadcasts[0]; b.endpoint != "rtmp://ingest.test/live2/key" || b.input != h.svc.Engine().MergedPath() {
		t.Errorf("unexpected broadcast %+v", b)
	}

	h.svc.Stop()
	snap = h.svc.Snapshot()
	if snap.IsStreaming || snap.LiveURL != nil {
		t.Errorf("expected idle snapshot, got %+v", snap)
	}
}

func TestService_Remove_while_streaming_rebuilds(t *testing.T) {
	h := newHarness(t, nil)
	h.meta.add("aaaaaaaaaaa", "First")
	h.meta.add("bbbbbbbbbbb", "Second")
	h.svc.Enqueue(context.Background(), []EnqueueRequest{
		{SourceReference: ref("aaaaaaaaaaa")},
		{SourceReference: ref("bbbbbbbbbbb")},
	})
	h.svc.Wait()

	_ = h.svc.Configure("key", "chan")
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !h.svc.Remove(0) {
		t.Fatal("Remove(0) should succeed")
	}
	h.svc.Wait()

	snap := h.svc.Snapshot()
	if snap.TotalCount != 1 || snap.Items[0].Title != "Second" {
		t.Errorf("unexpected queue %+v", snap.Items)
	}
	if n := h.proc.concatCalls.Load(); n != 2 {
		t.Errorf("expected exactly one re-concatenation, got %d total", n)
	}
	data, _ := afero.ReadFile(h.fs, h.svc.Engine().MergedPath())
	if string(data) != "payload:https://cdn.test/bbbbbbbbbbb" {
		t.Errorf("merged = %q", data)
	}
}

func TestService_Enqueue_while_streaming_rebuilds(t *testing.T) {
	h := newHarness(t, nil)
	h.meta.add("aaaaaaaaaaa", "First")
	h.meta.add("bbbbbbbbbbb", "Second")
	h.svc.Enqueue(context.Background(), []EnqueueRequest{{SourceReference: ref("aaaaaaaaaaa")}})
	h.svc.Wait()

	_ = h.svc.Configure("key", "chan")
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.svc.Enqueue(context.Background(), []EnqueueRequest{{SourceReference: ref("bbbbbbbbbbb")}})
	h.svc.Wait()

	data, _ := afero.ReadFile(h.fs, h.svc.Engine().MergedPath())
	want := "payload:https://cdn.test/aaaaaaaaaaa" + "payload:https://cdn.test/bbbbbbbbbbb"
	if string(data) != want {
		t.Errorf("merged = %q, want %q", data, want)
	}
}

func TestService_no_rebuild_while_idle(t *testing.T) {
	h := newHarness(t, nil)
	h.meta.add("aaaaaaaaaaa", "First")
	h.svc.Enqueue(context.Background(), []EnqueueRequest{{SourceReference: ref("aaaaaaaaaaa")}})
	h.svc.Wait()
	h.svc.Remove(0)
	h.svc.Wait()

	if n := h.proc.concatCalls.Load(); n != 0 {
		t.Errorf("idle service should not concatenate, got %d calls", n)
	}
}

func TestService_unexpected_exit_reported_in_snapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.meta.add("aaaaaaaaaaa", "First")
	h.svc.Enqueue(context.Background(), []EnqueueRequest{{SourceReference: ref("aaaaaaaaaaa")}})
	h.svc.Wait()

	_ = h.svc.Configure("key", "chan")
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.proc.lastProcess().exit(errors.New("exit status 1"))

	eventually(t, func() bool { return !h.svc.Snapshot().IsStreaming }, "snapshot should report idle after a crash")
}
