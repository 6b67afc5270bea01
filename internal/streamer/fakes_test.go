package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"continuous-streamer/internal/platform/ffmpeg"
	"continuous-streamer/internal/platform/logger"
	"continuous-streamer/internal/youtube"

	"github.com/spf13/afero"
)

func testLogger() *slog.Logger {
	return logger.Discard()
}

// ref builds a watch URL for an 11-character id.
func ref(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// fakeFetcher serves canned details keyed by video id.
type fakeFetcher struct {
	mu      sync.Mutex
	details map[string]*youtube.VideoDetails
	errs    map[string]error
	calls   int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		details: make(map[string]*youtube.VideoDetails),
		errs:    make(map[string]error),
	}
}

// add registers a video with one playable 720p encoding at https://cdn.test/<id>.
func (f *fakeFetcher) add(id, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[id] = &youtube.VideoDetails{
		Status: true,
		ID:     id,
		Title:  title,
		Videos: youtube.FormatList{Items: []youtube.Format{
			{URL: "https://cdn.test/" + id, MimeType: "video/mp4", Quality: "720p", HasAudio: true},
		}},
	}
}

func (f *fakeFetcher) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeFetcher) Details(ctx context.Context, id string) (*youtube.VideoDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	d, ok := f.details[id]
	if !ok {
		return nil, fmt.Errorf("video %s not found", id)
	}
	return d, nil
}

// fakeDownloader writes "payload:<url>" and can be made to block or fail.
type fakeDownloader struct {
	calls   atomic.Int32
	started chan string
	release chan struct{}

	mu   sync.Mutex
	errs map[string]error
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{errs: make(map[string]error)}
}

// blocking makes every Download announce itself on started and wait for release.
func (d *fakeDownloader) blocking() *fakeDownloader {
	d.started = make(chan string, 16)
	d.release = make(chan struct{})
	return d
}

func (d *fakeDownloader) fail(url string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[url] = err
}

func (d *fakeDownloader) Download(ctx context.Context, url string, w io.Writer, progress youtube.ProgressFunc) (int64, error) {
	d.calls.Add(1)
	if d.started != nil {
		d.started <- url
		select {
		case <-d.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	d.mu.Lock()
	err := d.errs[url]
	d.mu.Unlock()

	payload := []byte("payload:" + url)
	half := len(payload) / 2
	n1, _ := w.Write(payload[:half])
	if progress != nil {
		progress(int64(n1), int64(len(payload)))
	}
	if err != nil {
		return int64(n1), err
	}
	n2, _ := w.Write(payload[half:])
	if progress != nil {
		progress(int64(n1+n2), int64(len(payload)))
	}
	return int64(n1 + n2), nil
}

// fakeProcess is a broadcast that runs until stopped or exited.
type fakeProcess struct {
	done    chan struct{}
	once    sync.Once
	err     error
	stopped atomic.Int32
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *fakeProcess) Stop(grace time.Duration) error {
	p.stopped.Add(1)
	p.exit(errors.New("signal: interrupt"))
	return nil
}

// exit simulates the process terminating on its own.
func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

type broadcastCall struct {
	input    string
	endpoint string
}

// fakeProcessor concatenates by joining segment contents from the afero fs.
type fakeProcessor struct {
	fs afero.Fs

	concatCalls atomic.Int32
	concatGate  chan struct{} // when set, each Concat waits for a receive
	concatErr   error

	mu         sync.Mutex
	manifests  []string
	broadcasts []broadcastCall
	processes  []*fakeProcess
	broadErr   error
}

func newFakeProcessor(fs afero.Fs) *fakeProcessor {
	return &fakeProcessor{fs: fs}
}

func (p *fakeProcessor) Concat(ctx context.Context, manifestPath, outputPath string) error {
	p.concatCalls.Add(1)
	if p.concatGate != nil {
		<-p.concatGate
	}

	manifest, err := afero.ReadFile(p.fs, manifestPath)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.manifests = append(p.manifests, string(manifest))
	p.mu.Unlock()

	if p.concatErr != nil {
		return p.concatErr
	}

	dir := manifestPath[:strings.LastIndex(manifestPath, "/")+1]
	var merged []byte
	for _, line := range strings.Split(strings.TrimSpace(string(manifest)), "\n") {
		name := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		data, err := afero.ReadFile(p.fs, dir+name)
		if err != nil {
			return fmt.Errorf("%s: no such file", name)
		}
		merged = append(merged, data...)
	}
	return afero.WriteFile(p.fs, outputPath, merged, 0o644)
}

func (p *fakeProcessor) Broadcast(ctx context.Context, inputPath, endpoint string) (ffmpeg.Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.broadErr != nil {
		return nil, p.broadErr
	}
	proc := newFakeProcess()
	p.broadcasts = append(p.broadcasts, broadcastCall{input: inputPath, endpoint: endpoint})
	p.processes = append(p.processes, proc)
	return proc, nil
}

func (p *fakeProcessor) lastProcess() *fakeProcess {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.processes) == 0 {
		return nil
	}
	return p.processes[len(p.processes)-1]
}

func (p *fakeProcessor) lastManifest() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.manifests) == 0 {
		return ""
	}
	return p.manifests[len(p.manifests)-1]
}

type harness struct {
	svc   *Service
	fs    afero.Fs
	store *SegmentStore
	meta  *fakeFetcher
	dl    *fakeDownloader
	proc  *fakeProcessor
}

func newHarness(t *testing.T, dl *fakeDownloader) *harness {
	t.Helper()
	if dl == nil {
		dl = newFakeDownloader()
	}
	fs := afero.NewMemMapFs()
	store, err := NewSegmentStoreWithFS(fs, "/work", dl, testLogger())
	if err != nil {
		t.Fatalf("NewSegmentStoreWithFS: %v", err)
	}
	meta := newFakeFetcher()
	proc := newFakeProcessor(fs)
	svc := NewService(
		NewInMemoryRepository(),
		NewResolver(meta, testLogger()),
		store,
		proc,
		ControllerConfig{IngestURL: "rtmp://ingest.test/live2", StopGrace: time.Second},
		testLogger(),
		nil,
	)
	t.Cleanup(func() {
		if dl.release != nil {
			select {
			case <-dl.release:
			default:
				close(dl.release)
			}
		}
		svc.Close()
	})
	return &harness{svc: svc, fs: fs, store: store, meta: meta, dl: dl, proc: proc}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
