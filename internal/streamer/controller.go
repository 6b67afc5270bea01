package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"continuous-streamer/internal/platform/ffmpeg"
	"continuous-streamer/internal/platform/metrics"
)

const (
	DefaultIngestURL       = "rtmp://a.rtmp.youtube.com/live2"
	DefaultLiveURLTemplate = "https://www.youtube.com/channel/%s/live"
	DefaultStopGrace       = 5 * time.Second
)

// Broadcaster is the broadcast mode of the external media processor.
type Broadcaster interface {
	Broadcast(ctx context.Context, inputPath, endpoint string) (ffmpeg.Process, error)
}

// Rebuilder produces the merged artifact synchronously.
type Rebuilder interface {
	Rebuild(ctx context.Context) (string, error)
}

// ControllerConfig holds the publish endpoint layout.
type ControllerConfig struct {
	// IngestURL is the provider's ingest base; the stream key is appended as a path segment.
	IngestURL string
	// LiveURLTemplate is a fmt template taking the channel id.
	LiveURLTemplate string
	// StopGrace is how long a stopped broadcast may take to exit before it is killed.
	StopGrace time.Duration
}

// ExitFunc is notified when a broadcast process exits without Stop being called.
type ExitFunc func(err error)

// Controller owns the live-stream lifecycle: idle -> active -> idle.
type Controller struct {
	ctx       context.Context
	cfg       ControllerConfig
	proc      Broadcaster
	rebuilder Rebuilder
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu         sync.Mutex
	credential string
	channelID  string
	active     bool
	handle     ffmpeg.Process
	generation uint64
	onExit     ExitFunc
}

// NewController returns an idle Controller. ctx bounds the broadcast process lifetime.
func NewController(ctx context.Context, cfg ControllerConfig, proc Broadcaster, rebuilder Rebuilder, log *slog.Logger, m *metrics.Metrics) *Controller {
	if cfg.IngestURL == "" {
		cfg.IngestURL = DefaultIngestURL
	}
	if cfg.LiveURLTemplate == "" {
		cfg.LiveURLTemplate = DefaultLiveURLTemplate
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	return &Controller{
		ctx:       ctx,
		cfg:       cfg,
		proc:      proc,
		rebuilder: rebuilder,
		log:       log.With(slog.String("component", "controller")),
		metrics:   m,
	}
}

// OnUnexpectedExit registers fn to run when the broadcast dies on its own.
func (c *Controller) OnUnexpectedExit(fn ExitFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExit = fn
}

// Configure sets the publish credential and channel. The live session keeps the
// ones it started with, so Configure fails with ErrAlreadyActive while active.
func (c *Controller) Configure(credential, channelID string) error {
	credential = strings.TrimSpace(credential)
	channelID = strings.TrimSpace(channelID)
	if credential == "" || channelID == "" {
		return ErrInvalidCredential
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrAlreadyActive
	}
	c.credential = credential
	c.channelID = channelID
	return nil
}

// Start performs an initial synchronous concatenation and launches the broadcast.
// ctx bounds only the concatenation; the broadcast runs until Stop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.credential == "" {
		c.mu.Unlock()
		return ErrMissingCredential
	}
	if c.active {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.active = true
	c.generation++
	gen := c.generation
	endpoint := c.endpointLocked()
	c.mu.Unlock()
	c.metrics.SetStreaming(true)

	merged, err := c.rebuilder.Rebuild(ctx)
	if err != nil {
		c.abortStart(gen)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.generation != gen {
		return ErrStartAborted
	}

	c.log.Info("starting stream")
	handle, err := c.proc.Broadcast(c.ctx, merged, endpoint)
	if err != nil {
		c.active = false
		c.metrics.SetStreaming(false)
		return fmt.Errorf("start broadcast: %w", err)
	}
	c.handle = handle
	go c.supervise(gen, handle)
	return nil
}

func (c *Controller) abortStart(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen && c.active {
		c.active = false
		c.metrics.SetStreaming(false)
	}
}

// supervise waits for the broadcast to exit. An exit Stop did not cause clears the
// active flag and fires the exit hook.
func (c *Controller) supervise(gen uint64, handle ffmpeg.Process) {
	err := handle.Wait()

	c.mu.Lock()
	if c.generation != gen || c.handle != handle {
		c.mu.Unlock()
		c.log.Info("broadcast process closed", slog.Any("exit", err))
		return
	}
	c.active = false
	c.handle = nil
	onExit := c.onExit
	c.mu.Unlock()

	c.metrics.SetStreaming(false)
	c.metrics.IncBroadcastExits("unexpected")
	c.log.Warn("stream ended unexpectedly", slog.Any("exit", err))
	if onExit != nil {
		onExit(err)
	}
}

// Stop terminates the broadcast. Calling it while idle is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.generation++
	handle := c.handle
	c.handle = nil
	c.mu.Unlock()

	c.metrics.SetStreaming(false)
	if handle == nil {
		return
	}

	c.log.Info("stopping stream")
	if err := handle.Stop(c.cfg.StopGrace); err != nil {
		c.log.Error("failed to stop broadcast process", slog.Any("error", err))
	}
	c.metrics.IncBroadcastExits("stopped")
}

// IsActive reports whether a session is live.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LiveURL returns the viewer URL while active with a configured channel.
func (c *Controller) LiveURL() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.channelID == "" {
		return "", false
	}
	return fmt.Sprintf(c.cfg.LiveURLTemplate, c.channelID), true
}

// endpointLocked builds the publish URL. Caller must hold c.mu.
func (c *Controller) endpointLocked() string {
	return strings.TrimRight(c.cfg.IngestURL, "/") + "/" + c.credential
}
