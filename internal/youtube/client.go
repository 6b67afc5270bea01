// Package youtube talks to the external services the streamer depends on:
// the RapidAPI video-details endpoint and the CDN hosting encoded streams.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultHost         = "youtube-media-downloader.p.rapidapi.com"
	detailsPath         = "/v2/video/details"
	headerRapidAPIKey   = "x-rapidapi-key"
	headerRapidAPIHost  = "x-rapidapi-host"
	DefaultMaxRedirects = 5
	maxErrorBodyPreview = 512
)

var (
	// ErrMalformedResponse is returned when the details payload cannot be decoded
	// or reports status=false.
	ErrMalformedResponse = errors.New("malformed metadata response")
	errTooManyRedirects  = errors.New("too many redirects")
)

// HTTPError describes a non-2xx response. Header is kept for diagnostics.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
	Header     http.Header
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// ProgressFunc receives the running byte count and the expected total
// (-1 when the server did not send Content-Length).
type ProgressFunc func(written, total int64)

// Options configures a Client.
type Options struct {
	APIKey  string
	Host    string
	BaseURL string // overrides https://<Host>, used by tests

	// MetadataTimeout bounds each details request and the wait for download
	// response headers.
	MetadataTimeout time.Duration
	// DownloadTimeout bounds a full binary transfer.
	DownloadTimeout time.Duration
	// MaxRedirects caps each redirect chain.
	MaxRedirects    int
}

// Client fetches video metadata and binary payloads.
type Client struct {
	opts     Options
	baseURL  string
	metadata *http.Client
	download *http.Client
	log      *slog.Logger
}

// NewClient returns a Client with bounded timeouts and a capped redirect chain.
func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = 30 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 10 * time.Minute
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	base := opts.BaseURL
	if base == "" {
		base = "https://" + opts.Host
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.MetadataTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	checkRedirect := func(req *http.Request, via []*http.Request) error {
		if len(via) >= opts.MaxRedirects {
			return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, opts.MaxRedirects)
		}
		return nil
	}

	return &Client{
		opts:    opts,
		baseURL: base,
		metadata: &http.Client{
			Transport:     transport,
			Timeout:       opts.MetadataTimeout,
			CheckRedirect: checkRedirect,
		},
		download: &http.Client{
			Transport:     transport,
			Timeout:       opts.DownloadTimeout,
			CheckRedirect: checkRedirect,
		},
		log: log.With(slog.String("component", "youtube")),
	}
}

// Details fetches metadata and available encodings for a video id.
func (c *Client) Details(ctx context.Context, videoID string) (*VideoDetails, error) {
	u := c.baseURL + detailsPath + "?" + url.Values{"videoId": {videoID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build details request: %w", err)
	}
	req.Header.Set(headerRapidAPIKey, c.opts.APIKey)
	req.Header.Set(headerRapidAPIHost, c.opts.Host)
	req.Header.Set("Accept", "application/json")

	resp, err := c.metadata.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch details for %s: %w", videoID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError(u, resp)
	}

	var details VideoDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !details.Status {
		return nil, fmt.Errorf("%w: status false for %s", ErrMalformedResponse, videoID)
	}

	c.log.Debug("details fetched",
		slog.String("video_id", videoID),
		slog.Int("videos", len(details.Videos.Items)),
		slog.Int("audios", len(details.Audios.Items)))
	return &details, nil
}

// Download streams the payload at rawURL into w, reporting progress if set.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer, progress ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return 0, newHTTPError(rawURL, resp)
	}

	var dst io.Writer = w
	if progress != nil {
		dst = &progressWriter{w: w, total: resp.ContentLength, fn: progress}
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download body: %w", err)
	}
	if n == 0 {
		return 0, errors.New("no data received from download server")
	}
	return n, nil
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.fn(p.written, p.total)
	return n, err
}

func newHTTPError(u string, resp *http.Response) *HTTPError {
	preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyPreview))
	return &HTTPError{
		URL:        u,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       string(preview),
	}
}
