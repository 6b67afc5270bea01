package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"continuous-streamer/internal/youtube"
)

// videoIDPattern matches watch?v=, /embed/, /v/, /e/, /<section>/<x>/ and youtu.be/ shapes.
var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/(?:[^/]+/.+/|(?:v|e(?:mbed)?)/|.*[?&]v=)|youtu\.be/)([^"&?/\s]{11})`)

const playableMimeType = "video/mp4"

// DetailsFetcher is the metadata-fetch collaborator.
type DetailsFetcher interface {
	Details(ctx context.Context, videoID string) (*youtube.VideoDetails, error)
}

// Resolution is the result of resolving a source reference.
type Resolution struct {
	ID        string
	Title     string
	Encodings []youtube.Format
}

// Resolver turns source references into candidate encodings.
type Resolver struct {
	fetcher DetailsFetcher
	log     *slog.Logger
}

// NewResolver returns a Resolver backed by fetcher.
func NewResolver(fetcher DetailsFetcher, log *slog.Logger) *Resolver {
	return &Resolver{fetcher: fetcher, log: log.With(slog.String("component", "resolver"))}
}

// ExtractVideoID returns the 11-character id embedded in ref.
func ExtractVideoID(ref string) (string, error) {
	m := videoIDPattern.FindStringSubmatch(ref)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return m[1], nil
}

// Resolve extracts the id from ref and fetches its metadata.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Resolution, error) {
	id, err := ExtractVideoID(ref)
	if err != nil {
		return nil, err
	}

	details, err := r.fetcher.Details(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResolutionFailed, id, err)
	}
	if details == nil {
		return nil, fmt.Errorf("%w: %s: empty response", ErrResolutionFailed, id)
	}

	r.log.Debug("video resolved",
		slog.String("video_id", id),
		slog.String("title", details.Title),
		slog.Int("length_s", details.LengthSeconds),
		slog.Int("encodings", len(details.Videos.Items)))

	return &Resolution{
		ID:        id,
		Title:     details.Title,
		Encodings: details.Videos.Items,
	}, nil
}

// SelectBestEncoding picks the highest-quality mp4 encoding carrying audio.
// Ties keep list order.
func SelectBestEncoding(encodings []youtube.Format) (youtube.Format, error) {
	best := -1
	bestQuality := 0
	for i, f := range encodings {
		if !f.HasAudio || !strings.Contains(f.MimeType, playableMimeType) {
			continue
		}
		q := qualityValue(f.Quality)
		if best == -1 || q > bestQuality {
			best, bestQuality = i, q
		}
	}
	if best == -1 {
		return youtube.Format{}, ErrNoPlayableEncoding
	}
	return encodings[best], nil
}

// qualityValue parses the integer prefix of labels like "1080p" or "720p60".
func qualityValue(label string) int {
	end := 0
	for end < len(label) && label[end] >= '0' && label[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(label[:end])
	if err != nil {
		return 0
	}
	return n
}
