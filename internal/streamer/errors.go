package streamer

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidReference is returned when no known URL shape yields a video id.
	ErrInvalidReference = errors.New("invalid video reference")

	// ErrResolutionFailed is returned when the metadata fetch fails or is malformed.
	ErrResolutionFailed = errors.New("video resolution failed")

	// ErrNoPlayableEncoding is returned when no combined audio+video mp4 encoding exists.
	ErrNoPlayableEncoding = errors.New("no playable encoding")

	// ErrDownloadFailed is returned when a segment payload cannot be stored.
	ErrDownloadFailed = errors.New("download failed")

	// ErrConcatenationFailed is returned when the merged artifact cannot be rebuilt.
	ErrConcatenationFailed = errors.New("concatenation failed")

	// ErrInvalidCredential is returned by Configure for an empty key or channel.
	ErrInvalidCredential = errors.New("stream key and channel id must not be empty")

	// ErrMissingCredential is returned by Start before Configure succeeded.
	ErrMissingCredential = errors.New("stream key is required to start streaming")

	// ErrAlreadyActive is returned by Start and Configure while a session is live.
	ErrAlreadyActive = errors.New("already streaming")

	// ErrStartAborted is returned by Start when Stop ran before the broadcast launched.
	ErrStartAborted = errors.New("start aborted by stop")
)

// DownloadError carries transport details for a failed segment download.
type DownloadError struct {
	ItemID     string
	StatusCode int
	Header     http.Header
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: status %d: %v", e.ItemID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.ItemID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDownloadFailed) true for every DownloadError.
func (e *DownloadError) Is(target error) bool { return target == ErrDownloadFailed }
