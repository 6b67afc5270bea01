package streamer

// FetchState is the lifecycle state of a queued item's segment download.
// Transitions: Pending -> Fetching -> Ready | Failed. Ready and Failed are terminal.
type FetchState string

const (
	FetchPending  FetchState = "pending"
	FetchFetching FetchState = "downloading"
	FetchReady    FetchState = "ready"
	FetchFailed   FetchState = "error"
)

// String returns the wire representation of the state.
func (s FetchState) String() string {
	return string(s)
}

// QueueItem is one requested video.
type QueueItem struct {
	// ID is assigned at enqueue time and never changes. Segment files are keyed by it.
	ID string

	SourceReference string
	Title           string

	// EncodingURL is the selected encoding's payload URL. Internal only.
	EncodingURL string

	State    FetchState
	Progress int

	// LocalPath is set if and only if State == FetchReady.
	LocalPath string
}

// EnqueueRequest is one caller-supplied video to add.
type EnqueueRequest struct {
	SourceReference string `json:"url"`
	Title           string `json:"title,omitempty"`
}

// ItemStatus is the observer view of a QueueItem.
type ItemStatus struct {
	Title           string     `json:"title"`
	SourceReference string     `json:"url"`
	State           FetchState `json:"downloadStatus"`
	Progress        int        `json:"downloadProgress"`
}

// Snapshot is a point-in-time view of the queue and stream.
type Snapshot struct {
	TotalCount  int          `json:"totalVideos"`
	IsStreaming bool         `json:"isStreaming"`
	Items       []ItemStatus `json:"queue"`
	LiveURL     *string      `json:"liveStreamUrl"`
}
