package youtube

// Format is one downloadable stream variant as reported by the metadata API.
type Format struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Quality  string `json:"quality,omitempty"`
	HasAudio bool   `json:"hasAudio"`
	Size     int64  `json:"size"`
}

// FormatList wraps the API's {"items": [...]} envelope.
type FormatList struct {
	Items []Format `json:"items"`
}

// VideoDetails is the metadata API response for a single video id.
type VideoDetails struct {
	Status        bool       `json:"status"`
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	LengthSeconds int        `json:"lengthSeconds"`
	Videos        FormatList `json:"videos"`
	Audios        FormatList `json:"audios"`
}
