package streamer

import (
	"strings"
)

// BuildConcatManifest renders an ffmpeg concat-demuxer manifest listing names in order.
// Names are store-relative; ffmpeg resolves them against the manifest's directory.
// An empty slice produces an empty manifest.
func BuildConcatManifest(names []string) string {
	var b strings.Builder
	for _, name := range names {
		b.WriteString("file '")
		b.WriteString(escapeManifestPath(name))
		b.WriteString("'\n")
	}
	return b.String()
}

// escapeManifestPath quotes a single quote the way the concat demuxer expects: '\''.
func escapeManifestPath(name string) string {
	return strings.ReplaceAll(name, "'", `'\''`)
}
