package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_defaults(t *testing.T) {
	for _, key := range []string{"PORT", "WORK_DIR", "FFMPEG_PATH", "METADATA_TIMEOUT", "STOP_GRACE", "INGEST_URL", "MAX_REDIRECTS"} {
		t.Setenv(key, "")
	}

	s := FromEnv()
	assert.Equal(t, "8080", s.Port)
	assert.Equal(t, "downloads", s.WorkDir)
	assert.Equal(t, "ffmpeg", s.FFmpegPath)
	assert.Equal(t, 30*time.Second, s.MetadataTimeout)
	assert.Equal(t, 5*time.Second, s.StopGrace)
	assert.Equal(t, "rtmp://a.rtmp.youtube.com/live2", s.IngestURL)
	assert.Equal(t, 5, s.MaxRedirects)
}

func TestFromEnv_overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("WORK_DIR", "/tmp/segments")
	t.Setenv("DOWNLOAD_TIMEOUT", "2m")
	t.Setenv("STOP_GRACE", "12")
	t.Setenv("MAX_REDIRECTS", "2")

	s := FromEnv()
	assert.Equal(t, "9000", s.Port)
	assert.Equal(t, "/tmp/segments", s.WorkDir)
	assert.Equal(t, 2*time.Minute, s.DownloadTimeout)
	assert.Equal(t, 12*time.Second, s.StopGrace)
	assert.Equal(t, 2, s.MaxRedirects)
}

func TestGetEnvDuration_invalid(t *testing.T) {
	t.Setenv("SOME_TIMEOUT", "soon")
	assert.Equal(t, time.Second, GetEnvDuration("SOME_TIMEOUT", time.Second))

	t.Setenv("SOME_TIMEOUT", "-5s")
	assert.Equal(t, time.Second, GetEnvDuration("SOME_TIMEOUT", time.Second))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("WORKERS", "4")
	assert.Equal(t, 4, GetEnvInt("WORKERS", 1))

	t.Setenv("WORKERS", "four")
	assert.Equal(t, 1, GetEnvInt("WORKERS", 1))
}

func TestLoad_dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STREAMER_TEST_KEY=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("STREAMER_TEST_KEY") })

	require.NoError(t, Load(path))
	assert.Equal(t, "from-file", GetEnv("STREAMER_TEST_KEY", "fallback"))
}

func TestLoad_missing_file(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
