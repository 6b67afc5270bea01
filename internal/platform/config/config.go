package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the full runtime configuration of the streamer service.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	// WorkDir holds downloaded segments, the concat manifest and the merged artifact.
	// It is purged on every start.
	WorkDir    string
	FFmpegPath string

	RapidAPIKey  string
	RapidAPIHost string

	// MetadataTimeout bounds metadata requests and the wait for download response headers.
	MetadataTimeout time.Duration
	// DownloadTimeout bounds a whole segment download.
	DownloadTimeout time.Duration
	// MaxRedirects caps redirect chains on metadata and download requests.
	MaxRedirects    int

	IngestURL       string
	LiveURLTemplate string

	StopGrace       time.Duration
	ShutdownTimeout time.Duration
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// FromEnv builds Settings from the environment, falling back to defaults.
func FromEnv() Settings {
	return Settings{
		Port:            GetEnv("PORT", "8080"),
		LogLevel:        GetEnv("LOG_LEVEL", "info"),
		LogFormat:       GetEnv("LOG_FORMAT", "json"),
		WorkDir:         GetEnv("WORK_DIR", "downloads"),
		FFmpegPath:      GetEnv("FFMPEG_PATH", "ffmpeg"),
		RapidAPIKey:     GetEnv("RAPIDAPI_KEY", ""),
		RapidAPIHost:    GetEnv("RAPIDAPI_HOST", "youtube-media-downloader.p.rapidapi.com"),
		MetadataTimeout: GetEnvDuration("METADATA_TIMEOUT", 30*time.Second),
		DownloadTimeout: GetEnvDuration("DOWNLOAD_TIMEOUT", 10*time.Minute),
		MaxRedirects:    GetEnvInt("MAX_REDIRECTS", 5),
		IngestURL:       GetEnv("INGEST_URL", "rtmp://a.rtmp.youtube.com/live2"),
		LiveURLTemplate: GetEnv("LIVE_URL_TEMPLATE", "https://www.youtube.com/channel/%s/live"),
		StopGrace:       GetEnvDuration("STOP_GRACE", 5*time.Second),
		ShutdownTimeout: GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration parses the variable with time.ParseDuration ("30s", "5m").
// A bare integer is read as seconds. Non-positive or invalid values yield fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
