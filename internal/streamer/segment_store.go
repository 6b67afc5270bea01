package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"continuous-streamer/internal/youtube"

	"github.com/spf13/afero"
)

const (
	segmentPrefix = "segment_"
	segmentExt    = ".mp4"
	partialSuffix = ".part"
)

// Downloader is the binary-fetch collaborator.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer, progress youtube.ProgressFunc) (int64, error)
}

// SegmentStore owns the working directory: downloaded segments, the concat
// manifest and the merged artifact all live in it.
type SegmentStore struct {
	fs  afero.Fs
	dir string
	dl  Downloader
	log *slog.Logger
}

// NewSegmentStore opens dir on the OS filesystem and purges it.
func NewSegmentStore(dir string, dl Downloader, log *slog.Logger) (*SegmentStore, error) {
	return NewSegmentStoreWithFS(afero.NewOsFs(), dir, dl, log)
}

// NewSegmentStoreWithFS is NewSegmentStore over an arbitrary filesystem.
func NewSegmentStoreWithFS(fs afero.Fs, dir string, dl Downloader, log *slog.Logger) (*SegmentStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir %s: %w", dir, err)
	}
	s := &SegmentStore{
		fs:  fs,
		dir: abs,
		dl:  dl,
		log: log.With(slog.String("component", "segment_store"), slog.String("dir", abs)),
	}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the absolute working directory.
func (s *SegmentStore) Dir() string {
	return s.dir
}

// SegmentName is the store-relative file name for the segment keyed by key.
func SegmentName(key string) string {
	return segmentPrefix + key + segmentExt
}

// PathFor maps a stable item key to its segment path. One file per item.
func (s *SegmentStore) PathFor(key string) string {
	return s.Path(SegmentName(key))
}

// Path joins a store-relative name onto the working directory.
func (s *SegmentStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Exists reports whether path is present in the store.
func (s *SegmentStore) Exists(path string) bool {
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

// EnsureFetched downloads url to the segment path for key unless it already exists.
// The payload is written to a ".part" sibling and renamed into place, so the final
// path only ever holds a complete file.
func (s *SegmentStore) EnsureFetched(ctx context.Context, key, url string, progress youtube.ProgressFunc) (string, error) {
	path := s.PathFor(key)
	log := s.log.With(slog.String("item_id", key))

	if s.Exists(path) {
		log.Debug("segment already downloaded")
		return path, nil
	}

	partial := path + partialSuffix
	f, err := s.fs.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", &DownloadError{ItemID: key, Err: fmt.Errorf("create %s: %w", partial, err)}
	}

	log.Info("downloading segment")
	n, err := s.dl.Download(ctx, url, f, progress)
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", partial, closeErr)
	}
	if err == nil {
		err = s.fs.Rename(partial, path)
	}
	if err != nil {
		if rmErr := s.fs.Remove(partial); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("failed to remove partial segment", slog.String("path", partial), slog.Any("error", rmErr))
		}
		return "", downloadError(key, err)
	}

	log.Info("segment downloaded", slog.Int64("bytes", n))
	return path, nil
}

// Remove deletes path. Failures are logged, never returned.
func (s *SegmentStore) Remove(path string) {
	if err := s.fs.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		s.log.Error("failed to delete file", slog.String("path", path), slog.Any("error", err))
		return
	}
	s.log.Debug("file deleted", slog.String("path", path))
}

// Reset creates the working directory if needed and deletes every file inside it.
func (s *SegmentStore) Reset() error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create work dir %s: %w", s.dir, err)
	}
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return fmt.Errorf("list work dir %s: %w", s.dir, err)
	}
	for _, e := range entries {
		if err := s.fs.RemoveAll(s.Path(e.Name())); err != nil {
			return fmt.Errorf("clear work dir %s: %w", s.dir, err)
		}
	}
	s.log.Info("work dir reset", slog.Int("removed", len(entries)))
	return nil
}

// WriteFile replaces the store-relative file name with data via a temp-then-rename.
func (s *SegmentStore) WriteFile(name string, data []byte) (string, error) {
	path := s.Path(name)
	tmp := path + partialSuffix
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		s.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}
	return path, nil
}

// Commit atomically moves from over to, both inside the store.
func (s *SegmentStore) Commit(from, to string) error {
	if err := s.fs.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}
	return nil
}

func downloadError(key string, err error) error {
	de := &DownloadError{ItemID: key, Err: err}
	var httpErr *youtube.HTTPError
	if errors.As(err, &httpErr) {
		de.StatusCode = httpErr.StatusCode
		de.Header = httpErr.Header
	}
	return de
}
