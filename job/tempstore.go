package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TempStore owns the directory used by the materialize strategy. Names are
// "<unix-millis>-<title>-<random>.mp3" and created exclusively, so concurrent
// jobs never share a file.
type TempStore struct {
	dir    string
	logger zerolog.Logger
}

func NewTempStore(dir string, logger zerolog.Logger) (*TempStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create temp directory: %w", err)
	}
	return &TempStore{
		dir:    dir,
		logger: logger.With().Str("component", "tempstore").Logger(),
	}, nil
}

func (s *TempStore) Dir() string {
	return s.dir
}

// Create opens a new, empty file for one job's output.
func (s *TempStore) Create(title string) (*os.File, error) {
	pattern := fmt.Sprintf("%d-%s-*%s", time.Now().UnixMilli(), sanitize(title, tempStemMaxRune), audioExt)
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("could not create temp file: %w", err)
	}
	return f, nil
}

// Remove deletes path; a file that is already gone is not an error.
func (s *TempStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Str("path", path).Msg("could not remove temp file")
		return err
	}
	s.logger.Debug().Str("path", path).Msg("removed temp file")
	return nil
}

// Sweep deletes output files older than maxAge, such as those left behind
// by a crashed process. It returns the number of files removed.
func (s *TempStore) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), audioExt) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if s.Remove(filepath.Join(s.dir, e.Name())) == nil {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info().Int("count", removed).Msg("swept stale temp files")
	}
	return removed, nil
}
