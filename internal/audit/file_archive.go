package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// fileArchive implements Archive on the local file system.
type fileArchive struct {
	dir    string
	logger zerolog.Logger
}

// NewFileArchive creates an archive rooted at dir.
func NewFileArchive(dir string, logger zerolog.Logger) Archive {
	return &fileArchive{
		dir:    dir,
		logger: logger.With().Str("component", "file-archive").Logger(),
	}
}

// Store writes the record under dir/Key().
func (a *fileArchive) Store(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encode(rec)
	if err != nil {
		return err
	}

	path := filepath.Join(a.dir, filepath.FromSlash(rec.Key()))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		a.logger.Error().Err(err).Str("file", path).Msg("failed to create archive directory")
		return fmt.Errorf("failed to create archive directory for %s: %w", path, err)
	}

	// O_EXCL keeps records write-once.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		a.logger.Error().Err(err).Str("file", path).Msg("failed to create archive file")
		return fmt.Errorf("failed to create archive file %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		a.logger.Error().Err(err).Str("file", path).Msg("failed to write archive file")
		return fmt.Errorf("failed to write archive file %s: %w", path, err)
	}

	a.logger.Debug().Str("file", path).Str("outcome", rec.Outcome).Msg("callback archived")
	return nil
}
