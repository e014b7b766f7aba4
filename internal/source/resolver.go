package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// repoID matches "name" or "owner/name" Hugging Face repository ids.
var repoID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(/[A-Za-z0-9][A-Za-z0-9._-]*)?$`)

// Resolver maps model identifiers to checkpoint directories.
type Resolver struct {
	// ModelsDir is the root of the download cache.
	ModelsDir string

	// Download enables fetching missing models.
	Download bool

	Downloader Downloader
	Logger     *slog.Logger
}

// Resolve returns a directory holding the checkpoint for id at revision.
//
// An id naming an existing directory is used as is. Otherwise the cache
// entry <ModelsDir>/<id>/<revision> is used, downloading it first when
// downloads are enabled.
func (r *Resolver) Resolve(ctx context.Context, id, revision string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if IsLocal(id) {
		return id, nil
	}
	if !repoID.MatchString(id) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if revision == "" {
		revision = MainRevision
	}

	dir := filepath.Join(r.ModelsDir, filepath.FromSlash(id), revision)
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err == nil {
		r.logger().Debug("Using cached model", "id", id, "revision", revision, "path", dir)
		return dir, nil
	}

	if !r.Download || r.Downloader == nil {
		return "", fmt.Errorf("%w: %s@%s not in %s and downloads are disabled", ErrNotFound, id, revision, r.ModelsDir)
	}
	if err := r.Downloader.Download(ctx, id, revision, dir); err != nil {
		return "", fmt.Errorf("%w: %s@%s: %w", ErrNotFound, id, revision, err)
	}
	return dir, nil
}

// IsLocal reports whether id names an existing directory.
func IsLocal(id string) bool {
	info, err := os.Stat(id)
	return err == nil && info.IsDir()
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
