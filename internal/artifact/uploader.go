// Package artifact stages local files in blob storage and derives the
// read-only references a task uses to fetch them.
package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/matthewmarion/batchboy/internal/blob"
)

// NoMatchingFilesError is returned when none of the patterns match a file.
type NoMatchingFilesError struct {
	Dir      string
	Patterns []string
}

func (e *NoMatchingFilesError) Error() string {
	return fmt.Sprintf("no files in %s match %s", e.Dir, strings.Join(e.Patterns, ", "))
}

// Uploader copies files from a source directory into a blob container.
type Uploader struct {
	store     blob.Store
	fs        afero.Fs
	sourceDir string
}

func NewUploader(store blob.Store, fs afero.Fs, sourceDir string) *Uploader {
	return &Uploader{store: store, fs: fs, sourceDir: sourceDir}
}

// UploadArtifacts uploads every regular file in the source directory that
// matches one of patterns to container, under its base name. It returns the
// sorted names uploaded. Nothing is written to the store when no file
// matches.
func (u *Uploader) UploadArtifacts(ctx context.Context, container string, patterns []string) ([]string, error) {
	paths, err := u.match(patterns)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &NoMatchingFilesError{Dir: u.sourceDir, Patterns: patterns}
	}

	if err := u.store.CreateContainerIfNotExists(ctx, container); err != nil {
		return nil, fmt.Errorf("creating container %s: %w", container, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range paths {
		g.Go(func() error {
			return u.upload(gctx, container, p)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	sort.Strings(names)
	return names, nil
}

func (u *Uploader) upload(ctx context.Context, container, path string) error {
	name := filepath.Base(path)
	f, err := u.fs.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := u.store.Upload(ctx, container, name, f); err != nil {
		return fmt.Errorf("uploading %s to %s: %w", path, container, err)
	}
	slog.Info("uploaded artifact", "container", container, "name", name, "source", path)
	return nil
}

// match resolves patterns against the source directory, keeping regular
// files only and collapsing duplicates.
func (u *Uploader) match(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		matches, err := afero.Glob(u.fs, filepath.Join(u.sourceDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			info, err := u.fs.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			seen[m] = true
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)
	return paths, nil
}
