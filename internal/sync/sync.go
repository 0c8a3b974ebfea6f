// Package sync reconciles catalog sources with the item store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/mathdrill/internal/domain"
	"github.com/conorfennell/mathdrill/internal/gitsource"
	"github.com/conorfennell/mathdrill/internal/parser"
	"github.com/conorfennell/mathdrill/internal/storage"
)

// Options control a sync run.
type Options struct {
	ReposDir    string
	Concurrency int
	// Progress receives git clone/pull output; nil discards it.
	Progress io.Writer
	Now      func() time.Time
}

// Result summarizes the reconciliation of one source.
type Result struct {
	SourceID    int64    `json:"sourceId"`
	Path        string   `json:"path"`
	Items       int      `json:"items"`
	Orphaned    int      `json:"orphaned"`
	ParseErrors []string `json:"parseErrors,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// SourceType classifies a source path as a git URL or a local directory.
func SourceType(path string) string {
	if strings.HasSuffix(path, ".git") || strings.HasPrefix(path, "git@") || strings.HasPrefix(path, "https://") {
		return storage.SourceGit
	}
	return storage.SourceLocal
}

// AddSource registers a new source. Local paths are made absolute and
// must point at an existing directory.
func AddSource(ctx context.Context, db *storage.DB, path string) (*storage.Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, domain.NewValidationError("path", "must not be empty")
	}

	sourceType := SourceType(path)
	if sourceType == storage.SourceLocal {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return nil, domain.NewValidationError("path", "must be an existing directory")
		}
		path = abs
	}

	id, err := db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return nil, err
	}
	slog.Info("Source added", "id", id, "type", sourceType, "path", path)
	return &storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// RunSync iterates over all sources and reconciles them, at most
// opts.Concurrency at a time. A failing source is reported in its Result
// and does not stop the others.
func RunSync(ctx context.Context, db *storage.DB, opts Options) ([]Result, error) {
	slog.Info("Starting sync process for all sources...")
	sources, err := db.GetAllSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}

	if len(sources) == 0 {
		slog.Info("No sources configured. Add one with --add-source <path/or/url.git>")
		return nil, nil
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	results := make([]Result, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, source := range sources {
		g.Go(func() error {
			res, err := syncSource(ctx, db, source, opts)
			if err != nil {
				slog.Error("Error syncing source", "id", source.ID, "path", source.Path, "error", err)
				res.Error = err.Error()
			}
			results[i] = res
			// Cancellation is the only failure that stops the run.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	slog.Info("Sync process complete.", "sources", len(sources))
	return results, nil
}

func syncSource(ctx context.Context, db *storage.DB, source storage.Source, opts Options) (Result, error) {
	slog.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)
	res := Result{SourceID: source.ID, Path: source.Path}

	dir := source.Path
	if source.Type == storage.SourceGit {
		if opts.ReposDir == "" {
			return res, errors.New("no repos directory configured for git sources")
		}
		if err := os.MkdirAll(opts.ReposDir, os.ModePerm); err != nil {
			return res, fmt.Errorf("failed to create repos directory: %w", err)
		}
		localRepoPath, err := gitURLToLocalPath(opts.ReposDir, source.Path)
		if err != nil {
			return res, err
		}
		if err := gitsource.Sync(ctx, source.Path, localRepoPath, opts.Progress); err != nil {
			return res, err
		}
		dir = localRepoPath
	}

	return reconcileDir(ctx, db, source.ID, dir, opts.Now(), res)
}

func reconcileDir(ctx context.Context, db *storage.DB, sourceID int64, dir string, now time.Time, res Result) (Result, error) {
	found := make(map[string]bool)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		items, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			res.ParseErrors = append(res.ParseErrors, parseErr.Error())
		}
		for _, item := range items {
			if found[item.ID] {
				continue
			}
			found[item.ID] = true
			if err := db.UpsertItem(ctx, item, sourceID); err != nil {
				return err
			}
		}
		return ctx.Err()
	})
	if walkErr != nil {
		return res, fmt.Errorf("error walking directory %s: %w", dir, walkErr)
	}
	res.Items = len(found)

	ids, err := db.ItemIDsBySource(ctx, sourceID)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		if found[id] {
			continue
		}
		deleted, err := db.DetachItem(ctx, id, sourceID)
		if err != nil {
			slog.Warn("Failed to detach orphaned item", "id", id, "error", err)
			continue
		}
		if deleted {
			slog.Info("Orphaned item deleted", "id", id)
			res.Orphaned++
		}
	}

	if err := db.UpdateSourceLastScanned(ctx, sourceID, now); err != nil {
		slog.Warn("Failed to update last scanned for source", "source_id", sourceID, "error", err)
	}

	slog.Info("reconciliation complete",
		"path", dir,
		"items", res.Items,
		"orphaned_deleted", res.Orphaned,
		"errors", len(res.ParseErrors),
	)
	return res, nil
}

// gitURLToLocalPath maps a git URL to a checkout directory under baseDir,
// e.g. git@github.com:org/repo.git -> baseDir/github.com/org/repo.
func gitURLToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}
