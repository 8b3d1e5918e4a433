package library

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"shelfkeeper/internal/catalog"
	"shelfkeeper/internal/ops"
)

// RescanResult summarises a full library rescan.
type RescanResult struct {
	FilesFound int `json:"files_found"`
	Added      int `json:"added"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// Rescan returns the body of a rescan Operation: walk the library tree and
// insert catalog rows for audio files not yet known. Existing rows are
// skipped, unreadable paths are counted and do not abort the pass.
func (r *Runner) Rescan() ops.Body {
	return func(t *ops.Tracker) (any, error) {
		ctx := t.Context()
		res := &RescanResult{}

		var walkErrors atomic.Int64
		files := make(chan fileInfo, 256)
		go walkTree(ctx, r.cfg.LibraryDir, r.cfg.Workers.ScanWalkers, files, func(path string, err error) {
			slog.Warn("rescan: walk error", "path", path, "error", err)
			walkErrors.Add(1)
		})

		t.SetMessage("scanning %s", r.cfg.LibraryDir)
		for f := range files {
			if t.Cancelled() {
				res.Errors += int(walkErrors.Load())
				return nil, &ops.CancelledError{Partial: res}
			}

			res.FilesFound++
			_, err := r.store.GetByPath(ctx, f.Path)
			switch {
			case err == nil:
				res.Skipped++
				continue
			case !errors.Is(err, catalog.ErrNotFound):
				slog.Warn("rescan: catalog lookup", "path", f.Path, "error", err)
				res.Errors++
				continue
			}

			title, author := metadataFromPath(r.cfg.LibraryDir, f.Path)
			book := &catalog.Audiobook{
				Title:     title,
				Author:    author,
				Path:      f.Path,
				SizeBytes: f.Size,
			}
			if err := r.store.Insert(ctx, book); err != nil {
				slog.Warn("rescan: insert", "path", f.Path, "error", err)
				res.Errors++
				continue
			}
			res.Added++

			if res.FilesFound%25 == 0 {
				t.SetMessage("scanned %d files, added %d", res.FilesFound, res.Added)
			}
		}

		res.Errors += int(walkErrors.Load())
		t.SetMessage("scan complete: %d files, %d added, %d skipped, %d errors",
			res.FilesFound, res.Added, res.Skipped, res.Errors)
		return res, nil
	}
}

// metadataFromPath derives fallback metadata from the file's location:
// the parent directory names the author, the file stem names the title.
// A file sitting directly in the library root has no author.
func metadataFromPath(root, path string) (title, author string) {
	base := filepath.Base(path)
	title = strings.TrimSuffix(base, filepath.Ext(base))

	parent := filepath.Dir(path)
	if parent != filepath.Clean(root) {
		author = filepath.Base(parent)
	}
	return title, author
}
