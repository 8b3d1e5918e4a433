package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"shelfkeeper/internal/catalog"
	"shelfkeeper/internal/identity"
)

// RefError records a single failed removal.
type RefError struct {
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// Result aggregates a removal batch. Every requested reference lands in
// exactly one bucket: Deleted + SkippedNotFound + len(Errors) equals the
// batch size.
type Result struct {
	Deleted         int        `json:"deleted_count"`
	SkippedNotFound int        `json:"skipped_not_found"`
	ReclaimedBytes  int64      `json:"reclaimed_bytes"`
	Errors          []RefError `json:"errors"`
}

func (r *Result) fail(ref string, err error) {
	r.Errors = append(r.Errors, RefError{Ref: ref, Reason: err.Error()})
}

// Remover deletes duplicate content by catalog id or by raw path. Removal is
// at-least-effort: every reference in a batch is attempted regardless of
// earlier failures, and nothing is rolled back.
type Remover struct {
	store *catalog.Store
}

// NewRemover creates a Remover over the catalog.
func NewRemover(store *catalog.Store) *Remover {
	return &Remover{store: store}
}

// RemoveBooks deletes the given catalog rows. When deleteFiles is set the
// underlying audio file is removed first; a file that is already gone does
// not block dropping the row. The caller is responsible for never including
// a group keeper in ids.
func (rm *Remover) RemoveBooks(ctx context.Context, ids []int64, deleteFiles bool) Result {
	var res Result
	for _, id := range ids {
		ref := strconv.FormatInt(id, 10)

		book, err := rm.store.Get(ctx, id)
		if errors.Is(err, catalog.ErrNotFound) {
			// Vanished since the duplicate report was produced; external
			// catalog changes are expected.
			res.SkippedNotFound++
			continue
		}
		if err != nil {
			res.fail(ref, err)
			continue
		}

		if deleteFiles {
			if err := os.Remove(book.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				res.fail(ref, fmt.Errorf("remove file %q: %w", book.Path, err))
				continue
			}
		}

		if err := rm.store.Delete(ctx, id); err != nil && !errors.Is(err, catalog.ErrNotFound) {
			res.fail(ref, err)
			continue
		}

		res.Deleted++
		res.ReclaimedBytes += book.SizeBytes
		slog.Info("duplicate removed", "book_id", id, "path", book.Path, "file_deleted", deleteFiles)
	}
	return res
}

// RemovePaths deletes raw files from the tree the index is bound to and
// drops their index entries. Paths in the library tree also lose their
// catalog row; the sources tree has none to lose.
func (rm *Remover) RemovePaths(ctx context.Context, ix *identity.TreeIndex, paths []string) Result {
	var res Result
	library := ix.Tree() == "library"

	for _, path := range paths {
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}

		err := os.Remove(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			res.SkippedNotFound++
		case err != nil:
			res.fail(path, err)
			continue
		default:
			res.Deleted++
			res.ReclaimedBytes += size
			slog.Info("duplicate file removed", "path", path, "tree", ix.Tree())
		}

		// Keep the index and catalog consistent whether the file was
		// removed here or had already vanished.
		if derr := ix.Delete(ctx, path); derr != nil {
			slog.Warn("drop index entry", "path", path, "error", derr)
		}
		if library {
			if derr := rm.store.DeleteByPath(ctx, path); derr != nil {
				slog.Warn("drop catalog row for removed path", "path", path, "error", derr)
			}
		}
	}
	return res
}
