package library

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"shelfkeeper/internal/identity"
	"shelfkeeper/internal/ops"
)

// ChecksumResult summarises a checksum index build for one tree.
type ChecksumResult struct {
	Tree               string `json:"tree"`
	FilesFound         int    `json:"files_found"`
	ChecksumsGenerated int    `json:"checksums_generated"`
	ExcludedUnreadable int    `json:"excluded_unreadable"`
	UniqueFiles        int    `json:"unique_files"`
}

// ChecksumGeneration returns the body of a checksum-generation Operation:
// rebuild the checksum index of exactly one tree. Unreadable files are
// excluded from the index and counted, so the unique-files summary stays
// consistent with what was actually indexed. The other tree's index is
// never touched.
func (r *Runner) ChecksumGeneration(tree string) (ops.Body, error) {
	root, err := r.cfg.TreeRoot(tree)
	if err != nil {
		return nil, err
	}
	ix, err := r.Index(tree)
	if err != nil {
		return nil, err
	}

	return func(t *ops.Tracker) (any, error) {
		ctx := t.Context()
		res := &ChecksumResult{Tree: tree}

		if err := ix.Clear(ctx); err != nil {
			return nil, err
		}

		var found, generated, excluded atomic.Int64
		files := make(chan fileInfo, 256)
		go walkTree(ctx, root, r.cfg.Workers.ScanWalkers, files, func(path string, err error) {
			slog.Warn("checksum build: walk error", "tree", tree, "path", path, "error", err)
			excluded.Add(1)
		})

		workers := r.cfg.Workers.ChecksumWorkers
		if workers < 1 {
			workers = 1
		}
		var wg sync.WaitGroup
		jobs := make(chan fileInfo)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for f := range jobs {
					sum, err := identity.Checksum(f.Path)
					if err != nil {
						// Unreadable: excluded from the index, never fatal.
						slog.Warn("checksum build: unreadable file", "tree", tree, "path", f.Path, "error", err)
						excluded.Add(1)
						continue
					}
					if err := ix.Put(ctx, f.Path, f.Size, sum); err != nil {
						slog.Warn("checksum build: index write", "tree", tree, "path", f.Path, "error", err)
						excluded.Add(1)
						continue
					}
					generated.Add(1)
				}
			}()
		}

		t.SetMessage("building %s checksum index from %s", tree, root)
		cancelled := false
		for f := range files {
			if t.Cancelled() {
				cancelled = true
				break
			}
			found.Add(1)
			jobs <- f
			if found.Load()%25 == 0 {
				t.SetMessage("checksummed %d of %d discovered files in %s",
					generated.Load(), found.Load(), tree)
			}
		}
		close(jobs)
		wg.Wait()

		res.FilesFound = int(found.Load())
		res.ChecksumsGenerated = int(generated.Load())
		res.ExcludedUnreadable = int(excluded.Load())

		unique, err := ix.UniqueChecksums(ctx)
		if err == nil {
			res.UniqueFiles = unique
		}

		if cancelled {
			return nil, &ops.CancelledError{Partial: res}
		}
		t.SetMessage("%s index complete: %d files, %d checksums, %d excluded, %d unique",
			tree, res.FilesFound, res.ChecksumsGenerated, res.ExcludedUnreadable, res.UniqueFiles)
		return res, nil
	}, nil
}
