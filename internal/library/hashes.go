package library

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"shelfkeeper/internal/catalog"
	"shelfkeeper/internal/identity"
	"shelfkeeper/internal/ops"
)

// HashResult summarises a hash-generation pass.
type HashResult struct {
	Candidates      int   `json:"candidates"`
	HashesGenerated int   `json:"hashes_generated"`
	Errors          int   `json:"errors"`
	BytesHashed     int64 `json:"bytes_hashed"`
}

// HashGeneration returns the body of a hash-generation Operation: compute
// and cache the content hash of every catalog row that does not have one.
// A row whose file cannot be read is counted as an error and left without a
// hash; the pass continues.
func (r *Runner) HashGeneration() ops.Body {
	return func(t *ops.Tracker) (any, error) {
		ctx := t.Context()

		books, err := r.store.ListMissingHash(ctx)
		if err != nil {
			return nil, err
		}

		res := &HashResult{Candidates: len(books)}
		if len(books) == 0 {
			t.SetMessage("all catalog rows already hashed")
			return res, nil
		}

		var hashed, failed, bytesHashed atomic.Int64
		jobs := make(chan *catalog.Audiobook)
		var wg sync.WaitGroup
		workers := r.cfg.Workers.HashWorkers
		if workers < 1 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for b := range jobs {
					hash, n, err := identity.ContentHash(b.Path)
					if err != nil {
						slog.Warn("hash generation", "book_id", b.ID, "path", b.Path, "error", err)
						failed.Add(1)
						continue
					}
					if err := r.store.SetContentHash(ctx, b.ID, hash); err != nil {
						slog.Warn("hash generation: store", "book_id", b.ID, "error", err)
						failed.Add(1)
						continue
					}
					hashed.Add(1)
					bytesHashed.Add(n)
				}
			}()
		}

		// The dispatch loop is the cancellation checkpoint: each book is
		// both a progress report and a chance to stop.
		cancelled := false
		for i, b := range books {
			if t.Cancelled() {
				cancelled = true
				break
			}
			jobs <- b
			t.SetProgress((i + 1) * 100 / len(books))
			t.SetMessage("hashed %d/%d audiobooks (%s read)",
				hashed.Load(), len(books), humanize.Bytes(uint64(bytesHashed.Load())))
		}
		close(jobs)
		wg.Wait()

		res.HashesGenerated = int(hashed.Load())
		res.Errors = int(failed.Load())
		res.BytesHashed = bytesHashed.Load()
		if cancelled {
			return nil, &ops.CancelledError{Partial: res}
		}

		t.SetMessage("hash generation complete: %d hashed, %d errors, %s read",
			res.HashesGenerated, res.Errors, humanize.Bytes(uint64(res.BytesHashed)))
		return res, nil
	}
}
