package library

import (
	"errors"
	"log/slog"
	"time"

	"shelfkeeper/internal/cloud"
	"shelfkeeper/internal/ops"
)

// ErrCloudNotConfigured rejects a cloud-sync start when no endpoint is set.
var ErrCloudNotConfigured = errors.New("cloud sync endpoint not configured")

// SyncResult summarises a cloud position sync.
type SyncResult struct {
	Candidates int `json:"candidates"`
	Synced     int `json:"synced"`
	Errors     int `json:"errors"`
}

// CloudSync returns the body of a cloud-sync Operation: push every changed
// playback position to the external service. Per-book failures are counted
// and the pass continues; each book is a cancellation checkpoint.
func (r *Runner) CloudSync() (ops.Body, error) {
	if r.cloud == nil {
		return nil, ErrCloudNotConfigured
	}

	return func(t *ops.Tracker) (any, error) {
		ctx := t.Context()

		books, err := r.store.ListUnsyncedPositions(ctx)
		if err != nil {
			return nil, err
		}

		res := &SyncResult{Candidates: len(books)}
		if len(books) == 0 {
			t.SetMessage("all playback positions already synced")
			return res, nil
		}

		for i, b := range books {
			if t.Cancelled() {
				return nil, &ops.CancelledError{Partial: res}
			}

			pos := cloud.Position{
				BookID:          b.ID,
				Title:           b.Title,
				PositionSeconds: b.PositionSeconds,
				UpdatedAt:       b.UpdatedAt.Unix(),
			}
			if err := r.cloud.PushPosition(ctx, pos); err != nil {
				slog.Warn("cloud sync: push failed", "book_id", b.ID, "error", err)
				res.Errors++
			} else {
				if err := r.store.MarkPositionSynced(ctx, b.ID, time.Now()); err != nil {
					slog.Warn("cloud sync: mark synced", "book_id", b.ID, "error", err)
				}
				res.Synced++
			}

			t.SetProgress((i + 1) * 100 / len(books))
			t.SetMessage("synced %d/%d positions", res.Synced, len(books))
		}

		t.SetMessage("cloud sync complete: %d synced, %d errors", res.Synced, res.Errors)
		return res, nil
	}, nil
}
