package library

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"shelfkeeper/internal/dedupe"
	"shelfkeeper/internal/ops"
)

// RemovalRequest selects duplicate content for deletion. Mode "books" takes
// catalog ids; mode "paths" takes raw paths in one tree. Callers must never
// include a group keeper.
type RemovalRequest struct {
	Mode        string   `json:"mode"`
	IDs         []int64  `json:"ids,omitempty"`
	Paths       []string `json:"paths,omitempty"`
	Tree        string   `json:"tree,omitempty"`
	DeleteFiles bool     `json:"delete_files,omitempty"`
}

// Validate rejects malformed requests synchronously, before any Operation
// is admitted.
func (req *RemovalRequest) Validate() error {
	switch req.Mode {
	case "books":
		if len(req.IDs) == 0 {
			return fmt.Errorf("mode %q requires ids", req.Mode)
		}
	case "paths":
		if len(req.Paths) == 0 {
			return fmt.Errorf("mode %q requires paths", req.Mode)
		}
		if req.Tree != "sources" && req.Tree != "library" {
			return fmt.Errorf("mode %q requires tree \"sources\" or \"library\", got %q", req.Mode, req.Tree)
		}
	default:
		return fmt.Errorf("unknown removal mode %q", req.Mode)
	}
	return nil
}

// Size returns the number of references in the batch.
func (req *RemovalRequest) Size() int {
	if req.Mode == "books" {
		return len(req.IDs)
	}
	return len(req.Paths)
}

// DuplicateDeletion returns the body of a duplicate-deletion Operation
// wrapping one at-least-effort removal batch. The request must already be
// validated.
func (r *Runner) DuplicateDeletion(req RemovalRequest) ops.Body {
	return func(t *ops.Tracker) (any, error) {
		ctx := t.Context()
		t.SetMessage("removing %d duplicate references", req.Size())

		var res dedupe.Result
		switch req.Mode {
		case "books":
			res = r.remover.RemoveBooks(ctx, req.IDs, req.DeleteFiles)
		case "paths":
			ix, err := r.Index(req.Tree)
			if err != nil {
				return nil, err
			}
			res = r.remover.RemovePaths(ctx, ix, req.Paths)
		default:
			return nil, fmt.Errorf("unknown removal mode %q", req.Mode)
		}

		t.SetMessage("removed %d of %d references, %d skipped, %d errors, %s reclaimed",
			res.Deleted, req.Size(), res.SkippedNotFound, len(res.Errors),
			humanize.Bytes(uint64(res.ReclaimedBytes)))
		return &res, nil
	}
}
