package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"shelfkeeper/internal/dedupe"
	"shelfkeeper/internal/library"
	"shelfkeeper/internal/ops"
)

// DuplicatesHandler runs duplicate detection and removal.
type DuplicatesHandler struct {
	Manager *ops.Manager
	Runner  *library.Runner
	BaseCtx context.Context
}

func (h *DuplicatesHandler) baseContext() context.Context {
	if h.BaseCtx != nil {
		return h.BaseCtx
	}
	return context.Background()
}

// findResponse is the GET /api/duplicates payload.
type findResponse struct {
	Mode                string         `json:"mode"`
	Tree                string         `json:"tree,omitempty"`
	Groups              []dedupe.Group `json:"groups"`
	TotalDuplicateFiles int            `json:"total_duplicate_files"`
	TotalWastedMB       float64        `json:"total_wasted_mb"`
	UniqueCount         int            `json:"unique_count"`
	Summary             dedupe.Summary `json:"summary"`
}

// Find handles GET /api/duplicates?mode=title|hash|checksum[&tree=].
// Detection is a synchronous read; only removal runs as an Operation.
func (h *DuplicatesHandler) Find(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	tree := r.URL.Query().Get("tree")
	ctx := r.Context()

	var (
		groups []dedupe.Group
		sum    dedupe.Summary
		err    error
	)
	switch mode {
	case "title":
		groups, sum, err = dedupe.ByTitle(ctx, h.Runner.Store())
	case "hash":
		groups, sum, err = dedupe.ByHash(ctx, h.Runner.Store())
	case "checksum":
		ix, ixErr := h.Runner.Index(tree)
		if ixErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_TREE",
				`checksum mode requires tree "sources" or "library"`)
			return
		}
		groups, sum, err = dedupe.ByChecksum(ctx, ix)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_MODE",
			fmt.Sprintf("unknown duplicate detection mode %q", mode))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if groups == nil {
		groups = []dedupe.Group{}
	}
	writeJSON(w, http.StatusOK, findResponse{
		Mode:                mode,
		Tree:                tree,
		Groups:              groups,
		TotalDuplicateFiles: sum.DuplicateFiles,
		TotalWastedMB:       float64(sum.WastedBytes) / 1024 / 1024,
		UniqueCount:         sum.UniqueCount,
		Summary:             sum,
	})
}

// removeResponse wraps the remover outcome with the Operation that
// executed it.
type removeResponse struct {
	OperationID string         `json:"operation_id"`
	State       ops.State      `json:"state"`
	Result      *dedupe.Result `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Remove handles POST /api/duplicates/remove. The batch executes as a
// duplicate-deletion Operation — admission rules apply — and the handler
// waits for the terminal snapshot so the caller gets the remover result
// inline.
func (h *DuplicatesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req library.RemovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	description := fmt.Sprintf("duplicate deletion (%d references)", req.Size())
	id, err := h.Manager.Start(h.baseContext(), ops.TypeDuplicateDeletion, description,
		h.Runner.DuplicateDeletion(req))
	if err != nil {
		respondStartError(w, err)
		return
	}

	done, err := h.Manager.Wait(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	select {
	case <-done:
	case <-r.Context().Done():
		// Client went away; the Operation keeps running and remains
		// pollable under the returned id.
		writeJSON(w, http.StatusAccepted, removeResponse{OperationID: id, State: ops.StateRunning})
		return
	}

	snap, err := h.Manager.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	resp := removeResponse{OperationID: id, State: snap.State, Error: snap.Error}
	if res, ok := snap.Result.(*dedupe.Result); ok {
		resp.Result = res
	}
	writeJSON(w, http.StatusOK, resp)
}
