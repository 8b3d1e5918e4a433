package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shelfkeeper/internal/library"
	"shelfkeeper/internal/ops"
)

// OperationsHandler exposes the Operation Manager: start, poll, cancel,
// history and active listing.
type OperationsHandler struct {
	Manager *ops.Manager
	Runner  *library.Runner
	// BaseCtx bounds worker lifetimes instead of the request context, so an
	// Operation survives the HTTP request that started it. Defaults to
	// context.Background.
	BaseCtx context.Context
}

func (h *OperationsHandler) baseContext() context.Context {
	if h.BaseCtx != nil {
		return h.BaseCtx
	}
	return context.Background()
}

// StartRequest is the POST /api/operations body.
type StartRequest struct {
	Type    ops.Type     `json:"type"`
	Options StartOptions `json:"options"`
}

// StartOptions carries the type-specific knobs.
type StartOptions struct {
	Tree string `json:"tree,omitempty"`
}

// StartResponse acknowledges an admission attempt. On rejection OperationID
// names the Operation that is already active so the caller can attach to it.
type StartResponse struct {
	Success     bool   `json:"success"`
	OperationID string `json:"operation_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Create handles POST /api/operations.
func (h *OperationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
		return
	}

	body, description, err := h.bodyFor(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_OPERATION", err.Error())
		return
	}

	id, err := h.Manager.Start(h.baseContext(), req.Type, description, body)
	if err != nil {
		respondStartError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StartResponse{Success: true, OperationID: id})
}

// bodyFor maps a start request onto a runnable job body.
func (h *OperationsHandler) bodyFor(req StartRequest) (ops.Body, string, error) {
	switch req.Type {
	case ops.TypeRescan:
		return h.Runner.Rescan(), "full library rescan", nil
	case ops.TypeHashGeneration:
		return h.Runner.HashGeneration(), "content hash generation", nil
	case ops.TypeChecksumGeneration:
		body, err := h.Runner.ChecksumGeneration(req.Options.Tree)
		if err != nil {
			return nil, "", err
		}
		return body, "checksum index build (" + req.Options.Tree + ")", nil
	case ops.TypeCloudSync:
		body, err := h.Runner.CloudSync()
		if err != nil {
			return nil, "", err
		}
		return body, "cloud position sync", nil
	case ops.TypeDuplicateDeletion:
		return nil, "", errors.New("duplicate deletion is started via POST /api/duplicates/remove")
	default:
		return nil, "", errors.New("unknown operation type " + string(req.Type))
	}
}

// respondStartError maps admission failures onto the start envelope.
func respondStartError(w http.ResponseWriter, err error) {
	var arErr *ops.AlreadyRunningError
	if errors.As(err, &arErr) {
		writeJSON(w, http.StatusConflict, StartResponse{
			Success:     false,
			OperationID: arErr.ActiveID,
			Error:       arErr.Error(),
		})
		return
	}
	slog.Error("operations: start", "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start operation")
}

// List handles GET /api/operations — retained history, newest first.
func (h *OperationsHandler) List(w http.ResponseWriter, r *http.Request) {
	snaps := h.Manager.History()
	writeJSON(w, http.StatusOK, ListResponse[ops.Snapshot]{
		Items: snaps,
		Total: len(snaps),
		Limit: len(snaps),
	})
}

// Active handles GET /api/operations/active — the non-terminal snapshots,
// letting a reconnecting client resume observing work it did not start.
func (h *OperationsHandler) Active(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Manager.Active())
}

// Get handles GET /api/operations/:id — the poll snapshot.
func (h *OperationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Manager.Get(chi.URLParam(r, "id"))
	if errors.Is(err, ops.ErrNoSuchOperation) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Operation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Cancel handles DELETE /api/operations/:id. Cancelling a terminal
// Operation is acknowledged without effect.
func (h *OperationsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.Manager.Cancel(id)
	if errors.Is(err, ops.ErrNoSuchOperation) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Operation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	snap, _ := h.Manager.Get(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"cancellation_requested": true,
		"state":                  snap.State,
	})
}
