package handlers

import (
	"net/http"
	"time"

	"shelfkeeper/internal/catalog"
	"shelfkeeper/internal/ops"
	"shelfkeeper/internal/scheduler"
)

// StatusHandler reports daemon health: catalog size, active operations
// and the rescan schedule.
type StatusHandler struct {
	Store     *catalog.Store
	Manager   *ops.Manager
	Scheduler *scheduler.Scheduler
	Version   string
}

type statusResponse struct {
	Version          string         `json:"version"`
	BookCount        int            `json:"book_count"`
	ActiveOperations []ops.Snapshot `json:"active_operations"`
	Schedule         scheduleInfo   `json:"schedule"`
}

type scheduleInfo struct {
	RescanCron   string     `json:"rescan_cron,omitempty"`
	NextRescanAt *time.Time `json:"next_rescan_at,omitempty"`
	Paused       bool       `json:"paused"`
}

// Get handles GET /api/status.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	count, err := h.Store.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	sched := scheduleInfo{Paused: true}
	if h.Scheduler != nil {
		if expr := h.Scheduler.CronExpr(); expr != "" {
			sched.RescanCron = expr
			sched.NextRescanAt = h.Scheduler.NextRescanAt()
			sched.Paused = false
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Version:          h.Version,
		BookCount:        count,
		ActiveOperations: h.Manager.Active(),
		Schedule:         sched,
	})
}
