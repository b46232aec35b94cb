package handlers

import (
	"net/http"
	"runtime"
	"time"

	"mediaref/internal/jobs"
	"mediaref/internal/logging"
	"mediaref/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status          string `json:"status"`
	Ready           bool   `json:"ready"`
	Version         string `json:"version"`
	Uptime          string `json:"uptime"`
	Syncing         bool   `json:"syncing"`
	LastSynced      string `json:"lastSynced,omitempty"`
	LastIndexUpdate string `json:"lastIndexUpdate,omitempty"`
	SyncError       string `json:"syncError,omitempty"`
	DatabaseError   string `json:"databaseError,omitempty"`

	// Index summary
	TotalAssets  int    `json:"totalAssets"`
	DirtyAssets  int    `json:"dirtyAssets"`
	TotalEntries int    `json:"totalEntries"`
	IndexJob     string `json:"indexJob,omitempty"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	healthStatus := h.indexer.GetHealthStatus()

	response := HealthResponse{
		Ready:        healthStatus.Ready,
		Version:      startup.Version,
		Uptime:       healthStatus.Uptime,
		Syncing:      healthStatus.Syncing,
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	if healthStatus.Ready {
		response.Status = statusHealthy
	} else {
		response.Status = statusStarting
	}

	if !healthStatus.LastSynced.IsZero() {
		response.LastSynced = healthStatus.LastSynced.Format(time.RFC3339)
	}

	if healthStatus.InitialSyncError != "" {
		response.SyncError = healthStatus.InitialSyncError
		response.Status = statusDegraded
	}

	if err := h.db.Ping(ctx); err != nil {
		logging.Warn("Health check: database ping failed: %v", err)
		response.DatabaseError = err.Error()
		response.Status = statusDegraded
	} else if summary, err := h.db.GetSummary(ctx); err == nil {
		response.TotalAssets = summary.TotalAssets
		response.DirtyAssets = summary.DirtyAssets
		response.TotalEntries = summary.TotalEntries
		if !summary.LastUpdate.IsZero() {
			response.LastIndexUpdate = summary.LastUpdate.Format(time.RFC3339)
		}
	}

	if h.scheduler != nil {
		if st, err := h.scheduler.Status(ctx, jobs.FamilyIndex); err == nil {
			response.IndexJob = string(st.Status)
		}
	}

	status := http.StatusOK
	if !healthStatus.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, cacheNone, response)
}

// LivenessCheck answers 200 while the process serves requests.
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, cacheNone, statusBody("alive"))
}

// ReadinessCheck returns 200 once the initial library sync has finished and
// the database answers.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.indexer.IsReady() && h.db.Ping(r.Context()) == nil {
		writeJSON(w, r, http.StatusOK, cacheNone, statusBody("ready"))
		return
	}
	writeJSON(w, r, http.StatusServiceUnavailable, cacheNone, statusBody("not_ready"))
}
