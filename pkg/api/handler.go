package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rankwell/opportunity-engine/pkg/logging"
	"github.com/rankwell/opportunity-engine/pkg/models"
	"github.com/rankwell/opportunity-engine/pkg/processor"
	"github.com/rankwell/opportunity-engine/pkg/store"
)

// Handler exposes the analysis engine over HTTP.
type Handler struct {
	store     store.Store
	processor *processor.BatchProcessor
	logger    *logging.Logger
	metrics   http.Handler
	startTime time.Time
}

// NewHandler creates an API handler. metricsHandler may be nil when the
// exporter is disabled.
func NewHandler(st store.Store, proc *processor.BatchProcessor, logger *logging.Logger, metricsHandler http.Handler) *Handler {
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	return &Handler{
		store:     st,
		processor: proc,
		logger:    logger.WithField("component", "api"),
		metrics:   metricsHandler,
		startTime: time.Now(),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/jobs", h.CreateJob).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}/cancel", h.CancelJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/retry", h.RetryJob).Methods("POST")

	r.HandleFunc("/projects/{id}/opportunities", h.ListOpportunities).Methods("GET")
	r.HandleFunc("/projects/{id}/metrics", h.UploadMetrics).Methods("PUT")
	r.HandleFunc("/projects/{id}/nodes/{nodeId}/projection", h.GetProjection).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}
}

// JobRequest is the create-job request body.
type JobRequest struct {
	Type      models.JobType    `json:"type"`
	ProjectID string            `json:"project_id"`
	Options   models.JobOptions `json:"options"`
}

// CreateJob starts a new analysis job
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.processor.CreateJob(req.Type, req.ProjectID, req.Options)
	if err != nil {
		h.logger.Error("Failed to create job", map[string]interface{}{"error": err.Error()})
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

// ListJobs returns jobs, optionally filtered by project and status
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	status := models.JobStatus(r.URL.Query().Get("status"))

	jobs, err := h.store.GetJobs(projectID, status)
	if err != nil {
		h.logger.Error("Failed to list jobs", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob retrieves a specific job by ID
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	job, err := h.store.GetJob(vars["id"])
	if err != nil {
		if err == store.ErrJobNotFound {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to get job", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// CancelJob requests cancellation of a running job. Only jobs in
// processing state are cancellable; anything else is a conflict.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["id"]

	cancelled, err := h.processor.CancelJob(jobID)
	if err != nil {
		h.logger.Error("Failed to cancel job", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to cancel job", http.StatusInternalServerError)
		return
	}
	if !cancelled {
		http.Error(w, "Job is not cancellable", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "cancelled",
		"job_id": jobID,
	})
}

// RetryJob creates a new job scoped to the failed items of a finished one
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	job, err := h.processor.RetryFailedItems(vars["id"])
	if err != nil {
		switch err {
		case store.ErrJobNotFound:
			http.Error(w, "Job not found", http.StatusNotFound)
		case processor.ErrNoFailedItems:
			http.Error(w, "Job has no failed items to retry", http.StatusBadRequest)
		case processor.ErrJobNotTerminal:
			http.Error(w, "Job is still running", http.StatusConflict)
		default:
			h.logger.Error("Failed to retry job", map[string]interface{}{"error": err.Error()})
			http.Error(w, "Failed to retry job", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

// ListOpportunities returns a project's ranked opportunity records
func (h *Handler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectID := vars["id"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
	}

	opps, err := h.store.GetOpportunities(projectID, limit)
	if err != nil {
		h.logger.Error("Failed to list opportunities", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to list opportunities", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"project_id":    projectID,
		"opportunities": opps,
		"count":         len(opps),
	})
}

// UploadMetrics bulk-upserts node metrics for a project
func (h *Handler) UploadMetrics(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectID := vars["id"]

	var nodes []models.NodeMetrics
	if err := json.NewDecoder(r.Body).Decode(&nodes); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	for i := range nodes {
		if nodes[i].NodeID == "" {
			http.Error(w, "Every node needs a node_id", http.StatusBadRequest)
			return
		}
		nodes[i].ProjectID = projectID
	}

	for i := range nodes {
		if err := h.store.UpsertNodeMetrics(&nodes[i]); err != nil {
			h.logger.Error("Failed to upsert node metrics", map[string]interface{}{
				"node_id": nodes[i].NodeID,
				"error":   err.Error(),
			})
			http.Error(w, "Failed to store metrics", http.StatusInternalServerError)
			return
		}
	}

	h.logger.Info("Metrics uploaded", map[string]interface{}{
		"project_id": projectID,
		"nodes":      len(nodes),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"project_id": projectID,
		"upserted":   len(nodes),
	})
}

// GetProjection returns the latest revenue projection for one node
func (h *Handler) GetProjection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	proj, err := h.store.GetProjection(vars["id"], vars["nodeId"])
	if err != nil {
		if err == store.ErrProjectionNotFound {
			http.Error(w, "Projection not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to get projection", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to get projection", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(proj)
}

// Health reports liveness, store health and basic host facts
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	storeStatus := "ok"
	if err := h.store.HealthCheck(); err != nil {
		status = "degraded"
		storeStatus = err.Error()
	}

	hostInfo := map[string]interface{}{
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
	}
	if info, err := host.Info(); err == nil {
		hostInfo["hostname"] = info.Hostname
		hostInfo["os"] = info.OS
		hostInfo["platform"] = info.Platform
		hostInfo["uptime_sec"] = info.Uptime
	}
	if counts, err := cpu.Counts(true); err == nil {
		hostInfo["cpu_threads"] = counts
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hostInfo["ram_total_bytes"] = vm.Total
		hostInfo["ram_used_percent"] = vm.UsedPercent
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         status,
		"store":          storeStatus,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		"host":           hostInfo,
	})
}
