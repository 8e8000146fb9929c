// Package handler provides the operational HTTP surface for Filewarden:
// health, metrics snapshots, quota reports, and reconciliation triggers.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/filewarden/filewarden/internal/domain"
	"github.com/filewarden/filewarden/internal/metrics"
	"github.com/filewarden/filewarden/internal/repository"
	"github.com/filewarden/filewarden/internal/service"
)

// AdminHandler serves the operator API.
type AdminHandler struct {
	storage    *service.StorageService
	quota      *service.QuotaManager
	reconciler *service.Reconciler
	collector  *metrics.Collector
	db         repository.DatabaseHealth
	logger     zerolog.Logger
}

// AdminConfig contains the dependencies for the operator API.
type AdminConfig struct {
	Storage    *service.StorageService
	Quota      *service.QuotaManager
	Reconciler *service.Reconciler
	Collector  *metrics.Collector
	Database   repository.DatabaseHealth
	Logger     zerolog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	return &AdminHandler{
		storage:    cfg.Storage,
		quota:      cfg.Quota,
		reconciler: cfg.Reconciler,
		collector:  cfg.Collector,
		db:         cfg.Database,
		logger:     cfg.Logger.With().Str("handler", "admin").Logger(),
	}
}

// RegisterRoutes registers the operator API routes.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics", h.handleMetricsSnapshot)
		r.Post("/metrics/reset", h.handleMetricsReset)
		r.Get("/quota", h.handleGlobalQuota)
		r.Get("/quota/{folder}", h.handleFolderQuota)
		r.Get("/files/{folder}", h.handleListFiles)
		r.Post("/reconcile/{provider}", h.handleReconcile)
	})
}

// errorResponse is the JSON error body. Every rejection carries a
// machine-readable code plus a human-readable message.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleHealth reports process and database health.
func (h *AdminHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleMetricsSnapshot returns the JSON metrics snapshot for dashboards.
func (h *AdminHandler) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.collector.Snapshot())
}

// handleMetricsReset clears collected metrics. Explicit operator action is
// the only way to reset short of a restart.
func (h *AdminHandler) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	h.collector.Reset()
	h.logger.Info().Msg("metrics reset by operator")
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleGlobalQuota reports global usage.
func (h *AdminHandler) handleGlobalQuota(w http.ResponseWriter, r *http.Request) {
	usage, err := h.quota.GlobalUsage(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, usage)
}

// handleFolderQuota reports one folder's usage.
func (h *AdminHandler) handleFolderQuota(w http.ResponseWriter, r *http.Request) {
	usage, err := h.quota.FolderUsage(r.Context(), chi.URLParam(r, "folder"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, usage)
}

// handleListFiles lists a folder's registry rows.
func (h *AdminHandler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	opts := repository.ListOptions{}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}

	files, err := h.storage.List(r.Context(), chi.URLParam(r, "folder"), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"files": files, "count": len(files)})
}

// handleReconcile triggers a reconciliation run for one provider.
// dry_run defaults to true; destructive cleanup requires dry_run=false.
func (h *AdminHandler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	dryRun := true
	if v := r.URL.Query().Get("dry_run"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{
				Code: domain.CodeValidation, Message: "dry_run must be a boolean",
			})
			return
		}
		dryRun = parsed
	}

	result, err := h.reconciler.Run(r.Context(), providerName, dryRun)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// writeError maps domain errors to HTTP responses.
func (h *AdminHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrFolderNotFound),
		errors.Is(err, domain.ErrFileNotFound),
		errors.Is(err, domain.ErrProviderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrReconcileInProgress):
		status = http.StatusConflict
	}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		status = http.StatusBadRequest
	}
	var qe *domain.QuotaExceededError
	if errors.As(err, &qe) {
		status = http.StatusTooManyRequests
	}

	h.writeJSON(w, status, errorResponse{
		Code:    domain.ErrorCode(err),
		Message: err.Error(),
	})
}

// writeJSON writes a JSON response body.
func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
	}
}
