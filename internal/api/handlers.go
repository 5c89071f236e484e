package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/graphsnap/graphsnap/internal/export"
	"github.com/graphsnap/graphsnap/internal/models"
	"github.com/graphsnap/graphsnap/internal/store"
)

// Handler hosts the store's message surface.
type Handler struct {
	service   *store.Service
	logger    *slog.Logger
	startTime time.Time
}

// NewHandler creates the store API handler.
func NewHandler(service *store.Service, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		logger:    logger,
		startTime: time.Now(),
	}
}

// IngestHandler handles POST /api/ingest
func (h *Handler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("malformed ingest request", "error", err)
		writeStatus(w, http.StatusBadRequest, models.StatusResponse{Success: false, Error: "malformed request body"})
		return
	}

	err := h.service.Ingest(r.Context(), req)
	switch {
	case err == nil:
		writeStatus(w, http.StatusOK, models.StatusResponse{Success: true})
	case errors.Is(err, store.ErrLimitExceeded):
		// Rejected as a unit; the badge carries the persistent indicator.
		writeStatus(w, http.StatusOK, models.StatusResponse{Success: false, Error: err.Error()})
	case errors.Is(err, store.ErrInvalidRequest):
		writeStatus(w, http.StatusBadRequest, models.StatusResponse{Success: false, Error: err.Error()})
	default:
		h.logger.Error("ingest failed", "error", err)
		writeStatus(w, http.StatusInternalServerError, models.StatusResponse{Success: false, Error: "internal error"})
	}
}

// SnapshotHandler handles GET /api/snapshot
func (h *Handler) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := h.service.Snapshot(r.Context())
	writeJSON(w, http.StatusOK, state, h.logger)
}

// ClearHandler handles POST /api/clear
func (h *Handler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.service.Clear(r.Context()); err != nil {
		h.logger.Error("clear failed", "error", err)
		writeStatus(w, http.StatusInternalServerError, models.StatusResponse{Success: false, Error: "internal error"})
		return
	}

	writeStatus(w, http.StatusOK, models.StatusResponse{Success: true})
}

// PageContextHandler handles POST /api/page-context
func (h *Handler) PageContextHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var page models.PageContext
	if err := json.NewDecoder(r.Body).Decode(&page); err != nil {
		writeStatus(w, http.StatusBadRequest, models.StatusResponse{Success: false, Error: "malformed request body"})
		return
	}

	if err := h.service.ReportPageContext(page); err != nil {
		writeStatus(w, http.StatusBadRequest, models.StatusResponse{Success: false, Error: err.Error()})
		return
	}

	writeStatus(w, http.StatusOK, models.StatusResponse{Success: true})
}

// RecordViewHandler handles POST /api/record-view
func (h *Handler) RecordViewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.service.RecordView(r.Context()); err != nil {
		h.logger.Error("record view failed", "error", err)
		writeStatus(w, http.StatusInternalServerError, models.StatusResponse{Success: false, Error: "internal error"})
		return
	}

	writeStatus(w, http.StatusOK, models.StatusResponse{Success: true})
}

// BadgeHandler handles GET /api/badge
func (h *Handler) BadgeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	signal, err := h.service.Badge(r.Context())
	if err != nil {
		h.logger.Error("badge derivation failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, signal, h.logger)
}

// StatsResponse summarizes the repository for the report view.
type StatsResponse struct {
	TotalRecords  int                                    `json:"total_records"`
	Accounts      map[string]map[models.RelationKind]int `json:"accounts"`
	LimitExceeded bool                                   `json:"limit_exceeded"`
	UptimeSeconds int64                                  `json:"uptime_seconds"`
}

// StatsHandler handles GET /api/stats
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := h.service.Snapshot(r.Context())

	stats := StatsResponse{
		Accounts:      make(map[string]map[models.RelationKind]int),
		LimitExceeded: h.service.LimitExceeded(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	for account, collection := range state.Accounts {
		stats.Accounts[account] = make(map[models.RelationKind]int)
		for relation, records := range collection {
			stats.Accounts[account][relation] = len(records)
			stats.TotalRecords += len(records)
		}
	}

	writeJSON(w, http.StatusOK, stats, h.logger)
}

// ExportJSONHandler handles GET /api/export/json
func (h *Handler) ExportJSONHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := h.service.Snapshot(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", exportFilename("json"))
	if err := export.WriteJSON(w, state); err != nil {
		h.logger.Error("json export failed", "error", err)
		return
	}

	h.service.MarkExported()
}

// ExportCSVHandler handles GET /api/export/csv
func (h *Handler) ExportCSVHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := h.service.Snapshot(r.Context())

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", exportFilename("csv"))
	if err := export.WriteCSV(w, state); err != nil {
		h.logger.Error("csv export failed", "error", err)
		return
	}

	h.service.MarkExported()
}

func exportFilename(ext string) string {
	return fmt.Sprintf(`attachment; filename="connections-%s.%s"`, time.Now().UTC().Format("20060102-150405"), ext)
}

func writeStatus(w http.ResponseWriter, code int, status models.StatusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func writeJSON(w http.ResponseWriter, code int, payload any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
