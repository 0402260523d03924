package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/delivery/http/request"
	"github.com/user/listing-monitor/internal/delivery/http/response"
	"github.com/user/listing-monitor/internal/entity"
	"github.com/user/listing-monitor/internal/usecase"
)

// MonitorService is what the API needs from the scan coordinator.
type MonitorService interface {
	StartScan(ctx context.Context, req usecase.ScanRequest) (*entity.ScanSession, error)
	CancelScan(ctx context.Context, scanID int64) error
	GetProgress(ctx context.Context, scanID int64) (*entity.ScanProgress, error)
	ListScans(ctx context.Context, limit int) ([]entity.ScanProgress, error)
	GetChanges(ctx context.Context, filter entity.ChangeFilter) ([]entity.ChangeRecord, error)
	GetEntity(ctx context.Context, entityID string) (*entity.Entity, error)
	GetStats(ctx context.Context) (*usecase.Stats, error)
}

type Handler struct {
	svc    MonitorService
	logger *zap.Logger
}

func NewHandler(svc MonitorService, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.Named("http")}
}

func (h *Handler) HandleStartScan(w http.ResponseWriter, r *http.Request) {
	var req request.StartScanRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s, err := h.svc.StartScan(r.Context(), req.ScanRequest())
	if err != nil {
		h.writeServiceError(w, r, "Failed to start scan", err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, response.StartScanResponse{
		ScanID:    s.ScanID,
		Status:    s.Status,
		JobsTotal: s.JobsTotal,
		Deadline:  s.Deadline,
	})
}

func (h *Handler) HandleCancelScan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.scanID(w, r)
	if !ok {
		return
	}
	if err := h.svc.CancelScan(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "Failed to cancel scan", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, response.CancelScanResponse{ScanID: id, Status: "cancelling"})
}

func (h *Handler) HandleGetScan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.scanID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetProgress(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get scan progress", err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleListScans(w http.ResponseWriter, r *http.Request) {
	limit, err := request.Limit(r.URL.Query())
	if err != nil {
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	scans, err := h.svc.ListScans(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list scans", err)
		return
	}
	h.writeJSON(w, http.StatusOK, response.ScansResponse{Scans: scans})
}

func (h *Handler) HandleGetChanges(w http.ResponseWriter, r *http.Request) {
	filter, err := request.ChangeFilter(r.URL.Query())
	if err != nil {
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	changes, err := h.svc.GetChanges(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to query changes", err)
		return
	}
	if changes == nil {
		changes = []entity.ChangeRecord{}
	}
	h.writeJSON(w, http.StatusOK, response.ChangesResponse{Changes: changes, Count: len(changes)})
}

func (h *Handler) HandleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get entity", err)
		return
	}
	h.writeJSON(w, http.StatusOK, response.NewEntityResponse(e))
}

func (h *Handler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to get stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) scanID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeJSONError(w, "Invalid scan id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeServiceError maps domain errors to statuses. Anything unrecognized is
// logged and reported as a 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, entity.ErrInvalidRequest), errors.Is(err, entity.ErrEmptyTargetSet):
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, entity.ErrNotFound):
		h.writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, entity.ErrScanNotActive):
		h.writeJSONError(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error(msg, zap.String("path", r.URL.Path), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, response.ErrorResponse{Error: message})
}
