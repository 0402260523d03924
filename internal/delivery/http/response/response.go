package response

import (
	"time"

	"github.com/user/listing-monitor/internal/entity"
)

type StartScanResponse struct {
	ScanID    int64             `json:"scan_id"`
	Status    entity.ScanStatus `json:"status"`
	JobsTotal int               `json:"jobs_total"`
	Deadline  time.Time         `json:"deadline"`
}

type CancelScanResponse struct {
	ScanID int64  `json:"scan_id"`
	Status string `json:"status"`
}

type ChangesResponse struct {
	Changes []entity.ChangeRecord `json:"changes"`
	Count   int                   `json:"count"`
}

type ScansResponse struct {
	Scans []entity.ScanProgress `json:"scans"`
}

// EntityResponse is the public view of a stored snapshot.
type EntityResponse struct {
	EntityID       string         `json:"entity_id"`
	Fields         map[string]any `json:"fields"`
	Active         bool           `json:"active"`
	LastSeenScanID int64          `json:"last_seen_scan_id"`
	FirstSeenAt    time.Time      `json:"first_seen_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func NewEntityResponse(e *entity.Entity) EntityResponse {
	return EntityResponse{
		EntityID:       e.EntityID,
		Fields:         e.Fields,
		Active:         e.Active,
		LastSeenScanID: e.LastSeenScanID,
		FirstSeenAt:    e.FirstSeenAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
}
