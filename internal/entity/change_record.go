package entity

import "time"

type ChangeType string

const (
	ChangeNew       ChangeType = "new"
	ChangeUpdated   ChangeType = "updated"
	ChangeDeleted   ChangeType = "deleted"
	ChangeUnchanged ChangeType = "unchanged"
)

// Lifecycle reports whether t is one of the at-most-once-per-scan types.
func (t ChangeType) Lifecycle() bool {
	return t == ChangeNew || t == ChangeDeleted
}

// ChangeRecord mirrors the append-only `change_records` table.
type ChangeRecord struct {
	ChangeID    string     `json:"change_id"`
	ScanID      int64      `json:"scan_id"`
	EntityID    string     `json:"entity_id"`
	ChangeType  ChangeType `json:"change_type"`
	FieldName   string     `json:"field_name,omitempty"`
	OldValue    *string    `json:"old_value"`
	NewValue    *string    `json:"new_value"`
	ChangeScore float64    `json:"change_score"`
	DetectedAt  time.Time  `json:"detected_at"`
}

// ChangeCounts is the per-scan tally of the change log. Updated counts
// entities, not field records.
type ChangeCounts struct {
	New     int
	Updated int
	Deleted int
}

// ChangeFilter selects change records by entity or scan, ordered by detection time.
type ChangeFilter struct {
	EntityID string
	ScanID   int64
	Since    time.Time
	Limit    int
}
