package entity

import "time"

// Fields is a normalized listing field map. Values are string, float64 or bool.
type Fields map[string]any

// Entity mirrors the `entity_snapshots` table: the last successfully diffed
// state of one tracked listing.
type Entity struct {
	EntityID        string
	Fields          Fields
	Fingerprint     string
	LastSeenScanID  int64
	LifecycleScanID int64 // scan that emitted the latest new/deleted record
	Active          bool
	Version         int64
	FirstSeenAt     time.Time
	UpdatedAt       time.Time
}

// Clone returns a copy whose field map can be mutated independently.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Fields = make(Fields, len(e.Fields))
	for k, v := range e.Fields {
		c.Fields[k] = v
	}
	return &c
}

// SnapshotCommit is one atomic write of a snapshot together with the change
// records derived from it.
type SnapshotCommit struct {
	Entity          *Entity
	ExpectedVersion int64 // 0 means the entity must not exist yet
	Records         []ChangeRecord
}
