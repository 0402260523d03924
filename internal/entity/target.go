package entity

import (
	"fmt"
	"strconv"
)

type TargetKind string

const (
	TargetPage   TargetKind = "page"
	TargetEntity TargetKind = "entity"
)

// Target is what a single job extracts: a catalog page or one listing.
type Target struct {
	Kind     TargetKind `json:"kind"`
	Page     int        `json:"page,omitempty"`
	EntityID string     `json:"entity_id,omitempty"`
	URL      string     `json:"url"`
}

func (t Target) String() string {
	switch t.Kind {
	case TargetPage:
		return "page:" + strconv.Itoa(t.Page)
	case TargetEntity:
		return "entity:" + t.EntityID
	default:
		return fmt.Sprintf("%s:%s", t.Kind, t.URL)
	}
}
