package request

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/user/listing-monitor/internal/entity"
	"github.com/user/listing-monitor/internal/usecase"
)

// StartScanRequest selects the targets of a new scan. Pages and the
// first_page..last_page range are merged.
type StartScanRequest struct {
	Pages     []int    `json:"pages"`
	FirstPage int      `json:"first_page"`
	LastPage  int      `json:"last_page"`
	EntityIDs []string `json:"entity_ids"`
	Full      bool     `json:"full"`
	Priority  *int     `json:"priority"`
}

func (r StartScanRequest) ScanRequest() usecase.ScanRequest {
	return usecase.ScanRequest{
		Pages:     r.Pages,
		FirstPage: r.FirstPage,
		LastPage:  r.LastPage,
		EntityIDs: r.EntityIDs,
		Full:      r.Full,
		Priority:  r.Priority,
	}
}

// Getter is satisfied by url.Values.
type Getter interface {
	Get(key string) string
}

// ChangeFilter parses entity_id, scan_id, since (RFC 3339) and limit.
func ChangeFilter(q Getter) (entity.ChangeFilter, error) {
	f := entity.ChangeFilter{EntityID: q.Get("entity_id")}
	var err error
	if v := q.Get("scan_id"); v != "" {
		if f.ScanID, err = strconv.ParseInt(v, 10, 64); err != nil || f.ScanID <= 0 {
			return f, fmt.Errorf("invalid scan_id %q", v)
		}
	}
	if v := q.Get("since"); v != "" {
		if f.Since, err = time.Parse(time.RFC3339, v); err != nil {
			return f, fmt.Errorf("invalid since %q, want RFC 3339", v)
		}
	}
	if f.Limit, err = Limit(q); err != nil {
		return f, err
	}
	if f.EntityID == "" && f.ScanID == 0 {
		return f, errors.New("entity_id or scan_id is required")
	}
	return f, nil
}

// Limit parses the optional limit parameter. Zero means the server default.
func Limit(q Getter) (int, error) {
	v := q.Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return n, nil
}
