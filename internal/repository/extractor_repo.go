package repository

import (
	"context"

	"github.com/user/listing-monitor/internal/entity"
)

// Extractor turns a target into field data plus a confidence score.
// Errors are transient unless tagged with entity.Permanent.
type Extractor interface {
	Extract(ctx context.Context, target entity.Target) (*entity.Extraction, error)
}
