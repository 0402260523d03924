package entity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrExtractionTransient   = errors.New("transient extraction failure")
	ErrExtractionPermanent   = errors.New("extraction target no longer exists")
	ErrLowConfidence         = errors.New("extraction confidence below threshold")
	ErrEmptyExtraction       = errors.New("extraction returned no items")
	ErrQueueExhausted        = errors.New("job exhausted its retry attempts")
	ErrJobNotActive          = errors.New("job is not claimed")
	ErrSnapshotWriteConflict = errors.New("concurrent snapshot write")
	ErrStaleScan             = errors.New("extraction belongs to an older scan than the snapshot")
	ErrScanDeadlineExceeded  = errors.New("scan deadline exceeded")
	ErrScanCancelled         = errors.New("scan cancelled")
	ErrScanNotActive         = errors.New("scan is not active")
	ErrEmptyTargetSet        = errors.New("scan has no targets")
	ErrInvalidRequest        = errors.New("invalid request")

	ErrScanNotFound = fmt.Errorf("scan %w", ErrNotFound)
	ErrJobNotFound  = fmt.Errorf("job %w", ErrNotFound)
)

// ExtractionError tags an extractor failure as transient or permanent.
type ExtractionError struct {
	Target    Target
	Permanent bool
	Err       error
}

func (e *ExtractionError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s extraction error for %s: %v", kind, e.Target, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool {
	if e.Permanent {
		return target == ErrExtractionPermanent
	}
	return target == ErrExtractionTransient
}

// Transient wraps err as a retryable extraction failure.
func Transient(t Target, err error) error {
	return &ExtractionError{Target: t, Err: err}
}

// Permanent wraps err as a failure meaning the target is gone.
func Permanent(t Target, err error) error {
	return &ExtractionError{Target: t, Permanent: true, Err: err}
}

// IsPermanent reports whether err was tagged permanent. Untagged errors are transient.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrExtractionPermanent)
}
