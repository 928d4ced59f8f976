package types

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is;
// components wrap with fmt.Errorf("...: %w", err).
var (
	// ErrNotFound means the path or record is absent
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for bad filters, labels or limits before any I/O
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIngestion wraps a per-file failure during indexing
	ErrIngestion = errors.New("ingestion failed")

	// ErrClassifierUnavailable means the statistical fallback is missing or untrained
	ErrClassifierUnavailable = errors.New("classifier unavailable")

	// ErrStoreUnavailable means the index store cannot be reached
	ErrStoreUnavailable = errors.New("index store unavailable")

	// ErrTimeout is returned when an embedding computation exceeds its deadline
	ErrTimeout = errors.New("timeout")

	// ErrInsufficientData is returned by classifier training below the minimum example count
	ErrInsufficientData = errors.New("insufficient training data")
)
