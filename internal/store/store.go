package store

// Store defines the interface for solution persistence operations.
// Implementations must be thread-safe and handle concurrent access gracefully.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the record doesn't exist (for Load/Delete)
//   - Return descriptive errors for I/O, serialization, or validation failures
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRecord atomically saves a solution record under its id.
	// An existing record with the same id is overwritten.
	SaveRecord(record *Record) error

	// LoadRecord retrieves the record with the given id.
	// Returns ErrNotFound if no record exists for this id.
	LoadRecord(id string) (*Record, error)

	// ListRecords returns metadata for all stored records.
	// The returned slice may be empty if nothing was saved yet.
	ListRecords() ([]RecordInfo, error)

	// DeleteRecord removes the record and all associated artifacts
	// (solution.json, trace.jsonl).
	// Returns ErrNotFound if no record exists for this id.
	DeleteRecord(id string) error
}

// ErrNotFound is returned when a requested record does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing record error.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return "solution not found: " + e.ID
	}
	return "solution not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
