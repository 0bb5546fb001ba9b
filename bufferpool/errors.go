package bufferpool

import "errors"

var (
	// Page errors
	ErrPageNotFound    = errors.New("page not found in buffer pool")
	ErrInvalidPageSize = errors.New("invalid page size")

	// Pool errors
	ErrPoolExhausted  = errors.New("buffer pool exhausted: all frames pinned")
	ErrInvalidConfig  = errors.New("invalid buffer pool configuration")
	ErrPoolClosed     = errors.New("buffer pool is closed")
	ErrPinnedResident = errors.New("pinned pages still resident")

	// I/O errors
	ErrIOFailure   = errors.New("IO error occurred")
	ErrFlushFailed = errors.New("failed to flush dirty page")

	// Invariant violations indicate a caller bug, not a recoverable state.
	ErrPinUnderflow = errors.New("unpin of a page with zero pin count")
)

// BufferError wraps an underlying error with the operation that hit it.
type BufferError struct {
	Op  string
	Err error
}

func (e *BufferError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *BufferError) Unwrap() error {
	return e.Err
}

// NewError wraps err with the operation name.
func NewError(op string, err error) error {
	return &BufferError{
		Op:  op,
		Err: err,
	}
}

// IsNotFound reports whether err is a page-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPageNotFound)
}

// IsPoolExhausted reports whether err means every frame was pinned.
// Callers can recover by unpinning pages and retrying.
func IsPoolExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

// IsIOFailure reports whether err came from the disk manager.
func IsIOFailure(err error) bool {
	return errors.Is(err, ErrIOFailure)
}

// IsInvalidConfig reports whether err is a configuration error.
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsPoolClosed reports whether err means the pool was already shut down.
func IsPoolClosed(err error) bool {
	return errors.Is(err, ErrPoolClosed)
}
