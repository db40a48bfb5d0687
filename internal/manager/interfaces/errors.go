package interfaces

import "errors"

// Error taxonomy shared by the queue, pipeline and retrieval engine. Stage
// errors wrap one of these with %w so callers can classify with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidURL   = errors.New("invalid URL")
	ErrBusy         = errors.New("ingest backlog is full, retry later")
	ErrQueueClosed  = errors.New("job queue is not accepting submissions")
	ErrJobNotFound  = errors.New("job not found")
	ErrFetch        = errors.New("fetch failed")
	ErrParse        = errors.New("parse failed")
	ErrEmbedding    = errors.New("embedding failed")
	ErrPersistence  = errors.New("persistence failed")
	ErrNoContent    = errors.New("no content available")
	ErrCancelled    = errors.New("cancelled")
)

// PermanentError marks a stage failure that retrying cannot fix, such as a
// 404 from the source server.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError; nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
