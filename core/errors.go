package core

import "errors"

// Error taxonomy: structural errors fail the owning operation fast, transient
// errors are retried with bounded attempts and then degrade locally.
var (
	ErrVideoNotFound      = errors.New("video not found")
	ErrVideoNotReady      = errors.New("video is not ready for retrieval")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrNoMediaStreams     = errors.New("no decodable audio or video stream")
	ErrAllProvidersFailed = errors.New("primary and fallback language models failed")
)

// Transient wraps an error that is worth retrying (timeouts, rate limits,
// single-chunk embedding failures).
type Transient struct {
	Err error
}

func (t *Transient) Error() string { return t.Err.Error() }
func (t *Transient) Unwrap() error { return t.Err }

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}
