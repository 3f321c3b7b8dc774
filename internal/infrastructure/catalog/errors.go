package catalog

import (
	"errors"
	"fmt"
)

// ErrProfileNotFound is returned when the profile endpoint knows no player
// for the requested account.
var ErrProfileNotFound = errors.New("catalog: profile not found")

// TransientUpstreamError is a single failed attempt that is worth retrying:
// a 429, a 5xx, or a transport failure (StatusCode 0).
type TransientUpstreamError struct {
	StatusCode int
	Err        error
}

func (e *TransientUpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("catalog: transport error: %v", e.Err)
	}
	return fmt.Sprintf("catalog: transient upstream status %d", e.StatusCode)
}

func (e *TransientUpstreamError) Unwrap() error { return e.Err }

// RateLimited reports whether the upstream asked us to slow down.
func (e *TransientUpstreamError) RateLimited() bool { return e.StatusCode == 429 }

// PermanentUpstreamError is a 4xx other than 429. Retrying cannot fix it.
type PermanentUpstreamError struct {
	StatusCode int
	Body       string
}

func (e *PermanentUpstreamError) Error() string {
	return fmt.Sprintf("catalog: permanent upstream status %d", e.StatusCode)
}

// ExhaustedRetriesError is returned once every allowed attempt has failed.
// LastStatus is 0 when the final attempt never got a response.
type ExhaustedRetriesError struct {
	Attempts   int
	LastStatus int
	Last       error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("catalog: gave up after %d attempts (last status %d)", e.Attempts, e.LastStatus)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

// UnexpectedStatusError is returned by single-shot calls on a non-2xx reply.
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("catalog: unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsPermanent reports whether err is a failure that a later retry would not
// fix.
func IsPermanent(err error) bool {
	var perm *PermanentUpstreamError
	return errors.As(err, &perm)
}
