package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrCacheUnavailable is matched by every *CacheUnavailableError.
	ErrCacheUnavailable = errors.New("processed cache unavailable")

	// ErrCycleInProgress is returned by RunCycle when another cycle holds the execution lock.
	ErrCycleInProgress = errors.New("poll cycle already in progress")
)

// FetchError reports a tracker fetch that failed after all retries.
// The scheduler skips the cycle when it sees one.
type FetchError struct {
	Query    string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q failed after %d attempt(s): %v", e.Query, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CacheUnavailableError reports that the durable backing store rejected a
// processed marker. It is fatal for the affected issue only.
type CacheUnavailableError struct {
	IssueID string
	Err     error
}

func (e *CacheUnavailableError) Error() string {
	return fmt.Sprintf("processed cache unavailable for %s: %v", e.IssueID, e.Err)
}

func (e *CacheUnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCacheUnavailable) match.
func (e *CacheUnavailableError) Is(target error) bool {
	return target == ErrCacheUnavailable
}

// DispatchError reports a notification that was dropped after all retries.
// The issue stays marked as processed.
type DispatchError struct {
	IssueID  string
	Stage    string // "send" or "assign"
	Attempts int
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s for %s dropped after %d attempt(s): %v", e.Stage, e.IssueID, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that retry loops give up immediately. Collaborators
// use it for query errors and permanent message rejections.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
