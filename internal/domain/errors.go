package domain

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrSessionExpired triggers exactly one automatic re-login before the
	// operation is given up on.
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidCredential is fatal for the account, never retried.
	ErrInvalidCredential = errors.New("invalid credential")

	ErrCredentialNotFound = errors.New("credential not found")

	// ErrAccessRestricted marks paid or blocked content. Reported per
	// item, never retried, never aborts a batch.
	ErrAccessRestricted = errors.New("access restricted")

	ErrChallengeTimeout = errors.New("challenge timed out")
	ErrChallengeFailed  = errors.New("challenge failed")

	// ErrCacheCorrupt marks a stored record that failed hash or size
	// validation. Treated as a miss, never silently served.
	ErrCacheCorrupt = errors.New("cache record corrupt")

	ErrNotFound = errors.New("not found")
)

// StatusError is a non-2xx transport response. Only 429 and 5xx are
// retryable.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.Code)
}

func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Retryable reports whether err may be retried with backoff: network
// errors are, status errors only for 429/5xx, everything else is not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	switch {
	case errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrInvalidCredential),
		errors.Is(err, ErrAccessRestricted),
		errors.Is(err, ErrChallengeTimeout),
		errors.Is(err, ErrChallengeFailed),
		errors.Is(err, ErrNotFound):
		return false
	}

	// connection, DNS and TLS failures end up here
	return true
}

// ItemResult is the per-item outcome of a batch fetch. A batch always
// reports one entry per requested chapter.
type ItemResult struct {
	Ref     ChapterRef
	Content []ContentInfo
	Images  map[string][]byte
	Err     error
}

func (r ItemResult) OK() bool {
	return r.Err == nil
}
