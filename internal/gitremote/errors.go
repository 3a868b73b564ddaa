package gitremote

import "fmt"

// ErrorCode identifies a class of remote-access failure. Identity errors
// (invalid URL, inaccessible repository) are fatal for the whole run;
// rate-limit, timeout and 5xx-class upstream errors are retried and, when
// retries exhaust, abandon only the category being fetched.
type ErrorCode string

const (
	ErrInvalidURL    ErrorCode = "invalid_github_url"
	ErrInaccessible  ErrorCode = "repository_inaccessible"
	ErrRateLimited   ErrorCode = "github_rate_limited"
	ErrTimeout       ErrorCode = "github_timeout"
	ErrUpstream      ErrorCode = "github_upstream_error"
	ErrResponseShape ErrorCode = "github_response_shape_error"
)

// Error is the typed failure returned by this package.
type Error struct {
	Code           ErrorCode
	Message        string
	UpstreamStatus int
	Context        string
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.UpstreamStatus != 0 {
		s += fmt.Sprintf(" (status=%d)", e.UpstreamStatus)
	}
	if e.Context != "" {
		s += fmt.Sprintf(" [%s]", e.Context)
	}
	return s
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrRateLimited, ErrTimeout:
		return true
	case ErrUpstream:
		return e.UpstreamStatus == 429 || e.UpstreamStatus >= 500 || e.UpstreamStatus == 0
	}
	return false
}

// Fatal reports whether the error aborts the whole run rather than a single
// category or item.
func (e *Error) Fatal() bool {
	return e.Code == ErrInvalidURL || e.Code == ErrInaccessible
}
