package upstream

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// RetriableError is implemented by errors that may succeed on a later attempt
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// UpstreamError is a response the provider will not change its mind about (4xx and friends)
type UpstreamError struct {
	URL    string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

func (e *UpstreamError) IsRetriable() bool {
	return false
}

// UpstreamExhausted is returned after the retry budget is spent
type UpstreamExhausted struct {
	URL        string
	Attempts   int
	LastStatus int
	LastErr    error
}

func (e *UpstreamExhausted) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("upstream %s: gave up after %d attempts: %v", e.URL, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("upstream %s: gave up after %d attempts, last status %d", e.URL, e.Attempts, e.LastStatus)
}

func (e *UpstreamExhausted) Unwrap() error {
	return e.LastErr
}

func (e *UpstreamExhausted) IsRetriable() bool {
	return false
}

// attemptError marks a single failed attempt that the policy may retry
type attemptError struct {
	status int
	err    error
}

func (e *attemptError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("status %d", e.status)
}

func (e *attemptError) Unwrap() error {
	return e.err
}

func (e *attemptError) IsRetriable() bool {
	return true
}
