package client

import "fmt"

// NetworkError indicates an unrecoverable transport failure: the request
// never produced an HTTP response.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError indicates rejected credentials or a failed credential refresh.
// It is fatal to the current run; the job invocation reports failure and
// is retried on its next scheduled tick.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError carries the status and body of a response the server
// marked as a business failure.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d: %s", e.Status, e.Body)
}
