package airbyte

import "fmt"

// AuthError indicates that acquiring or refreshing an access token
// failed. It aborts the current poll cycle and is not retried within
// that cycle.
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %v", e.Err)
	}

	return fmt.Sprintf("auth: unexpected status %d: %s", e.Status, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError indicates an upstream API call that failed after all retry
// attempts were exhausted. Status and Body carry the upstream
// diagnostics for logging.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api: %s: %v", e.Endpoint, e.Err)
	}

	return fmt.Sprintf(
		"api: %s: unexpected status %d: %s",
		e.Endpoint, e.Status, e.Body,
	)
}

func (e *APIError) Unwrap() error { return e.Err }
