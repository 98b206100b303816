package ollama

import (
	"fmt"
	"time"
)

// ConnectionError means the Ollama server could not be reached at all.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ollama: cannot connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ModelNotFoundError means the server is up but the requested model is absent.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("ollama: model not found: %s", e.Model)
}

// TimeoutError means a non-streaming request exceeded the configured deadline.
// Streaming requests carry no deadline and never produce this error.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ollama: request timed out after %s: %v", e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// APIError is any other non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ollama: api error %d: %s", e.StatusCode, e.Message)
}
