package latency

import "fmt"

// DecodeError is returned when a proxy response does not have the expected shape.
type DecodeError struct {
	Location string
	Kind     string
	Field    string
	Reason   string
	Err      error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("invalid %s response for %s: %s: %s", e.Kind, e.Location, e.Field, e.Reason)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// APIError is returned for non-200 responses or bodies reporting success=false.
type APIError struct {
	Location   string
	Kind       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s request for %s failed with status %d: %s", e.Kind, e.Location, e.StatusCode, e.Message)
}
