package domain

import "fmt"

// StatusError carries the HTTP status and client-facing message an
// operation wants surfaced at the API boundary. Handlers emit a JSON
// error body only when both fields are set; anything else produces an
// empty body with a generic status.
type StatusError struct {
	Status  int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("status %d", e.Status)
	}
}

func (e *StatusError) Unwrap() error {
	return e.Err
}
