package feed

import "fmt"

// ExtractionError is returned when an extract could not be obtained,
// after all retry attempts were used up or on a terminal failure
type ExtractionError struct {
	Kind       Kind
	Attempts   int
	StatusCode int // Last HTTP status seen, 0 if none
	Err        error
}

func (e *ExtractionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("extract %s failed after %d attempt(s) (last status %d): %v", e.Kind, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("extract %s failed after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
