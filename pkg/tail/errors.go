package tail

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrNoFiles is returned when no requested file could be read, or every
// followed file gave up after repeated failures.
var ErrNoFiles = errors.New("No files exist. Exiting.")

// InvalidInputError reports a line count that is not a non-negative integer.
type InvalidInputError struct {
	Value string
	Err   error
}

func (e *InvalidInputError) Error() string {
	if e.Err != nil {
		return "Error parsing string as int"
	}
	return fmt.Sprintf("line count must not be negative, got %s", e.Value)
}

func (e *InvalidInputError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned by Follow after too many consecutive poll failures.
type ExhaustedError struct {
	Source   string
	Failures int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up on %s after %d consecutive failures: %v", e.Source, e.Failures, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// ParseLines parses a --lines value. No default is substituted on failure.
func ParseLines(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &InvalidInputError{Value: s, Err: err}
	}
	if n < 0 {
		return 0, &InvalidInputError{Value: s}
	}
	return n, nil
}
