package mesos

import (
	"errors"
	"fmt"
)

// ErrNoClusterURL is returned when neither a DC/OS URL nor a Mesos master URL is configured.
var ErrNoClusterURL = errors.New("missing cluster URL: set core.dcos_url in the config file or DCOS_URL")

// TransportError reports an unreachable endpoint or a non-success HTTP status.
type TransportError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("error while fetching %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("error while fetching %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RangeError is returned when a read starts beyond the last observed file size.
// It indicates a caller bug rather than a remote failure.
type RangeError struct {
	Path   string
	Offset int64
	Length int64
	Size   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("read of %s out of range: offset %d length %d, known size %d", e.Path, e.Offset, e.Length, e.Size)
}

// MalformedIdentifierError is returned when a node's process identifier is not name@host:port.
type MalformedIdentifierError struct {
	PID string
}

func (e *MalformedIdentifierError) Error() string {
	return fmt.Sprintf("invalid process identifier %q: expected name@host:port", e.PID)
}

// IsTransport reports whether err is a TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
