package datatypes

import (
	"fmt"
)

// TransportError is returned when a request to the upstream archive fails.
type TransportError struct {
	URL        string
	Method     string
	StatusCode int
	Status     string
	Offset     uint64
	Size       uint64
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("failed http request %s %s", e.Method, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(", status: %d", e.StatusCode)
		if e.Status != "" {
			msg += fmt.Sprintf(" (%s)", e.Status)
		}
	}
	if e.Size != 0 {
		msg += fmt.Sprintf(" offset: %d size: %d", e.Offset, e.Size)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is returned when the upstream does not report a usable length.
type ProtocolError struct {
	URL    string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("could not get length of %s: %s", e.URL, e.Reason)
}

// FormatError is returned when the archive directory or a payload can't be parsed.
type FormatError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("malformed archive %s: %s", e.URL, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned when an expected archive entry is absent.
type NotFoundError struct {
	URL  string
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s in %s", e.What, e.URL)
}
