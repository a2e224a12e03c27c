package tts

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports that the connection to the service failed
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("tts transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServiceError reports a non-success response. Payload carries the service's
// diagnostic body as received.
type ServiceError struct {
	StatusCode int
	Message    string
	Payload    string
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("tts service returned status %d: %s", e.StatusCode, msg)
}

// Temporary reports whether retrying the whole request could succeed
func (e *ServiceError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ProtocolError reports a response the collector could not interpret as audio
type ProtocolError struct {
	Reason  string
	Payload string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tts protocol: %s: %v", e.Reason, e.Err)
	}
	return "tts protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is, or wraps, a TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsService reports whether err is, or wraps, a ServiceError
func IsService(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// IsProtocol reports whether err is, or wraps, a ProtocolError
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
