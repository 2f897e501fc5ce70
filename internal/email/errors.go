package email

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind separates failures worth retrying from those that are not
type ErrorKind string

const (
	// Transient failures (throttling, timeouts, provider outages) may succeed on retry
	Transient ErrorKind = "transient"
	// Permanent failures (invalid address, hard bounce, rejected credentials) never will
	Permanent ErrorKind = "permanent"
)

// DeliveryError is returned by the gateway for every failed send
type DeliveryError struct {
	Kind ErrorKind
	// Code is a short machine-readable reason, e.g. "rate_limited" or "invalid_recipient"
	Code string
	// Reason is a human-readable description that never contains the recipient address
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery error [%s]: %s", e.Kind, e.Code, e.Reason)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewTransientError builds a retryable DeliveryError
func NewTransientError(code, reason string, err error) *DeliveryError {
	return &DeliveryError{Kind: Transient, Code: code, Reason: reason, Err: err}
}

// NewPermanentError builds a non-retryable DeliveryError
func NewPermanentError(code, reason string, err error) *DeliveryError {
	return &DeliveryError{Kind: Permanent, Code: code, Reason: reason, Err: err}
}

// IsTransient reports whether err is a retryable delivery failure
func IsTransient(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Kind == Transient
}

// IsPermanent reports whether err is a non-retryable delivery failure
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Kind == Permanent
}

// AsDeliveryError normalizes any send error into a *DeliveryError. Timeouts
// and network errors are transient; unrecognized errors are treated as
// transient as well, since the retry bound keeps that cheap.
func AsDeliveryError(err error) *DeliveryError {
	if err == nil {
		return nil
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError("timeout", "provider call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewTransientError("canceled", "send was canceled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError("network", "network error talking to provider", err)
	}
	return NewTransientError("unknown", "provider call failed", err)
}
