// Package xserr defines the error kinds shared by the board, JTAG and
// programming layers. Every error returned by this module wraps exactly one of
// the sentinels below so callers can branch with errors.Is.
package xserr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports a device that refused a configuration: wrong
	// device type, IDCODE mismatch, or DONE not set afterwards.
	ErrConfiguration = errors.New("configuration error")

	// ErrCommunication reports a broken USB exchange (short transfer, bad
	// command echo). The handle should be treated as unreliable afterwards.
	ErrCommunication = errors.New("communication error")

	// ErrProtocol reports malformed data: unknown bitstream fields, checksum
	// failures, verification mismatches.
	ErrProtocol = errors.New("protocol error")

	// ErrCancelled is returned when the caller's context was cancelled before
	// a USB transfer started.
	ErrCancelled = errors.New("operation cancelled")

	// ErrTerminated is returned when the board disappeared mid-operation.
	ErrTerminated = errors.New("device terminated")

	// ErrCaller reports a programming error in the calling layer: misaligned
	// addresses, inverted ranges, wrong buffer sizes.
	ErrCaller = errors.New("invalid argument")

	// ErrTimeout is returned when a bounded busy-poll ran out of attempts.
	ErrTimeout = errors.New("polling timed out")
)

// Configurationf wraps ErrConfiguration with a formatted message.
func Configurationf(format string, args ...any) error {
	return wrap(ErrConfiguration, format, args...)
}

// Communicationf wraps ErrCommunication with a formatted message.
func Communicationf(format string, args ...any) error {
	return wrap(ErrCommunication, format, args...)
}

// Protocolf wraps ErrProtocol with a formatted message.
func Protocolf(format string, args ...any) error {
	return wrap(ErrProtocol, format, args...)
}

// Callerf wraps ErrCaller with a formatted message.
func Callerf(format string, args ...any) error {
	return wrap(ErrCaller, format, args...)
}

// Timeoutf wraps ErrTimeout with a formatted message.
func Timeoutf(format string, args ...any) error {
	return wrap(ErrTimeout, format, args...)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// MismatchError describes the first difference found while verifying a
// memory region against its source image.
type MismatchError struct {
	Device   string
	Address  uint32
	Expected byte
	Actual   byte
	Count    int // total number of mismatching bytes
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %d verification error(s), first at 0x%06x: expected 0x%02x, got 0x%02x",
		e.Device, e.Count, e.Address, e.Expected, e.Actual)
}

// Unwrap lets errors.Is(err, ErrProtocol) match verification failures.
func (e *MismatchError) Unwrap() error { return ErrProtocol }

// FieldError describes a malformed field in a parsed container.
type FieldError struct {
	Field  string
	Offset int64
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s at offset %d: %s", e.Field, e.Offset, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrProtocol }

// IsCancellation reports whether err came from a caller cancellation or a lost
// device, the two outcomes a UI shows as "stopped" rather than "failed".
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrTerminated)
}
