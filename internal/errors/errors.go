// Package errors provides domain-specific error types for openfd.
//
// These types carry structured context (field, device, transport
// address) so the orchestrator can classify a failure into an outcome
// without inspecting message text.
package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrUserCancelled is returned by any collaborator when the operator
	// declines a confirmation.  It is a successful outcome, not a failure.
	ErrUserCancelled = errors.New("user canceled")

	ErrNotConnected = errors.New("not connected")
	ErrTimeout      = errors.New("operation timed out")
	ErrAuthFailed   = errors.New("authentication failed")
)

// ── Structured error types ───────────────────────────────────────────

// FieldError is a single failed validation check.
type FieldError struct {
	Field   string      // flag name without dashes
	Value   interface{} // the offending value (nil if missing)
	Message string
}

func (e FieldError) String() string {
	msg := "--" + e.Field
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	return msg + ": " + e.Message
}

// ValidationError carries the failing checks of the validation pipeline.
// The pipeline is fail-fast, so in practice Failures holds one entry.
type ValidationError struct {
	Failures []FieldError
	Hint     string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	msg := "config: " + strings.Join(parts, "; ")
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// Invalid builds a ValidationError with a single failure.
func Invalid(field string, value interface{}, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Failures: []FieldError{{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	}}}
}

// PrivilegeError means elevation could not be obtained.
type PrivilegeError struct {
	Op  string // "check", "prompt", "validate"
	Err error
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("privilege %s: %v", e.Op, e.Err)
}

func (e *PrivilegeError) Unwrap() error { return e.Err }

// TransportError represents a failure to open or use the console
// transport (serial port, telnet relay, SSH jump host).
type TransportError struct {
	Op   string // "open", "read", "write", "close"
	Addr string // device path or host:port
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SSHError represents a failure reaching a console relay through an SSH
// jump host.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "channel"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// SyncTimeoutError means an expected console response did not arrive in
// time.  It is distinct from a transport failure: the channel is open
// but the target is silent or in an unexpected state.
type SyncTimeoutError struct {
	Waiting string // the text or state that was awaited
	Timeout time.Duration
}

func (e *SyncTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %q", e.Timeout, e.Waiting)
}

func (e *SyncTimeoutError) Unwrap() error { return ErrTimeout }

// DeviceError represents a failure reported by a storage or flash
// collaborator.
type DeviceError struct {
	Op     string // "format", "mount", "erase", "write", ...
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ── Constructors ─────────────────────────────────────────────────────

// WrapTransport creates a TransportError.
func WrapTransport(op, addr string, err error) *TransportError {
	return &TransportError{Op: op, Addr: addr, Err: err}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// WrapDevice creates a DeviceError.
func WrapDevice(op, device string, err error) *DeviceError {
	return &DeviceError{Op: op, Device: device, Err: err}
}

// Timeout creates a SyncTimeoutError.
func Timeout(waiting string, d time.Duration) *SyncTimeoutError {
	return &SyncTimeoutError{Waiting: waiting, Timeout: d}
}

// ── Classification helpers ───────────────────────────────────────────

// IsCancelled reports whether err is an operator cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrUserCancelled)
}

// IsValidation reports whether err came from the validation pipeline.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTimeout reports whether err is a synchronization timeout, including
// network deadline expiry surfaced by the telnet transport.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use openfd/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
