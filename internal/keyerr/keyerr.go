// Package keyerr defines the error taxonomy shared by every layer of the
// KEY-BLE protocol stack: malformed wire bytes, ordering/MAC violations,
// deadline expiry, transport failures, and bad CLI input.
package keyerr

import "fmt"

// InvalidDataError marks malformed wire bytes: a bad type id, a length
// mismatch, or an oversize message.
type InvalidDataError struct {
	Reason string
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("invalid data: %s", e.Reason)
}

func NewInvalidData(format string, args ...any) error {
	return &InvalidDataError{Reason: fmt.Sprintf(format, args...)}
}

// ProtocolError marks an ordering violation: a non-start fragment into an
// empty buffer, a stale security counter, or a bad authentication tag.
type ProtocolError struct {
	Reason string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

func NewProtocol(reason string) error {
	return &ProtocolError{Reason: reason}
}

func WrapProtocol(reason string, cause error) error {
	return &ProtocolError{Reason: reason, Cause: cause}
}

// TimeoutError marks a deadline that expired while waiting for a fragment
// ack, a response message, or a session state transition.
type TimeoutError struct {
	Waiting string // what we were waiting for, e.g. "FragmentAck", "NonceExchanged"
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for %s", e.Waiting)
}

func NewTimeout(waiting string) error {
	return &TimeoutError{Waiting: waiting}
}

// TransportError marks a BLE connect/write/disconnect failure, and is
// also used for other I/O failures such as reading the user key file or
// drawing random bytes.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func WrapTransport(op string, cause error) error {
	return &TransportError{Op: op, Cause: cause}
}

// ConfigError marks bad CLI arguments and key material: wrong-length or
// non-hex keys, a malformed QR payload. Fatal before any protocol work
// starts.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Reason)
}

func NewConfig(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
