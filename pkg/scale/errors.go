package scale

import (
	"errors"
	"fmt"
)

var (

	// ErrUnstable denotes that the scale reported a stabilization error (`ES`)
	ErrUnstable = errors.New("scale stabilization issue")

	// ErrUnparseable denotes that the scale reply did not contain a weight
	ErrUnparseable = errors.New("unexpected response")

	// ErrTransport denotes a connection / timeout / reset problem
	ErrTransport = errors.New("transport failure")

	// ErrInvalidConfig denotes an invalid or incomplete configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorKind classifies a DeviceError
type ErrorKind int

const (

	// KindTransport denotes a network level failure
	KindTransport ErrorKind = iota

	// KindUnstable denotes a reported stabilization failure of the device
	KindUnstable

	// KindUnparseable denotes a reply that does not match the protocol grammar
	KindUnparseable
)

// String fulfils the Stringer interface
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnstable:
		return "unstable"
	case KindUnparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// DeviceError denotes a recoverable failure of a single query round trip
type DeviceError struct {
	Kind ErrorKind
	Raw  string
	Err  error
}

// NewTransportError wraps a network level failure
func NewTransportError(err error) *DeviceError {
	return &DeviceError{Kind: KindTransport, Err: err}
}

// NewUnparseableError records the raw reply text for diagnosis
func NewUnparseableError(raw string) *DeviceError {
	return &DeviceError{Kind: KindUnparseable, Raw: raw}
}

// Error fulfils the error interface
func (e *DeviceError) Error() string {
	switch e.Kind {
	case KindUnstable:
		return ErrUnstable.Error()
	case KindUnparseable:
		return fmt.Sprintf("%s: %q", ErrUnparseable, e.Raw)
	default:
		if e.Err == nil {
			return ErrTransport.Error()
		}
		return fmt.Sprintf("%s: %s", ErrTransport, e.Err)
	}
}

// Unwrap returns the underlying cause, if any
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is allows matching against the sentinel of the respective kind
func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrUnstable:
		return e.Kind == KindUnstable
	case ErrUnparseable:
		return e.Kind == KindUnparseable
	case ErrTransport:
		return e.Kind == KindTransport
	}
	return false
}

// KindOf extracts the ErrorKind of a DeviceError (if any)
func KindOf(err error) (ErrorKind, bool) {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Kind, true
	}
	return 0, false
}

// ConfigurationError denotes a fatal problem with the provided configuration
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error fulfils the error interface
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidConfig, e.Field, e.Reason)
}

// Unwrap allows matching against ErrInvalidConfig
func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfig
}

// NewConfigurationError instantiates a new ConfigurationError
func NewConfigurationError(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}
