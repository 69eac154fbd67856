// Package errors provides the error contract shared by every espclient package.
// Errors are classified as transient, invalid or fatal; failures reported by
// an ESP server surface as *ServerError values carrying the HTTP status and the
// message text extracted from the server's response envelope.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/c360/espclient/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Lookup errors
	ErrNotFound      = errors.New("not found")
	ErrAmbiguous     = errors.New("more than one match")
	ErrUnknownWindow = errors.New("unknown window")

	// Validation errors
	ErrInvalidValue  = errors.New("invalid value")
	ErrInvalidPath   = errors.New("invalid path")
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Socket errors
	ErrClosed            = errors.New("the connection is closed")
	ErrNotConnected      = errors.New("not connected")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Server errors
	ErrUnsupportedVersion = errors.New("this package requires an ESP server version 5.2 or greater")
)

// ServerError is a failure reported by the ESP server. Message holds the text
// extracted from the XML error envelope, or the raw body when the envelope
// could not be parsed.
type ServerError struct {
	Status  int
	Message string
	URL     string
}

// Error implements the error interface
func (se *ServerError) Error() string {
	if se.Message == "" {
		return fmt.Sprintf("server returned status %d", se.Status)
	}
	return se.Message
}

// AsServerError returns the *ServerError in err's chain, if any.
func AsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsServerError reports whether err carries a *ServerError.
func IsServerError(err error) bool {
	_, ok := AsServerError(err)
	return ok
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if se, ok := AsServerError(err); ok {
		return se.Status >= 500
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsFatal checks if an error is fatal
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrUnsupportedVersion)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	if se, ok := AsServerError(err); ok {
		return se.Status >= 400 && se.Status < 500
	}

	return errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrParsingFailed)
}

// IsNotFound reports whether err is a lookup miss, either local or a 404 from the server.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownWindow) {
		return true
	}
	se, ok := AsServerError(err)
	return ok && se.Status == 404
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Invalidf builds an invalid-class error around sentinel with a formatted detail.
func Invalidf(sentinel error, component, method, format string, args ...any) error {
	return classifiedf(ErrorInvalid, sentinel, component, method, format, args...)
}

// Fatalf is Invalidf for errors no retry or input change can fix
func Fatalf(sentinel error, component, method, format string, args ...any) error {
	return classifiedf(ErrorFatal, sentinel, component, method, format, args...)
}

func classifiedf(class ErrorClass, sentinel error, component, method, format string, args ...any) error {
	err := fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
	return newClassified(class, err, component, method,
		fmt.Sprintf("%s.%s: %s", component, method, err.Error()))
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the defaults used by WaitReady
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	return IsTransient(err)
}

// ToRetryConfig converts to the retry package's Config.
// MaxRetries counts additional attempts, so one is added for the first call.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
