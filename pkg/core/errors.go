package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorType represents the category of a connectivity error.
type ErrorType int

// Error type constants categorize errors for guard checks and retry classification.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeConnection indicates a transport-level failure: host unreachable,
	// TLS handshake failure, timeout, connection refused or dropped mid-request.
	ErrorTypeConnection
	// ErrorTypeAuthentication indicates invalid, expired or missing credentials.
	ErrorTypeAuthentication
	// ErrorTypeRateLimit indicates the exchange or the local limiter rejected
	// the request for exceeding a rate limit.
	ErrorTypeRateLimit
	// ErrorTypeInsufficientFunds indicates the account lacks the required balance.
	ErrorTypeInsufficientFunds
	// ErrorTypeOrder indicates an order was rejected: invalid parameters,
	// unknown symbol, or an exchange rule violation.
	ErrorTypeOrder
	// ErrorTypeUnsupportedExchange indicates a request for an exchange this
	// build has no adapter for.
	ErrorTypeUnsupportedExchange
	// ErrorTypeInvalidState indicates an operation was invoked in a lifecycle
	// state that does not permit it.
	ErrorTypeInvalidState
	// ErrorTypeNotConnected indicates an operation requiring an established
	// connection was invoked without one.
	ErrorTypeNotConnected
	// ErrorTypeDuplicateSubscription indicates the subscription id is already registered.
	ErrorTypeDuplicateSubscription
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"CONNECTION",
		"AUTHENTICATION",
		"RATE_LIMIT",
		"INSUFFICIENT_FUNDS",
		"ORDER",
		"UNSUPPORTED_EXCHANGE",
		"INVALID_STATE",
		"NOT_CONNECTED",
		"DUPLICATE_SUBSCRIPTION",
	}[t]
}

// Sentinel errors for common terminal conditions.
var (
	// ErrClientClosed is returned when attempting to use a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrStreamClosed is returned when attempting to use a closed stream.
	ErrStreamClosed = errors.New("stream is closed")
)

// ExchangeError represents a structured error from the connectivity layer.
// Every error carries the exchange it belongs to, a retryability flag the
// retry policy consults, and optionally the exchange's own error code.
type ExchangeError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// Exchange identifies which exchange the error belongs to.
	Exchange string `json:"exchange"`
	// Code is the exchange-specific error code, when one is known.
	Code string `json:"code,omitempty"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// Retryable reports whether retrying the failed operation can succeed.
	Retryable bool `json:"retryable"`
	// RetryAfter is the minimum wait hinted by the exchange before retrying.
	// Zero when no hint was provided; only meaningful for rate-limit errors.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

// Error implements the error interface for ExchangeError.
// It returns a formatted string with exchange name, error type, exchange code, and message.
func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s (%s): %s", e.Exchange, e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Exchange, e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// WithCode returns the error with the exchange-specific error code set.
func (e *ExchangeError) WithCode(code ErrorCode) *ExchangeError {
	e.Code = string(code)
	return e
}

// WithRetryable overrides the retryability flag. Used to mark normally
// retryable failures as permanent (for example a TLS configuration error).
func (e *ExchangeError) WithRetryable(retryable bool) *ExchangeError {
	e.Retryable = retryable
	return e
}

// NewExchangeError creates an ExchangeError with the specified details.
// The retryability flag defaults to the taxonomy default for the type:
// connection and rate-limit errors retryable, everything else not.
// The timestamp is automatically set to the current time.
func NewExchangeError(exchange string, errorType ErrorType, message string) *ExchangeError {
	return &ExchangeError{
		Type:      errorType,
		Exchange:  exchange,
		Message:   message,
		Retryable: errorType == ErrorTypeConnection || errorType == ErrorTypeRateLimit,
		Timestamp: time.Now(),
	}
}

// NewConnectionError wraps a transport-level failure. Connection errors are
// retryable by default; mark permanent ones with WithRetryable(false).
func NewConnectionError(exchange, message string, cause error) *ExchangeError {
	e := NewExchangeError(exchange, ErrorTypeConnection, message)
	e.Err = cause
	return e
}

// NewAuthenticationError creates a credential failure. Never retryable:
// retrying with the same credentials cannot succeed.
func NewAuthenticationError(exchange, message string) *ExchangeError {
	return NewExchangeError(exchange, ErrorTypeAuthentication, message)
}

// NewRateLimitError creates a rate-limit rejection carrying the exchange's
// retry-after hint, or zero when none was provided.
func NewRateLimitError(exchange, message string, retryAfter time.Duration) *ExchangeError {
	e := NewExchangeError(exchange, ErrorTypeRateLimit, message)
	e.RetryAfter = retryAfter
	return e
}

// NewInsufficientFundsError creates a balance failure for an order attempt.
func NewInsufficientFundsError(exchange, message string) *ExchangeError {
	return NewExchangeError(exchange, ErrorTypeInsufficientFunds, message)
}

// NewOrderError creates an order rejection. Only transient rejections
// (for example a momentary matching-engine overload) are retryable;
// validation rejections must pass transient=false.
func NewOrderError(exchange, code, message string, transient bool) *ExchangeError {
	e := NewExchangeError(exchange, ErrorTypeOrder, message)
	e.Code = code
	e.Retryable = transient
	return e
}

// NewUnsupportedExchangeError creates an error for an exchange with no adapter.
func NewUnsupportedExchangeError(exchange string) *ExchangeError {
	return NewExchangeError(exchange, ErrorTypeUnsupportedExchange,
		fmt.Sprintf("exchange %q is not supported", exchange))
}

// NewInvalidStateError creates a lifecycle misuse error, such as configuring
// a connector while it is connected.
func NewInvalidStateError(exchange, message string) *ExchangeError {
	return NewExchangeError(exchange, ErrorTypeInvalidState, message)
}

// NewNotConnectedError creates an error for operations invoked before connect.
func NewNotConnectedError(exchange string) *ExchangeError {
	return NewExchangeError(exchange, ErrorTypeNotConnected, "connector is not connected")
}

// NewDuplicateSubscriptionError creates an error for an already registered
// subscription id.
func NewDuplicateSubscriptionError(exchange, subscriptionID string) *ExchangeError {
	return NewExchangeError(exchange, ErrorTypeDuplicateSubscription,
		fmt.Sprintf("subscription %q already exists", subscriptionID))
}

func isErrorType(err error, t ErrorType) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Type == t
	}
	return false
}

// IsConnectionError returns true if the error is a transport-level failure.
func IsConnectionError(err error) bool {
	return isErrorType(err, ErrorTypeConnection)
}

// IsAuthenticationError returns true if the error is a credential failure.
func IsAuthenticationError(err error) bool {
	return isErrorType(err, ErrorTypeAuthentication)
}

// IsRateLimitError returns true if the error is a rate-limit rejection.
func IsRateLimitError(err error) bool {
	return isErrorType(err, ErrorTypeRateLimit)
}

// IsInsufficientFundsError returns true if the account lacked balance.
func IsInsufficientFundsError(err error) bool {
	return isErrorType(err, ErrorTypeInsufficientFunds)
}

// IsOrderError returns true if an order was rejected by the exchange.
func IsOrderError(err error) bool {
	return isErrorType(err, ErrorTypeOrder)
}

// IsUnsupportedExchangeError returns true if no adapter exists for the exchange.
func IsUnsupportedExchangeError(err error) bool {
	return isErrorType(err, ErrorTypeUnsupportedExchange)
}

// IsInvalidStateError returns true if an operation was invoked in the wrong
// lifecycle state.
func IsInvalidStateError(err error) bool {
	return isErrorType(err, ErrorTypeInvalidState)
}

// IsNotConnectedError returns true if the connector was not connected.
func IsNotConnectedError(err error) bool {
	return isErrorType(err, ErrorTypeNotConnected)
}

// IsDuplicateSubscriptionError returns true if a subscription id collided.
func IsDuplicateSubscriptionError(err error) bool {
	return isErrorType(err, ErrorTypeDuplicateSubscription)
}

// IsRetryable reports whether the operation that produced err may be retried.
// Classified errors carry their own flag. Bare network timeouts count as
// connection failures and are retryable. Context cancellation never is.
// Everything unclassified fails fast: adapters are expected to map their
// transport errors into the taxonomy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Retryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// RetryAfterHint returns the exchange-provided minimum wait before retrying,
// or zero when the error carries no hint.
func RetryAfterHint(err error) time.Duration {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.RetryAfter
	}
	return 0
}
