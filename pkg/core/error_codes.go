package core

import "errors"

// ErrorCode represents an exchange-specific error identifier.
// Error codes provide a stable, machine-readable way to identify specific error conditions.
type ErrorCode string

// Error code constants define standardized error identifiers across all exchanges.
const (
	// ErrCodeConnection indicates a transport-level connectivity failure.
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR"
	// ErrCodeTimeout indicates the request exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeRateLimit indicates the rate limit was exceeded.
	ErrCodeRateLimit ErrorCode = "RATE_LIMIT"
	// ErrCodeWeightExceedsBurst indicates a request weight larger than the
	// bucket's burst capacity, which can never be admitted.
	ErrCodeWeightExceedsBurst ErrorCode = "WEIGHT_EXCEEDS_BURST"
	// ErrCodeAuth indicates authentication or authorization failure.
	ErrCodeAuth ErrorCode = "AUTH_ERROR"
	// ErrCodeInsufficientFunds indicates the account lacks required balance.
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	// ErrCodeInvalidOrder indicates the order violates exchange rules.
	ErrCodeInvalidOrder ErrorCode = "INVALID_ORDER"
	// ErrCodeInvalidSymbol indicates the trading pair is not recognized.
	ErrCodeInvalidSymbol ErrorCode = "INVALID_SYMBOL"

	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeExchangeMismatch ErrorCode = "EXCHANGE_MISMATCH"

	// Lifecycle state errors
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"

	// Subscription errors
	ErrCodeDuplicateSubscription ErrorCode = "DUPLICATE_SUBSCRIPTION"
	ErrCodeSubscriptionFailed    ErrorCode = "SUBSCRIPTION_FAILED"

	// Client state errors
	ErrCodeClientClosed ErrorCode = "CLIENT_CLOSED"
	ErrCodeStreamClosed ErrorCode = "STREAM_CLOSED"

	// Unsupported exchange
	ErrCodeUnsupportedExchange ErrorCode = "UNSUPPORTED_EXCHANGE"
)

// IsErrorCode checks if the error matches the specified error code.
// It extracts the exchange error and compares its code field against the provided ErrorCode.
func IsErrorCode(err error, code ErrorCode) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return ErrorCode(exErr.Code) == code
	}
	return false
}
