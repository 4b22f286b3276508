package errors

// ErrorCode represents a machine-readable error identifier surfaced to callers and clients.
type ErrorCode string

// Checkout orchestration errors
const (
	// No session endpoints and no static fallback links; fatal, never retried.
	ErrCodeConfiguration ErrorCode = "configuration_error"
	// A single endpoint attempt failed; recovered by the next endpoint or the static link.
	ErrCodeTransport ErrorCode = "transport_error"
	// Verification could not confirm payment; always treated as unpaid.
	ErrCodeVerificationInconclusive ErrorCode = "verification_inconclusive"
	// Host refused to open the checkout window; caller redirects instead.
	ErrCodePopupBlocked ErrorCode = "popup_blocked"
	// Window stayed open past the lifetime cap.
	ErrCodeAbandonedTimeout ErrorCode = "abandoned_timeout"
	// Buyer cancelled on the checkout page.
	ErrCodeCancelled ErrorCode = "checkout_cancelled"
)

// Validation errors
const (
	ErrCodeInvalidQuantity ErrorCode = "invalid_quantity"
	ErrCodeInvalidPlan     ErrorCode = "invalid_plan"
	ErrCodeMissingField    ErrorCode = "missing_field"
	ErrCodeInvalidField    ErrorCode = "invalid_field"
)

// External service and internal errors
const (
	ErrCodeStripeError     ErrorCode = "stripe_error"
	ErrCodeSessionNotFound ErrorCode = "session_not_found"
	ErrCodeRateLimited     ErrorCode = "rate_limited"
	ErrCodeInternalError   ErrorCode = "internal_error"
	ErrCodeDatabaseError   ErrorCode = "database_error"
)

// IsRetryable returns whether an error code represents a transient failure.
// Verification results are terminal and never retried automatically.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeTransport,
		ErrCodeStripeError,
		ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - Client validation errors
	case ErrCodeInvalidQuantity,
		ErrCodeInvalidPlan,
		ErrCodeMissingField,
		ErrCodeInvalidField:
		return 400

	// 402 Payment Required - Payment could not be confirmed
	case ErrCodeVerificationInconclusive:
		return 402

	case ErrCodeSessionNotFound:
		return 404

	case ErrCodeAbandonedTimeout:
		return 408

	case ErrCodePopupBlocked,
		ErrCodeCancelled:
		return 409

	case ErrCodeRateLimited:
		return 429

	// 502 Bad Gateway - External service errors
	case ErrCodeStripeError,
		ErrCodeTransport:
		return 502

	case ErrCodeConfiguration:
		return 503

	default:
		return 500
	}
}
