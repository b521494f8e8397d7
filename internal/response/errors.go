package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired          ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid           ErrCode = "TOKEN_INVALID"
	ErrAuthenticationRequired ErrCode = "AUTHENTICATION_REQUIRED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Test session ──────────────────────────────────────────────────
	ErrTestUnavailable    ErrCode = "TEST_UNAVAILABLE"
	ErrNotEditable        ErrCode = "NOT_EDITABLE"
	ErrInvalidAnswer      ErrCode = "INVALID_ANSWER"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrOutOfRange         ErrCode = "OUT_OF_RANGE"
	ErrSubmissionInFlight ErrCode = "SUBMISSION_IN_FLIGHT"
	ErrSubmissionFailed   ErrCode = "SUBMISSION_FAILED"
	ErrInvalidTransition  ErrCode = "INVALID_TRANSITION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "An attempt token is required."
	case ErrTokenInvalid:
		return "The attempt token is invalid or has expired."
	case ErrAuthenticationRequired:
		return "Please enter your details to start this test."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid test ID."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrUnknownAction:
		return "Unknown action."

	// ─── Test session ──────────────────────────────────────────────────
	case ErrTestUnavailable:
		return "The test could not be loaded. Please try again."
	case ErrNotEditable:
		return "This test is not accepting answers."
	case ErrInvalidAnswer:
		return "That answer does not fit the question."
	case ErrUnknownQuestion:
		return "The question does not belong to this test."
	case ErrOutOfRange:
		return "There is no question at that position."
	case ErrSubmissionInFlight:
		return "Your test is already being submitted."
	case ErrSubmissionFailed:
		return "Failed to submit test. Please try again."
	case ErrInvalidTransition:
		return "That action is not available right now."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
