package errors

import "strings"

// ErrorCode is a string representation of a specific error condition.
// Codes follow the "<MODULE>_<NNN>" convention.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Module returns the module prefix of the code ("COMMON", "EXT", ...).
func (c ErrorCode) Module() string {
	parts := strings.SplitN(string(c), "_", 2)
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}

// Sentinel codes outside the module numbering.
const (
	CodeOK      ErrorCode = "OK"
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeMessageQueue       ErrorCode = "COMMON_017"
)

// Extraction Error Codes
const (
	ErrCodeInvalidChunkBoundaries ErrorCode = "EXT_001"
	ErrCodeBatchProcessingFailed  ErrorCode = "EXT_002"
	ErrCodeResultCountMismatch    ErrorCode = "EXT_003"
	ErrCodeSchedulerClosed        ErrorCode = "EXT_004"
	ErrCodeInvalidBatchConfig     ErrorCode = "EXT_005"
	ErrCodeMalformedRequest       ErrorCode = "EXT_006"
)

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeMessageQueue:       "message queue error",

	ErrCodeInvalidChunkBoundaries: "invalid chunk boundaries",
	ErrCodeBatchProcessingFailed:  "batch processing failed",
	ErrCodeResultCountMismatch:    "backend returned a different number of results than requests",
	ErrCodeSchedulerClosed:        "batch scheduler closed",
	ErrCodeInvalidBatchConfig:     "invalid batch configuration",
	ErrCodeMalformedRequest:       "malformed extraction request",
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsRetryable reports whether failures carrying code are transient from the
// caller's point of view.
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeTooManyRequests, ErrCodeServiceUnavailable, ErrCodeTimeout,
		ErrCodeExternalService, ErrCodeBatchProcessingFailed, ErrCodeResultCountMismatch:
		return true
	}
	return false
}
