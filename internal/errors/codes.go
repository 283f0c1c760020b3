package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for entity store operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Schema errors: raised at definition or query-compilation time
	ErrCodeInvalidArgument   ErrorCode = 1000
	ErrCodeUnknownEntity     ErrorCode = 1001
	ErrCodeUnknownField      ErrorCode = 1002
	ErrCodeUnknownIndex      ErrorCode = 1003
	ErrCodeTypeMismatch      ErrorCode = 1004
	ErrCodeRequiredMissing   ErrorCode = 1005
	ErrCodeInvalidDefinition ErrorCode = 1006
	ErrCodeUnsupported       ErrorCode = 1007
	ErrCodeEntityNotFound    ErrorCode = 1008

	// Store errors: propagated unchanged from the key/value boundary
	ErrCodeInternal     ErrorCode = 2000
	ErrCodeUnavailable  ErrorCode = 2001
	ErrCodeLockConflict ErrorCode = 2002
	ErrCodeDeadlock     ErrorCode = 2003
	ErrCodeClosed       ErrorCode = 2004
	ErrCodeCommitLog    ErrorCode = 2005

	// Encoding errors: undecodable tuples, keys and tokens
	ErrCodeCorruptedData  ErrorCode = 3000
	ErrCodeChecksumFailed ErrorCode = 3001
	ErrCodeBadToken       ErrorCode = 3002

	// Duplicate registration, reported but not fatal
	ErrCodeAlreadyExists ErrorCode = 4000
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                "OK",
	ErrCodeInvalidArgument:   "INVALID_ARGUMENT",
	ErrCodeUnknownEntity:     "UNKNOWN_ENTITY",
	ErrCodeUnknownField:      "UNKNOWN_FIELD",
	ErrCodeUnknownIndex:      "UNKNOWN_INDEX",
	ErrCodeTypeMismatch:      "TYPE_MISMATCH",
	ErrCodeRequiredMissing:   "REQUIRED_MISSING",
	ErrCodeInvalidDefinition: "INVALID_DEFINITION",
	ErrCodeUnsupported:       "UNSUPPORTED",
	ErrCodeEntityNotFound:    "ENTITY_NOT_FOUND",
	ErrCodeInternal:          "INTERNAL_ERROR",
	ErrCodeUnavailable:       "UNAVAILABLE",
	ErrCodeLockConflict:      "LOCK_CONFLICT",
	ErrCodeDeadlock:          "DEADLOCK",
	ErrCodeClosed:            "CLOSED",
	ErrCodeCommitLog:         "COMMIT_LOG_FAILED",
	ErrCodeCorruptedData:     "CORRUPTED_DATA",
	ErrCodeChecksumFailed:    "CHECKSUM_FAILED",
	ErrCodeBadToken:          "BAD_TOKEN",
	ErrCodeAlreadyExists:     "ALREADY_EXISTS",
}

// String returns the wire name of the code.
func (c ErrorCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// EntityError represents a structured error with code and context
type EntityError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *EntityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *EntityError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an EntityError carrying the same code.
func (e *EntityError) Is(target error) bool {
	t, ok := target.(*EntityError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus maps internal error codes to HTTP status codes
func (e *EntityError) HTTPStatus() int {
	switch {
	case e.Code == ErrCodeOK:
		return http.StatusOK
	case e.Code == ErrCodeEntityNotFound:
		return http.StatusNotFound
	case e.Code == ErrCodeAlreadyExists:
		return http.StatusConflict
	case e.Code == ErrCodeLockConflict || e.Code == ErrCodeDeadlock:
		return http.StatusConflict
	case e.Code == ErrCodeUnavailable || e.Code == ErrCodeClosed:
		return http.StatusServiceUnavailable
	case e.Code == ErrCodeBadToken:
		return http.StatusBadRequest
	case e.Code >= 1000 && e.Code < 2000:
		return http.StatusBadRequest
	case e.Code >= 3000 && e.Code < 4000:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// NewEntityError creates a new EntityError
func NewEntityError(code ErrorCode, message string, cause error) *EntityError {
	return &EntityError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *EntityError) WithDetail(key string, value interface{}) *EntityError {
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrAlreadyExists  = &EntityError{Code: ErrCodeAlreadyExists}
	ErrEntityNotFound = &EntityError{Code: ErrCodeEntityNotFound}
	ErrLockConflict   = &EntityError{Code: ErrCodeLockConflict}
	ErrClosed         = &EntityError{Code: ErrCodeClosed}
)

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *EntityError {
	return NewEntityError(ErrCodeInvalidArgument, message, cause)
}

func UnknownEntity(entity string) *EntityError {
	return NewEntityError(ErrCodeUnknownEntity, fmt.Sprintf("unknown entity type '%s'", entity), nil).
		WithDetail("entity", entity)
}

func UnknownField(entity, field string) *EntityError {
	return NewEntityError(ErrCodeUnknownField, fmt.Sprintf("entity '%s' has no field '%s'", entity, field), nil).
		WithDetail("entity", entity).
		WithDetail("field", field)
}

func UnknownIndex(entity, index string) *EntityError {
	return NewEntityError(ErrCodeUnknownIndex, fmt.Sprintf("entity '%s' has no index '%s'", entity, index), nil).
		WithDetail("entity", entity).
		WithDetail("index", index)
}

func TypeMismatch(field, expected string, value interface{}) *EntityError {
	return NewEntityError(ErrCodeTypeMismatch, fmt.Sprintf("field '%s' expects %s, got %T", field, expected, value), nil).
		WithDetail("field", field).
		WithDetail("expected", expected)
}

func RequiredMissing(entity, field string) *EntityError {
	return NewEntityError(ErrCodeRequiredMissing, fmt.Sprintf("required field '%s.%s' is not set", entity, field), nil).
		WithDetail("entity", entity).
		WithDetail("field", field)
}

func InvalidDefinition(message string) *EntityError {
	return NewEntityError(ErrCodeInvalidDefinition, message, nil)
}

func Unsupported(message string) *EntityError {
	return NewEntityError(ErrCodeUnsupported, message, nil)
}

func EntityNotFound(entity string, id int64) *EntityError {
	return NewEntityError(ErrCodeEntityNotFound, fmt.Sprintf("entity %s:%d not found", entity, id), nil).
		WithDetail("entity", entity).
		WithDetail("id", id)
}

func AlreadyExists(kind, name string) *EntityError {
	return NewEntityError(ErrCodeAlreadyExists, fmt.Sprintf("%s '%s' already exists", kind, name), nil).
		WithDetail("kind", kind).
		WithDetail("name", name)
}

func InternalError(message string, cause error) *EntityError {
	return NewEntityError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *EntityError {
	return NewEntityError(ErrCodeUnavailable, message, cause)
}

func LockConflict(message string, cause error) *EntityError {
	return NewEntityError(ErrCodeLockConflict, message, cause)
}

func Deadlock(message string, cause error) *EntityError {
	return NewEntityError(ErrCodeDeadlock, message, cause)
}

func Closed(what string) *EntityError {
	return NewEntityError(ErrCodeClosed, fmt.Sprintf("%s is closed", what), nil)
}

func CommitLogFailed(message string, cause error) *EntityError {
	return NewEntityError(ErrCodeCommitLog, message, cause)
}

func CorruptedData(message string, cause error) *EntityError {
	return NewEntityError(ErrCodeCorruptedData, message, cause)
}

func ChecksumFailed(expected, actual uint32) *EntityError {
	return NewEntityError(ErrCodeChecksumFailed, fmt.Sprintf("checksum validation failed: expected %d, got %d", expected, actual), nil).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func BadToken(message string, cause error) *EntityError {
	return NewEntityError(ErrCodeBadToken, message, cause)
}

// GetCode extracts the error code from an error chain
func GetCode(err error) ErrorCode {
	var ee *EntityError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ErrCodeInternal
}

// IsEntityError checks if an error chain contains an EntityError
func IsEntityError(err error) bool {
	var ee *EntityError
	return errors.As(err, &ee)
}

// IsSchemaError reports definition and query-compilation failures.
func IsSchemaError(err error) bool {
	code := codeOf(err)
	return code >= 1000 && code < 2000
}

// IsStoreError reports failures raised by the key/value store.
func IsStoreError(err error) bool {
	code := codeOf(err)
	return code >= 2000 && code < 3000
}

// IsEncodingError reports undecodable records, keys or tokens.
func IsEncodingError(err error) bool {
	code := codeOf(err)
	return code >= 3000 && code < 4000
}

// IsAlreadyExists reports duplicate schema registrations.
func IsAlreadyExists(err error) bool {
	return codeOf(err) == ErrCodeAlreadyExists
}

// HTTPStatus maps any error to an HTTP status.
func HTTPStatus(err error) int {
	var ee *EntityError
	if errors.As(err, &ee) {
		return ee.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func codeOf(err error) ErrorCode {
	var ee *EntityError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return -1
}
