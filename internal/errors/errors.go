package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
	"github.com/gin-gonic/gin"
)

// ErrorCategory defines the type of error for proper handling
type ErrorCategory string

const (
	CategoryValidation       ErrorCategory = "validation"
	CategoryTimeout          ErrorCategory = "timeout"
	CategoryRateLimit        ErrorCategory = "rate_limit"
	CategoryInternal         ErrorCategory = "internal"
	CategoryConfiguration    ErrorCategory = "configuration"
	CategoryNotFound         ErrorCategory = "not_found"
	CategoryUnauthorized     ErrorCategory = "unauthorized"
	CategoryForbidden        ErrorCategory = "forbidden"
	CategoryInsufficientData ErrorCategory = "insufficient_data"
	CategoryNotTrained       ErrorCategory = "not_trained"
	CategorySchemaMismatch   ErrorCategory = "schema_mismatch"
)

// ErrNotFound is wrapped by lookups that find nothing
var ErrNotFound = errors.New("not found")

// AppError wraps errbuilder error with the category and HTTP status it maps to
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory     `json:"category"`
	HTTPStatus int               `json:"http_status"`
	Timestamp  time.Time         `json:"timestamp"`
	RequestID  string            `json:"request_id,omitempty"`
	StackTrace string            `json:"stack_trace,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"` // per-field validation messages
}

var categoryCodes = map[ErrorCategory]string{
	CategoryValidation:       "VALIDATION_ERROR",
	CategoryTimeout:          "TIMEOUT_ERROR",
	CategoryRateLimit:        "RATE_LIMIT_EXCEEDED",
	CategoryInternal:         "INTERNAL_ERROR",
	CategoryConfiguration:    "CONFIGURATION_ERROR",
	CategoryNotFound:         "NOT_FOUND",
	CategoryUnauthorized:     "UNAUTHORIZED",
	CategoryForbidden:        "FORBIDDEN",
	CategoryInsufficientData: "INSUFFICIENT_DATA",
	CategoryNotTrained:       "MODEL_NOT_TRAINED",
	CategorySchemaMismatch:   "SCHEMA_MISMATCH",
}

// ErrorResponse is the JSON body written for a failed request
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Category  ErrorCategory     `json:"category"`
	RequestID string            `json:"request_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Response renders the error for a client
func (e *AppError) Response() ErrorResponse {
	codeStr, ok := categoryCodes[e.Category]
	if !ok {
		codeStr = "UNKNOWN_ERROR"
	}
	return ErrorResponse{
		Error:     e.ErrBuilder.Msg,
		Code:      codeStr,
		Category:  e.Category,
		RequestID: e.RequestID,
		Timestamp: e.Timestamp,
		Fields:    e.Fields,
	}
}

// Error implements the error interface
func (e *AppError) Error() string {
	codeStr, ok := categoryCodes[e.Category]
	if !ok {
		codeStr = "UNKNOWN_ERROR"
	}
	return fmt.Sprintf("[%s] %s", codeStr, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

// build finishes a coded builder with message, cause and string details
func build(builder *errbuilder.ErrBuilder, message string, cause error, details map[string]string) *errbuilder.ErrBuilder {
	builder = builder.WithMsg(message)
	if cause != nil {
		builder = builder.WithCause(cause)
	}
	if len(details) > 0 {
		errorMap := errbuilder.ErrorMap{}
		for k, v := range details {
			errorMap.Set(k, errors.New(v))
		}
		builder = builder.WithDetails(errbuilder.NewErrDetails(errorMap))
	}
	return builder
}

// NewValidationError creates a validation error using errbuilder
func NewValidationError(message string, details ...interface{}) *AppError {
	var d map[string]string
	if len(details) > 0 {
		d = map[string]string{"validation_details": fmt.Sprintf("%v", details[0])}
	}
	return NewAppError(build(errbuilder.New().WithCode(errbuilder.CodeInvalidArgument), message, nil, d), CategoryValidation, http.StatusBadRequest)
}

// NewValidationErrorWithMap creates a validation error using ErrorMap for multiple validation issues
func NewValidationErrorWithMap(validationErrors map[string]string) *AppError {
	errMap := errbuilder.ErrorMap{}
	for field, message := range validationErrors {
		errMap.Set(field, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(message))
	}

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg("Multiple validation errors").
		WithDetails(errbuilder.NewErrDetails(errMap))

	appErr := NewAppError(builder, CategoryValidation, http.StatusBadRequest)
	appErr.Fields = validationErrors
	return appErr
}

// NewTimeoutError creates a timeout error using errbuilder
func NewTimeoutError(message string, cause error) *AppError {
	return NewAppError(build(errbuilder.New().WithCode(errbuilder.CodeDeadlineExceeded), message, cause, nil), CategoryTimeout, http.StatusGatewayTimeout)
}

// NewRateLimitError creates a rate limit error using errbuilder
func NewRateLimitError(retryAfter string) *AppError {
	return NewAppError(
		build(errbuilder.New().WithCode(errbuilder.CodeResourceExhausted), "Rate limit exceeded", nil, map[string]string{"retry_after": retryAfter}),
		CategoryRateLimit, http.StatusTooManyRequests,
	)
}

// NewNotFoundError reports a missing resource
func NewNotFoundError(resource, id string) *AppError {
	return NewAppError(
		build(errbuilder.New().WithCode(errbuilder.CodeNotFound), fmt.Sprintf("%s not found", resource), nil, map[string]string{"id": id}),
		CategoryNotFound, http.StatusNotFound,
	)
}

// NewUnauthorizedError reports missing or invalid credentials
func NewUnauthorizedError(message string, cause error) *AppError {
	return NewAppError(build(errbuilder.New().WithCode(errbuilder.CodeUnauthenticated), message, cause, nil), CategoryUnauthorized, http.StatusUnauthorized)
}

// NewForbiddenError reports valid credentials lacking a required role
func NewForbiddenError(role string) *AppError {
	return NewAppError(
		build(errbuilder.New().WithCode(errbuilder.CodePermissionDenied), "Insufficient permissions", nil, map[string]string{"required_role": role}),
		CategoryForbidden, http.StatusForbidden,
	)
}

// NewInsufficientDataError reports a fit attempted on too little data
func NewInsufficientDataError(cause error) *AppError {
	return NewAppError(build(errbuilder.New().WithCode(errbuilder.CodeFailedPrecondition), "Insufficient training data", cause, nil), CategoryInsufficientData, http.StatusUnprocessableEntity)
}

// NewNotTrainedError reports scoring attempted without a trained model
func NewNotTrainedError(cause error) *AppError {
	return NewAppError(build(errbuilder.New().WithCode(errbuilder.CodeFailedPrecondition), "Model is not trained", cause, nil), CategoryNotTrained, http.StatusServiceUnavailable)
}

// NewSchemaMismatchError reports a model, artifact or vector that does not fit the active schema
func NewSchemaMismatchError(cause error) *AppError {
	return NewAppError(build(errbuilder.New().WithCode(errbuilder.CodeFailedPrecondition), "Model schema mismatch", cause, nil), CategorySchemaMismatch, http.StatusConflict)
}

// NewInternalError creates an internal server error using errbuilder
func NewInternalError(message string, cause error) *AppError {
	appErr := NewAppError(
		build(errbuilder.New().WithCode(errbuilder.CodeInternal), "Internal server error", cause, map[string]string{"internal_details": message}),
		CategoryInternal, http.StatusInternalServerError,
	)

	// Capture stack trace in development/debug mode
	if gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode {
		appErr.StackTrace = captureStackTrace()
	}
	return appErr
}

// NewConfigurationError creates a configuration error using errbuilder
func NewConfigurationError(message string, cause error) *AppError {
	return NewAppError(
		build(errbuilder.New().WithCode(errbuilder.CodeFailedPrecondition), "Configuration error", cause, map[string]string{"config_details": message}),
		CategoryConfiguration, http.StatusInternalServerError,
	)
}

// captureStackTrace captures a stack trace for debugging
func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ErrorHandler is a Gin middleware that provides centralized error handling
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			appErr := ToAppError(c.Errors.Last().Err)
			appErr.RequestID = c.GetHeader("X-Request-ID")

			LogError(c, appErr)

			if !c.Writer.Written() {
				c.JSON(appErr.HTTPStatus, appErr.Response())
			}
		}
	}
}

// RecoveryHandler provides panic recovery with structured error responses
func RecoveryHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err interface{}) {
		appErr := NewInternalError(
			fmt.Sprintf("Panic recovered: %v", err),
			fmt.Errorf("%v", err),
		)
		appErr.StackTrace = captureStackTrace()

		LogError(c, appErr)
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
	})
}

// ToAppError converts any error to an AppError. Scoring pipeline sentinels map
// to their own categories; anything unrecognised is internal.
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	switch {
	case errors.Is(err, analysis.ErrInvalidConfig):
		return NewValidationError(err.Error())
	case errors.Is(err, analysis.ErrInsufficientData):
		return NewInsufficientDataError(err)
	case errors.Is(err, analysis.ErrNotTrained):
		return NewNotTrainedError(err)
	case errors.Is(err, analysis.ErrSchemaMismatch):
		return NewSchemaMismatchError(err)
	case errors.Is(err, taxonomy.ErrCategoryNotFound):
		return NewAppError(build(errbuilder.New().WithCode(errbuilder.CodeNotFound), err.Error(), err, nil), CategoryNotFound, http.StatusNotFound)
	case errors.Is(err, ErrNotFound):
		return NewAppError(build(errbuilder.New().WithCode(errbuilder.CodeNotFound), err.Error(), err, nil), CategoryNotFound, http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		return NewTimeoutError("Request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError("Request deadline exceeded", err)
	}

	return NewInternalError("An unexpected error occurred", err)
}

// LogError logs an error with appropriate level and context
func LogError(c *gin.Context, err *AppError) {
	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"ip", c.ClientIP(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", c.GetHeader("X-Request-ID"),
	)

	errorMsg := err.ErrBuilder.Msg
	switch err.Category {
	case CategoryValidation, CategoryRateLimit, CategoryNotFound, CategoryUnauthorized, CategoryForbidden:
		if details := err.ErrBuilder.Details; len(details.Errors) > 0 {
			logEntry.Warn(errorMsg, "details", details.Errors)
		} else {
			logEntry.Warn(errorMsg)
		}
	case CategoryTimeout:
		logEntry.Info(errorMsg, "cause", err.ErrBuilder.Unwrap())
	default:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Error(errorMsg, "cause", cause)
		} else {
			logEntry.Error(errorMsg)
		}
	}

	if err.StackTrace != "" && (gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode) {
		logEntry.Debug("stack_trace", "trace", err.StackTrace)
	}
}

// WrapError wraps an error with additional context
func WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(message, args...), err)
}

// SafeClose safely closes a resource and logs any errors
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource",
			"resource", resourceName,
			"error", err)
	}
}
