package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryStorage        ErrorCategory = "storage"
	CategoryLocking        ErrorCategory = "locking"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryPayment        ErrorCategory = "payment"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Storage errors
	CodeNotFound         ErrorCode = "not_found"
	CodeDuplicateRow     ErrorCode = "duplicate_row"
	CodeTransactionAbort ErrorCode = "transaction_abort"

	// Locking errors
	CodeLockTimeout ErrorCode = "lock_timeout"

	// Validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidScope  ErrorCode = "invalid_scope"
	CodeMissingField  ErrorCode = "missing_field"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Reconciliation errors
	CodeMatchingFailed  ErrorCode = "matching_failed"
	CodeProcessingError ErrorCode = "processing_error"

	// Payment errors
	CodeProviderError  ErrorCode = "provider_error"
	CodeQuotaExceeded  ErrorCode = "quota_exceeded"
	CodeMailSendFailed ErrorCode = "mail_send_failed"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryValidation:
		return 2
	case CategoryConfiguration:
		return 3
	case CategoryStorage, CategoryLocking:
		return 4
	case CategoryReconciliation, CategoryPayment, CategoryInternal:
		return 5
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

func wrapOrNew(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// Specific error constructors

// LockTimeoutError creates the error returned when the per-owner
// serialization lock could not be acquired in time.
func LockTimeoutError(owner string, err error) *ReconcilerError {
	return wrapOrNew(err, CategoryLocking, CodeLockTimeout,
		fmt.Sprintf("timed out waiting for the import lock of %s", owner)).
		WithSuggestion("another import for this owner may be running; the job will be retried").
		WithContext("owner", owner)
}

// StorageError creates a storage-related error
func StorageError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeNotFound:
		message = fmt.Sprintf("record not found during %s", operation)
		suggestion = "verify the referenced job or transaction exists"
	case CodeDuplicateRow:
		message = fmt.Sprintf("duplicate row detected during %s", operation)
		suggestion = "the statement may have been imported already"
	case CodeTransactionAbort:
		message = fmt.Sprintf("storage transaction aborted during %s", operation)
		suggestion = "retry the import; the batch was rolled back"
	default:
		message = fmt.Sprintf("storage error during %s", operation)
		suggestion = "check storage availability and try again"
	}

	return wrapOrNew(err, CategoryStorage, code, message).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "ensure amounts are decimal numbers such as '12.34' or '1.234,56'"
	case CodeInvalidScope:
		message = fmt.Sprintf("invalid owner scope in field '%s': %v", field, value)
		suggestion = "set exactly one of event or organizer"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return wrapOrNew(err, CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return wrapOrNew(err, CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ReconciliationError creates a reconciliation-related error
func ReconciliationError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeMatchingFailed:
		message = fmt.Sprintf("matching failed during %s", operation)
		suggestion = "check the reference patterns and order data for this owner"
	case CodeProcessingError:
		message = fmt.Sprintf("processing error during %s", operation)
		suggestion = "review the transaction data and retry the job"
	default:
		message = fmt.Sprintf("reconciliation error during %s", operation)
		suggestion = "review the data and configuration"
	}

	return wrapOrNew(err, CategoryReconciliation, code, message).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// PaymentError creates a payment-provider related error
func PaymentError(code ErrorCode, provider string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeProviderError:
		message = fmt.Sprintf("payment provider '%s' reported an error", provider)
		suggestion = "the failure was logged against the order; no rollback required"
	case CodeQuotaExceeded:
		message = fmt.Sprintf("quota exceeded while confirming payment via '%s'", provider)
		suggestion = "the payment stays confirmed; order capacity needs operator review"
	case CodeMailSendFailed:
		message = fmt.Sprintf("notification mail could not be sent for provider '%s'", provider)
		suggestion = "the payment stays confirmed; resend the notification manually"
	default:
		message = fmt.Sprintf("payment error for provider '%s'", provider)
		suggestion = "review the order's payment history"
	}

	return wrapOrNew(err, CategoryPayment, code, message).
		WithSuggestion(suggestion).
		WithContext("provider", provider)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *ReconcilerError {
	return wrapOrNew(err, CategoryInternal, CodeUnexpectedError,
		fmt.Sprintf("unexpected error during %s", operation)).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ReconcilerError    `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	count, exists := es.ByCategory[category]
	return exists && count > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// Utility functions

// IsReconcilerError checks if an error is a ReconcilerError
func IsReconcilerError(err error) bool {
	_, ok := err.(*ReconcilerError)
	return ok
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// IsLockTimeout reports whether err is a lock-acquisition timeout anywhere
// in its chain. The import job retry policy keys off this check.
func IsLockTimeout(err error) bool {
	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr.Code == CodeLockTimeout
	}
	return false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
