package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "validation error",
			category:   CategoryValidation,
			code:       CodeInvalidAmount,
			message:    "invalid amount",
			cause:      errors.New("not a number"),
			expectCode: 2,
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeInvalidConfig,
			message:    "invalid config",
			cause:      nil,
			expectCode: 3,
		},
		{
			name:       "locking error",
			category:   CategoryLocking,
			code:       CodeLockTimeout,
			message:    "lock timed out",
			cause:      errors.New("busy"),
			expectCode: 4,
		},
		{
			name:       "reconciliation error",
			category:   CategoryReconciliation,
			code:       CodeProcessingError,
			message:    "processing failed",
			cause:      nil,
			expectCode: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.Error() != tt.message {
				t.Errorf("expected error string %s, got %s", tt.message, err.Error())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
		})
	}
}

func TestReconcilerErrorWithContext(t *testing.T) {
	err := New(CategoryStorage, CodeNotFound, "test error").
		WithContext("job_id", "job-1").
		WithContext("attempt", 3).
		WithSuggestion("check the job id")

	if err.Context["job_id"] != "job-1" {
		t.Errorf("expected job_id context, got %v", err.Context["job_id"])
	}
	if err.Context["attempt"] != 3 {
		t.Errorf("expected attempt context 3, got %v", err.Context["attempt"])
	}
	if err.Suggestion != "check the job id" {
		t.Errorf("expected suggestion, got %s", err.Suggestion)
	}

	expected := "test error (suggestion: check the job id)"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}
}

func TestLockTimeoutError(t *testing.T) {
	err := LockTimeoutError("event:democon", nil)

	if err.Category != CategoryLocking {
		t.Errorf("expected locking category, got %s", err.Category)
	}
	if err.Code != CodeLockTimeout {
		t.Errorf("expected lock timeout code, got %s", err.Code)
	}
	if err.Context["owner"] != "event:democon" {
		t.Errorf("expected owner context, got %v", err.Context["owner"])
	}
	if !IsLockTimeout(err) {
		t.Error("expected IsLockTimeout to detect the error")
	}
}

func TestIsLockTimeoutThroughChain(t *testing.T) {
	inner := LockTimeoutError("organizer:bigevents", nil)
	wrapped := fmt.Errorf("import attempt failed: %w", inner)

	if !IsLockTimeout(wrapped) {
		t.Error("expected IsLockTimeout to look through wrapping")
	}
	if IsLockTimeout(errors.New("something else")) {
		t.Error("generic errors must not count as lock timeouts")
	}
	if IsLockTimeout(nil) {
		t.Error("nil must not count as a lock timeout")
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("StorageError", func(t *testing.T) {
		cause := errors.New("row vanished")
		err := StorageError(CodeNotFound, "job lookup", cause)

		if err.Category != CategoryStorage {
			t.Errorf("expected storage category, got %s", err.Category)
		}
		if err.Context["operation"] != "job lookup" {
			t.Errorf("expected operation context, got %v", err.Context["operation"])
		}
		if err.Suggestion == "" {
			t.Error("expected suggestion to be set")
		}
		if err.Cause != cause {
			t.Errorf("expected cause to be %v, got %v", cause, err.Cause)
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError(CodeInvalidAmount, "amount", "12.3.4,5", nil)

		if err.Category != CategoryValidation {
			t.Errorf("expected validation category, got %s", err.Category)
		}
		if err.Context["field"] != "amount" {
			t.Errorf("expected field context, got %v", err.Context["field"])
		}
		if err.Context["value"] != "12.3.4,5" {
			t.Errorf("expected value context, got %v", err.Context["value"])
		}
	})

	t.Run("PaymentError", func(t *testing.T) {
		err := PaymentError(CodeQuotaExceeded, "banktransfer", nil)

		if err.Category != CategoryPayment {
			t.Errorf("expected payment category, got %s", err.Category)
		}
		if err.Context["provider"] != "banktransfer" {
			t.Errorf("expected provider context, got %v", err.Context["provider"])
		}
	})
}

func TestErrorSummary(t *testing.T) {
	errs := []*ReconcilerError{
		New(CategoryStorage, CodeNotFound, "error 1"),
		New(CategoryStorage, CodeDuplicateRow, "error 2"),
		New(CategoryLocking, CodeLockTimeout, "error 3"),
		New(CategoryValidation, CodeInvalidAmount, "error 4"),
	}

	summary := NewErrorSummary(errs)

	if summary.Total != 4 {
		t.Errorf("expected total 4, got %d", summary.Total)
	}
	if summary.ByCategory[CategoryStorage] != 2 {
		t.Errorf("expected 2 storage errors, got %d", summary.ByCategory[CategoryStorage])
	}
	if summary.ByCode[CodeLockTimeout] != 1 {
		t.Errorf("expected 1 lock timeout, got %d", summary.ByCode[CodeLockTimeout])
	}
	if !summary.HasCategory(CategoryLocking) {
		t.Error("expected to have locking category")
	}
	if summary.HasCategory(CategoryPayment) {
		t.Error("expected not to have payment category")
	}
	if summary.GetExitCode() != 4 {
		t.Errorf("expected highest exit code 4, got %d", summary.GetExitCode())
	}
}

func TestEmptyErrorSummary(t *testing.T) {
	summary := NewErrorSummary(nil)

	if summary.Total != 0 {
		t.Errorf("expected total 0, got %d", summary.Total)
	}
	if summary.Error() != "no errors" {
		t.Errorf("expected 'no errors', got '%s'", summary.Error())
	}
	if summary.GetExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", summary.GetExitCode())
	}
}

func TestWrapIfNeeded(t *testing.T) {
	reconcilerErr := New(CategoryStorage, CodeNotFound, "test")
	genericErr := errors.New("generic error")

	result1 := WrapIfNeeded(reconcilerErr, CategoryReconciliation, CodeProcessingError, "wrapped")
	if result1 != reconcilerErr {
		t.Error("expected WrapIfNeeded to return original ReconcilerError")
	}

	result2 := WrapIfNeeded(genericErr, CategoryReconciliation, CodeProcessingError, "wrapped")
	if result2.Cause != genericErr {
		t.Error("expected WrapIfNeeded to wrap generic error")
	}
	if result2.Category != CategoryReconciliation {
		t.Error("expected wrapped error to have correct category")
	}

	if WrapIfNeeded(nil, CategoryReconciliation, CodeProcessingError, "wrapped") != nil {
		t.Error("expected WrapIfNeeded to return nil for nil input")
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		category     ErrorCategory
		expectedCode int
	}{
		{CategoryValidation, 2},
		{CategoryConfiguration, 3},
		{CategoryStorage, 4},
		{CategoryLocking, 4},
		{CategoryReconciliation, 5},
		{CategoryPayment, 5},
		{CategoryInternal, 5},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := New(tt.category, "test_code", "test message")
			if err.GetExitCode() != tt.expectedCode {
				t.Errorf("expected exit code %d for category %s, got %d",
					tt.expectedCode, tt.category, err.GetExitCode())
			}
		})
	}
}
