package upload_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"jan-server/services/upload-api/internal/domain/upload"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantCode     string
		wantSeverity upload.Severity
	}{
		{"forbidden means expired url", http.StatusForbidden, upload.CodeURLExpired, upload.SeverityReissue},
		{"throttling is transient", http.StatusTooManyRequests, upload.CodeTransientTransfer, upload.SeverityRetryable},
		{"server error is transient", http.StatusInternalServerError, upload.CodeTransientTransfer, upload.SeverityRetryable},
		{"bad gateway is transient", http.StatusBadGateway, upload.CodeTransientTransfer, upload.SeverityRetryable},
		{"bad request is fatal", http.StatusBadRequest, upload.CodeValidation, upload.SeverityFatal},
		{"not found is fatal", http.StatusNotFound, upload.CodeValidation, upload.SeverityFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := upload.ClassifyStatus(tt.status)
			if err.Code != tt.wantCode {
				t.Errorf("ClassifyStatus(%d).Code = %s, want %s", tt.status, err.Code, tt.wantCode)
			}
			if err.Severity != tt.wantSeverity {
				t.Errorf("ClassifyStatus(%d).Severity = %s, want %s", tt.status, err.Severity, tt.wantSeverity)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("context cancellation maps to cancelled", func(t *testing.T) {
		err := upload.Classify(context.Canceled)
		if err.Code != upload.CodeCancelled {
			t.Errorf("Classify(context.Canceled).Code = %s, want %s", err.Code, upload.CodeCancelled)
		}
		if !err.IsFatal() {
			t.Error("cancelled transfer must not be retried")
		}
	})

	t.Run("deadline maps to cancelled", func(t *testing.T) {
		err := upload.Classify(fmt.Errorf("request: %w", context.DeadlineExceeded))
		if err.Code != upload.CodeCancelled {
			t.Errorf("Classify(deadline).Code = %s, want %s", err.Code, upload.CodeCancelled)
		}
	})

	t.Run("structured errors pass through", func(t *testing.T) {
		orig := upload.NewError(upload.CodeURLExpired, "expired", upload.SeverityReissue)
		got := upload.Classify(fmt.Errorf("wrapped: %w", orig))
		if got != orig {
			t.Errorf("Classify() = %v, want the original structured error", got)
		}
	})

	t.Run("plain errors become transient", func(t *testing.T) {
		err := upload.Classify(errors.New("connection reset"))
		if err.Code != upload.CodeTransientTransfer {
			t.Errorf("Classify(plain).Code = %s, want %s", err.Code, upload.CodeTransientTransfer)
		}
		if !err.IsRetryable() {
			t.Error("transient error must be retryable")
		}
	})
}

func TestErrorFormatting(t *testing.T) {
	plain := upload.NewError(upload.CodeSizeMismatch, "stored 10 bytes, expected 12", upload.SeverityFatal)
	if got := plain.Error(); got != "SIZE_MISMATCH: stored 10 bytes, expected 12" {
		t.Errorf("Error() = %q", got)
	}

	cause := errors.New("boom")
	wrapped := upload.WrapError(cause, upload.CodeTransientTransfer, "put failed", upload.SeverityRetryable)
	if got := wrapped.Error(); got != "TRANSIENT_TRANSFER_ERROR: put failed: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error does not unwrap to its cause")
	}
}

func TestErrorDetails(t *testing.T) {
	err := upload.NewError(upload.CodeURLExpired, "expired", upload.SeverityReissue).
		WithDetail("part_number", 4).
		WithDetail("attempt", 2)
	if err.Details["part_number"] != 4 {
		t.Errorf("Details[part_number] = %v, want 4", err.Details["part_number"])
	}
	if err.Details["attempt"] != 2 {
		t.Errorf("Details[attempt] = %v, want 2", err.Details["attempt"])
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", upload.NewValidation("bad size"))
	if !upload.IsCode(err, upload.CodeValidation) {
		t.Error("IsCode() failed to find the validation code in a wrapped chain")
	}
	if upload.IsCode(err, upload.CodeSizeMismatch) {
		t.Error("IsCode() matched the wrong code")
	}
	if upload.IsCode(errors.New("plain"), upload.CodeValidation) {
		t.Error("IsCode() matched a plain error")
	}
}
