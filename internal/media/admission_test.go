package media

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckAdmissionAllowsExactBoundary(t *testing.T) {
	if err := checkAdmission(4, 10, 6); err != nil {
		t.Fatalf("boundary submission rejected: %v", err)
	}
}

func TestCheckAdmissionRejectsOverBudget(t *testing.T) {
	err := checkAdmission(4, 10, 7)
	if err == nil {
		t.Fatal("expected capacity error")
	}
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("err = %T, want *CapacityError", err)
	}
	if capErr.CurrentBytes != 4 || capErr.MaxBytes != 10 || capErr.CandidateBytes != 7 {
		t.Fatalf("unexpected capacity error: %+v", capErr)
	}
}

func TestCheckAdmissionUnlimitedWhenMaxNonPositive(t *testing.T) {
	if err := checkAdmission(1<<40, 0, 1<<40); err != nil {
		t.Fatalf("unlimited budget rejected: %v", err)
	}
}

func TestCapacityReasonNamesAllThreeQuantities(t *testing.T) {
	err := &CapacityError{
		CurrentBytes:   4 * bytesPerGiB,
		MaxBytes:       5 * bytesPerGiB,
		CandidateBytes: 2 * bytesPerGiB,
	}
	msg := err.Error()
	for _, want := range []string{"4.00 GB", "5.00 GB", "2.00 GB", "pending media limit exceeded"} {
		if !strings.Contains(msg, want) {
			t.Errorf("reason missing %q: %s", want, msg)
		}
	}
	// Byte counts carry thousands separators for operator readability.
	if !strings.Contains(msg, "5,368,709,120") {
		t.Errorf("reason missing separated byte count: %s", msg)
	}
}

func TestTruncateProcessingErrorCapsLength(t *testing.T) {
	long := strings.Repeat("x", 2000)
	got := truncateProcessingError(long)
	if len(got) != 512 {
		t.Fatalf("len = %d, want 512", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated message should end with ellipsis: %q", got[500:])
	}
	if short := truncateProcessingError("boom"); short != "boom" {
		t.Fatalf("short message altered: %q", short)
	}
}
