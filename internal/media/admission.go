package media

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const bytesPerGiB = int64(1024 * 1024 * 1024)

// DefaultMaxPendingBytes caps the combined declared size of PENDING
// submissions at 5 GiB unless the operator overrides it.
const DefaultMaxPendingBytes = 5 * bytesPerGiB

var reasonPrinter = message.NewPrinter(language.English)

// checkAdmission applies the pending-bytes budget to a candidate submission.
// Equality is allowed: a candidate that lands exactly on the limit is
// admitted. The check is advisory; two concurrent submissions may both read
// the same pending total and momentarily overshoot the budget.
func checkAdmission(currentBytes, maxBytes, candidateBytes int64) error {
	if maxBytes <= 0 {
		return nil
	}
	if currentBytes+candidateBytes <= maxBytes {
		return nil
	}
	return &CapacityError{
		CurrentBytes:   currentBytes,
		MaxBytes:       maxBytes,
		CandidateBytes: candidateBytes,
	}
}

func capacityReason(currentBytes, maxBytes, candidateBytes int64) string {
	return reasonPrinter.Sprintf(
		"pending media limit exceeded: %s pending + %s candidate over %s limit",
		formatGigabytes(currentBytes),
		formatGigabytes(candidateBytes),
		formatGigabytes(maxBytes),
	)
}

func formatGigabytes(bytes int64) string {
	return fmt.Sprintf("%.2f GB (%s bytes)",
		float64(bytes)/float64(bytesPerGiB),
		reasonPrinter.Sprintf("%d", bytes),
	)
}
