package media

import (
	"fmt"
	"strings"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/models"
)

// ValidationError reports a submission the caller can fix.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a submission referencing a group that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s does not exist", e.Resource, e.ID)
}

// CapacityError reports an admission rejection. The pipeline is healthy; the
// pending budget simply has no room for the candidate right now.
type CapacityError struct {
	CurrentBytes   int64
	MaxBytes       int64
	CandidateBytes int64
}

func (e *CapacityError) Error() string {
	return capacityReason(e.CurrentBytes, e.MaxBytes, e.CandidateBytes)
}

// TranscodeError marks a failure produced by the engine step, including
// timeouts. It is recorded on the media record, never returned to a caller.
type TranscodeError struct {
	Err error
}

func (e *TranscodeError) Error() string { return e.Err.Error() }

func (e *TranscodeError) Unwrap() error { return e.Err }

// PublishError marks an object-storage failure after a successful transcode.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return "publish rendition: " + e.Err.Error() }

func (e *PublishError) Unwrap() error { return e.Err }

// truncateProcessingError caps stored failure messages so a pathological
// encoder log cannot bloat the datastore.
func truncateProcessingError(message string) string {
	message = strings.TrimSpace(message)
	if len(message) <= models.MaxProcessingErrorLength {
		return message
	}
	return message[:models.MaxProcessingErrorLength-3] + "..."
}
