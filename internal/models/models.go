package models

import "time"

// Media status lifecycle. PENDING is the only non-terminal state: a record
// enters it at creation and leaves it exactly once, to READY or FAILED.
const (
	MediaStatusPending = "PENDING"
	MediaStatusReady   = "READY"
	MediaStatusFailed  = "FAILED"
)

// MaxProcessingErrorLength caps the failure detail stored on a media record.
const MaxProcessingErrorLength = 512

// Media is a playback asset tracked through the transcoding pipeline.
//
// DeclaredSize is the byte length of the originally submitted payload and is
// non-nil iff Status == PENDING; the admission controller sums it across all
// pending records, so it must be cleared on every terminal transition.
type Media struct {
	ID              string            `json:"id"`
	Name            string            `json:"name,omitempty"`
	GroupIDs        []string          `json:"groupIds"`
	Status          string            `json:"status"`
	URL             string            `json:"url,omitempty"`
	ProcessingError string            `json:"processingError,omitempty"`
	DeclaredSize    *int64            `json:"declaredSize,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Pending reports whether the record still counts toward the pending budget.
func (m Media) Pending() bool {
	return m.Status == MediaStatusPending
}

// Terminal reports whether the record reached READY or FAILED.
func (m Media) Terminal() bool {
	return m.Status == MediaStatusReady || m.Status == MediaStatusFailed
}

// Group is the visibility scope media records are attached to. Group
// lifecycle beyond create/list/delete is out of scope for this service.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
