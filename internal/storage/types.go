package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/models"
)

var (
	// ErrMediaNotFound is returned when a media record does not exist.
	ErrMediaNotFound = errors.New("media not found")
	// ErrGroupNotFound is returned when a group does not exist.
	ErrGroupNotFound = errors.New("group not found")
)

type dataset struct {
	Media  map[string]models.Media `json:"media"`
	Groups map[string]models.Group `json:"groups"`
}

type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error

	objectStorage ObjectStorageConfig
	objectStore   ObjectStore
}

// ObjectStorageConfig describes the S3-compatible bucket used for publishing
// transcoded media.
type ObjectStorageConfig struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	Prefix         string
	UseSSL         bool
	PublicEndpoint string
	RequestTimeout time.Duration
}

const defaultObjectStorageRequestTimeout = 30 * time.Second

// ObjectStore is the gateway used to publish and remove media blobs.
type ObjectStore interface {
	Enabled() bool
	Upload(ctx context.Context, key, contentType string, body []byte) (ObjectRef, error)
	Delete(ctx context.Context, key string) error
}

// ObjectRef identifies a stored object together with its public retrieval URL.
type ObjectRef struct {
	Key string
	URL string
}

// CreateMediaParams captures the attributes set when registering a media record.
type CreateMediaParams struct {
	Name         string
	GroupIDs     []string
	Status       string
	URL          string
	DeclaredSize *int64
	Metadata     map[string]string
}

// MediaUpdate describes the mutable fields of a media record. Nil pointers
// leave the corresponding field untouched; ClearDeclaredSize drops the pending
// byte count when the record leaves PENDING.
type MediaUpdate struct {
	Name              *string
	GroupIDs          []string
	Status            *string
	URL               *string
	ProcessingError   *string
	ClearDeclaredSize bool
	Metadata          map[string]string
}
