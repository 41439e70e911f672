package storage

import (
	"context"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/models"
)

// Repository exposes the datastore operations required by the ingestion
// pipeline, the playlist projection, and the API handlers.
type Repository interface {
	Ping(ctx context.Context) error
	ObjectStore() ObjectStore

	CreateMedia(params CreateMediaParams) (models.Media, error)
	GetMedia(id string) (models.Media, bool)
	UpdateMedia(id string, update MediaUpdate) (models.Media, error)
	ListMedia() []models.Media
	ListGroupMedia(groupIDs []string) []models.Media
	ListPendingMedia() []models.Media
	SumPendingMediaBytes() (int64, error)
	DeleteMedia(id string) error

	CreateGroup(name string) (models.Group, error)
	GetGroup(id string) (models.Group, bool)
	ListGroups() []models.Group
	DeleteGroup(id string) error
}

var _ Repository = (*Storage)(nil)
