// Package media implements the ingestion pipeline: admission control over a
// pending-bytes budget, asynchronous transcoding of accepted payloads, and
// the READY-only playlist projection served to players.
package media

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/models"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/observability/metrics"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/storage"
)

// AckMessage is returned verbatim for every accepted submission. Clients key
// off the media id, not the message.
const AckMessage = "video accepted and queued for processing"

// Enqueuer hands accepted media ids to the background pipeline.
type Enqueuer interface {
	Enqueue(id string)
}

type ServiceConfig struct {
	Store           storage.Repository
	Queue           Enqueuer
	ScratchDir      string
	MaxPendingBytes int64
	Logger          *slog.Logger
	PlaylistCache   *PlaylistCache
}

type Service struct {
	store           storage.Repository
	queue           Enqueuer
	scratchDir      string
	maxPendingBytes int64
	logger          *slog.Logger
	cache           *PlaylistCache
}

func NewService(cfg ServiceConfig) *Service {
	maxPending := cfg.MaxPendingBytes
	if maxPending == 0 {
		maxPending = DefaultMaxPendingBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:           cfg.Store,
		queue:           cfg.Queue,
		scratchDir:      cfg.ScratchDir,
		maxPendingBytes: maxPending,
		logger:          logger,
		cache:           cfg.PlaylistCache,
	}
}

// SubmitParams carries an uploaded payload together with its placement.
type SubmitParams struct {
	Name        string
	GroupIDs    []string
	ContentType string
	Payload     []byte
}

// Submit admits, registers, and queues a new video. It returns as soon as the
// record is durable and enqueued; transcoding happens on the worker pool.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (models.Media, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		metrics.ObserveSubmission("rejected_invalid")
		return models.Media{}, validationErrorf("name is required")
	}
	if len(params.Payload) == 0 {
		metrics.ObserveSubmission("rejected_invalid")
		return models.Media{}, validationErrorf("video payload is required")
	}
	groupIDs, err := s.resolveGroupIDs(params.GroupIDs)
	if err != nil {
		metrics.ObserveSubmission("rejected_invalid")
		return models.Media{}, err
	}

	candidate := int64(len(params.Payload))
	pending, err := s.store.SumPendingMediaBytes()
	if err != nil {
		return models.Media{}, fmt.Errorf("compute pending bytes: %w", err)
	}
	if err := checkAdmission(pending, s.maxPendingBytes, candidate); err != nil {
		metrics.ObserveSubmission("rejected_capacity")
		return models.Media{}, err
	}

	digest := blake2b.Sum256(params.Payload)
	metadata := map[string]string{
		"digest": hex.EncodeToString(digest[:]),
	}
	if contentType := strings.TrimSpace(params.ContentType); contentType != "" {
		metadata["contentType"] = contentType
	}

	media, err := s.store.CreateMedia(storage.CreateMediaParams{
		Name:         name,
		GroupIDs:     groupIDs,
		Status:       models.MediaStatusPending,
		DeclaredSize: &candidate,
		Metadata:     metadata,
	})
	if err != nil {
		return models.Media{}, fmt.Errorf("register media: %w", err)
	}

	if err := s.spoolPayload(media.ID, params.Payload); err != nil {
		s.failSubmission(media.ID, err)
		return models.Media{}, fmt.Errorf("spool payload: %w", err)
	}

	if s.queue != nil {
		s.queue.Enqueue(media.ID)
	}
	metrics.ObserveSubmission("accepted")
	metrics.SetPendingBytes(pending + candidate)
	s.invalidatePlaylists(ctx, media.GroupIDs)
	s.logger.Info("media submitted",
		"media_id", media.ID,
		"declared_size", candidate,
		"groups", len(media.GroupIDs),
	)
	return media, nil
}

// CreateFromURL registers an already-hosted video. No payload crosses the
// pipeline, so the record is READY immediately and never counts against the
// pending budget.
func (s *Service) CreateFromURL(ctx context.Context, name, rawURL string, groupIDs []string) (models.Media, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Media{}, validationErrorf("name is required")
	}
	trimmedURL := strings.TrimSpace(rawURL)
	if trimmedURL == "" {
		return models.Media{}, validationErrorf("url is required")
	}
	parsed, err := url.Parse(trimmedURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return models.Media{}, validationErrorf("url %q is not absolute", trimmedURL)
	}
	resolved, err := s.resolveGroupIDs(groupIDs)
	if err != nil {
		return models.Media{}, err
	}

	media, err := s.store.CreateMedia(storage.CreateMediaParams{
		Name:     name,
		GroupIDs: resolved,
		Status:   models.MediaStatusReady,
		URL:      trimmedURL,
	})
	if err != nil {
		return models.Media{}, fmt.Errorf("register media: %w", err)
	}
	s.invalidatePlaylists(ctx, media.GroupIDs)
	s.logger.Info("media registered from url", "media_id", media.ID)
	return media, nil
}

// resolveGroupIDs trims the requested ids, drops blanks, and verifies each
// remaining group exists. A set that is empty after trimming is invalid.
func (s *Service) resolveGroupIDs(groupIDs []string) ([]string, error) {
	resolved := make([]string, 0, len(groupIDs))
	for _, groupID := range groupIDs {
		trimmed := strings.TrimSpace(groupID)
		if trimmed == "" {
			continue
		}
		if _, ok := s.store.GetGroup(trimmed); !ok {
			return nil, &NotFoundError{Resource: "group", ID: trimmed}
		}
		resolved = append(resolved, trimmed)
	}
	if len(resolved) == 0 {
		return nil, validationErrorf("at least one group is required")
	}
	return resolved, nil
}

// UpdateParams carries the mutable submission attributes. Nil fields are left
// untouched; the pipeline retains sole ownership of status, url, and the
// processing error.
type UpdateParams struct {
	Name     *string
	GroupIDs []string
}

// Update renames a record or moves it between groups.
func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (models.Media, error) {
	current, ok := s.store.GetMedia(id)
	if !ok {
		return models.Media{}, storage.ErrMediaNotFound
	}

	var update storage.MediaUpdate
	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" {
			return models.Media{}, validationErrorf("name is required")
		}
		update.Name = &name
	}
	if params.GroupIDs != nil {
		resolved, err := s.resolveGroupIDs(params.GroupIDs)
		if err != nil {
			return models.Media{}, err
		}
		update.GroupIDs = resolved
	}
	if update.Name == nil && update.GroupIDs == nil {
		return current, nil
	}

	updated, err := s.store.UpdateMedia(id, update)
	if err != nil {
		return models.Media{}, err
	}
	s.invalidatePlaylists(ctx, current.GroupIDs)
	if update.GroupIDs != nil {
		s.invalidatePlaylists(ctx, updated.GroupIDs)
	}
	s.logger.Info("media updated", "media_id", id, "groups", len(updated.GroupIDs))
	return updated, nil
}

func (s *Service) Get(id string) (models.Media, bool) {
	return s.store.GetMedia(id)
}

func (s *Service) List() []models.Media {
	return s.store.ListMedia()
}

// Playlist returns the READY records visible to the requested groups, newest
// first. Results are cached briefly when a playlist cache is configured.
func (s *Service) Playlist(ctx context.Context, groupIDs []string) []models.Media {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, groupIDs); ok {
			return cached
		}
	}
	media := s.store.ListGroupMedia(groupIDs)
	if s.cache != nil {
		s.cache.Set(ctx, groupIDs, media)
	}
	return media
}

// Delete removes the record and makes a best-effort attempt to remove the
// published object. A failed object delete is logged, not surfaced; the
// record removal is what players observe.
func (s *Service) Delete(ctx context.Context, id string) error {
	media, ok := s.store.GetMedia(id)
	if !ok {
		return storage.ErrMediaNotFound
	}
	if err := s.store.DeleteMedia(id); err != nil {
		return err
	}
	objects := s.store.ObjectStore()
	if objects.Enabled() {
		if key := strings.TrimSpace(media.Metadata["objectKey"]); key != "" {
			if err := objects.Delete(ctx, key); err != nil {
				s.logger.Warn("object delete failed", "media_id", id, "key", key, "error", err)
			}
		}
	}
	s.removeSpool(id)
	s.invalidatePlaylists(ctx, media.GroupIDs)
	return nil
}

func (s *Service) invalidatePlaylists(ctx context.Context, groupIDs []string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, groupIDs)
}

// failSubmission marks a freshly created record FAILED when its payload never
// made it onto the spool.
func (s *Service) failSubmission(id string, cause error) {
	failed := models.MediaStatusFailed
	message := truncateProcessingError(cause.Error())
	if _, err := s.store.UpdateMedia(id, storage.MediaUpdate{
		Status:            &failed,
		ProcessingError:   &message,
		ClearDeclaredSize: true,
	}); err != nil {
		s.logger.Error("failed to record spool failure", "media_id", id, "error", err)
	}
}

func (s *Service) spoolPayload(id string, payload []byte) error {
	path := SpoolPath(s.scratchDir, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare scratch directory: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write scratch payload: %w", err)
	}
	return nil
}

func (s *Service) removeSpool(id string) {
	if err := os.Remove(SpoolPath(s.scratchDir, id)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("scratch cleanup failed", "media_id", id, "error", err)
	}
}

// SpoolPath is the scratch location holding the raw payload for a submission
// until the pipeline consumes it.
func SpoolPath(scratchDir, id string) string {
	return filepath.Join(scratchDir, id+".upload")
}

// OutputPath is the scratch location the engine writes the normalised
// rendition to before publication.
func OutputPath(scratchDir, id string) string {
	return filepath.Join(scratchDir, id+".out.mp4")
}

// ObjectKey is the bucket key a published rendition lives under.
func ObjectKey(id string) string {
	return fmt.Sprintf("media/video/%s.mp4", id)
}
