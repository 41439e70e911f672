package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/models"
)

func (s *Storage) CreateMedia(params CreateMediaParams) (models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

	groupIDs := make([]string, 0, len(params.GroupIDs))
	for _, groupID := range params.GroupIDs {
		trimmed := strings.TrimSpace(groupID)
		if trimmed == "" {
			continue
		}
		if _, ok := s.data.Groups[trimmed]; !ok {
			return models.Media{}, fmt.Errorf("group %s: %w", trimmed, ErrGroupNotFound)
		}
		groupIDs = append(groupIDs, trimmed)
	}
	if len(groupIDs) == 0 {
		return models.Media{}, fmt.Errorf("at least one group is required")
	}

	status := strings.TrimSpace(params.Status)
	if status == "" {
		status = models.MediaStatusPending
	}
	switch status {
	case models.MediaStatusPending, models.MediaStatusReady, models.MediaStatusFailed:
	default:
		return models.Media{}, fmt.Errorf("invalid media status %q", status)
	}

	id, err := generateID()
	if err != nil {
		return models.Media{}, err
	}

	now := time.Now().UTC()
	media := models.Media{
		ID:        id,
		Name:      strings.TrimSpace(params.Name),
		GroupIDs:  groupIDs,
		Status:    status,
		URL:       strings.TrimSpace(params.URL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if params.DeclaredSize != nil {
		size := *params.DeclaredSize
		media.DeclaredSize = &size
	}
	if len(params.Metadata) > 0 {
		meta := make(map[string]string, len(params.Metadata))
		for k, v := range params.Metadata {
			if strings.TrimSpace(k) == "" {
				continue
			}
			meta[k] = v
		}
		media.Metadata = meta
	}

	s.data.Media[id] = media
	if err := s.persist(); err != nil {
		delete(s.data.Media, id)
		return models.Media{}, err
	}
	return cloneMedia(media), nil
}

func (s *Storage) GetMedia(id string) (models.Media, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	media, ok := s.data.Media[id]
	if !ok {
		return models.Media{}, false
	}
	return cloneMedia(media), true
}

func (s *Storage) UpdateMedia(id string, update MediaUpdate) (models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	media, ok := s.data.Media[id]
	if !ok {
		return models.Media{}, fmt.Errorf("media %s: %w", id, ErrMediaNotFound)
	}

	original := media

	if update.Name != nil {
		media.Name = strings.TrimSpace(*update.Name)
	}
	if update.GroupIDs != nil {
		groupIDs := make([]string, 0, len(update.GroupIDs))
		for _, groupID := range update.GroupIDs {
			trimmed := strings.TrimSpace(groupID)
			if trimmed == "" {
				continue
			}
			if _, exists := s.data.Groups[trimmed]; !exists {
				return models.Media{}, fmt.Errorf("group %s: %w", trimmed, ErrGroupNotFound)
			}
			groupIDs = append(groupIDs, trimmed)
		}
		if len(groupIDs) == 0 {
			return models.Media{}, fmt.Errorf("at least one group is required")
		}
		media.GroupIDs = groupIDs
	}
	if update.Status != nil {
		status := strings.TrimSpace(*update.Status)
		switch status {
		case models.MediaStatusPending, models.MediaStatusReady, models.MediaStatusFailed:
		default:
			return models.Media{}, fmt.Errorf("invalid media status %q", status)
		}
		media.Status = status
	}
	if update.URL != nil {
		media.URL = strings.TrimSpace(*update.URL)
	}
	if update.ProcessingError != nil {
		media.ProcessingError = strings.TrimSpace(*update.ProcessingError)
	}
	if update.ClearDeclaredSize {
		media.DeclaredSize = nil
	}
	if update.Metadata != nil {
		if media.Metadata == nil {
			media.Metadata = make(map[string]string, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			if strings.TrimSpace(k) == "" {
				continue
			}
			if v == "" {
				delete(media.Metadata, k)
				continue
			}
			media.Metadata[k] = v
		}
	}

	media.UpdatedAt = time.Now().UTC()

	s.data.Media[id] = media
	if err := s.persist(); err != nil {
		s.data.Media[id] = original
		return models.Media{}, err
	}
	return cloneMedia(media), nil
}

func (s *Storage) ListMedia() []models.Media {
	s.mu.RLock()
	defer s.mu.RUnlock()

	media := make([]models.Media, 0, len(s.data.Media))
	for _, item := range s.data.Media {
		media = append(media, cloneMedia(item))
	}
	sortMediaNewestFirst(media)
	return media
}

// ListGroupMedia returns READY records visible to at least one of the
// requested groups, newest first. PENDING and FAILED records are never
// included regardless of group membership.
func (s *Storage) ListGroupMedia(groupIDs []string) []models.Media {
	requested := make(map[string]struct{}, len(groupIDs))
	for _, groupID := range groupIDs {
		if trimmed := strings.TrimSpace(groupID); trimmed != "" {
			requested[trimmed] = struct{}{}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	media := make([]models.Media, 0)
	if len(requested) == 0 {
		return media
	}
	for _, item := range s.data.Media {
		if item.Status != models.MediaStatusReady {
			continue
		}
		for _, groupID := range item.GroupIDs {
			if _, ok := requested[groupID]; ok {
				media = append(media, cloneMedia(item))
				break
			}
		}
	}
	sortMediaNewestFirst(media)
	return media
}

func (s *Storage) ListPendingMedia() []models.Media {
	s.mu.RLock()
	defer s.mu.RUnlock()

	media := make([]models.Media, 0)
	for _, item := range s.data.Media {
		if item.Status != models.MediaStatusPending {
			continue
		}
		media = append(media, cloneMedia(item))
	}
	sortMediaNewestFirst(media)
	return media
}

// SumPendingMediaBytes totals DeclaredSize across PENDING records. The value
// is a point-in-time read; concurrent submissions may move it immediately
// afterwards.
func (s *Storage) SumPendingMediaBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, item := range s.data.Media {
		if item.Status != models.MediaStatusPending || item.DeclaredSize == nil {
			continue
		}
		total += *item.DeclaredSize
	}
	return total, nil
}

func (s *Storage) DeleteMedia(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	media, ok := s.data.Media[id]
	if !ok {
		return fmt.Errorf("media %s: %w", id, ErrMediaNotFound)
	}
	delete(s.data.Media, id)
	if err := s.persist(); err != nil {
		s.data.Media[id] = media
		return err
	}
	return nil
}

func sortMediaNewestFirst(media []models.Media) {
	sort.Slice(media, func(i, j int) bool {
		if media[i].CreatedAt.Equal(media[j].CreatedAt) {
			return media[i].ID < media[j].ID
		}
		return media[i].CreatedAt.After(media[j].CreatedAt)
	})
}
