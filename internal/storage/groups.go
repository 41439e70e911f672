package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/models"
)

func (s *Storage) CreateGroup(name string) (models.Group, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return models.Group{}, fmt.Errorf("group name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

	for _, group := range s.data.Groups {
		if strings.EqualFold(group.Name, trimmed) {
			return models.Group{}, fmt.Errorf("group %q already exists", trimmed)
		}
	}

	id, err := generateID()
	if err != nil {
		return models.Group{}, err
	}

	now := time.Now().UTC()
	group := models.Group{
		ID:        id,
		Name:      trimmed,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.data.Groups[id] = group
	if err := s.persist(); err != nil {
		delete(s.data.Groups, id)
		return models.Group{}, err
	}
	return group, nil
}

func (s *Storage) GetGroup(id string) (models.Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.data.Groups[id]
	return group, ok
}

func (s *Storage) ListGroups() []models.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]models.Group, 0, len(s.data.Groups))
	for _, group := range s.data.Groups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Name < groups[j].Name
	})
	return groups
}

// DeleteGroup removes the group and detaches it from every media record that
// references it. Media left with no groups keeps its remaining fields; the
// playlist projection simply stops returning it.
func (s *Storage) DeleteGroup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.data.Groups[id]
	if !ok {
		return fmt.Errorf("group %s: %w", id, ErrGroupNotFound)
	}

	touched := make(map[string]models.Media)
	for mediaID, media := range s.data.Media {
		filtered := media.GroupIDs[:0:0]
		for _, groupID := range media.GroupIDs {
			if groupID != id {
				filtered = append(filtered, groupID)
			}
		}
		if len(filtered) != len(media.GroupIDs) {
			touched[mediaID] = media
			updated := media
			updated.GroupIDs = filtered
			s.data.Media[mediaID] = updated
		}
	}

	delete(s.data.Groups, id)
	if err := s.persist(); err != nil {
		s.data.Groups[id] = group
		for mediaID, media := range touched {
			s.data.Media[mediaID] = media
		}
		return err
	}
	return nil
}
