package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/models"
)

// New opens a JSON-file backed Storage rooted at filePath. A missing file is
// treated as an empty dataset; the file is created on first persist.
func New(filePath string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: filePath,
		data:     newDataset(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	store.objectStore = NewObjectStore(store.objectStorage)
	return store, nil
}

// ObjectStore returns the bucket client built from the configured object
// storage settings. It is a disabled store when no bucket is configured.
func (s *Storage) ObjectStore() ObjectStore {
	if s.objectStore == nil {
		return noopObjectStore{}
	}
	return s.objectStore
}

func newDataset() dataset {
	return dataset{
		Media:  make(map[string]models.Media),
		Groups: make(map[string]models.Group),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Media == nil {
		s.data.Media = make(map[string]models.Media)
	}
	if s.data.Groups == nil {
		s.data.Groups = make(map[string]models.Group)
	}
}

func (s *Storage) load() error {
	if s.filePath == "" {
		return nil
	}
	payload, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read datastore %s: %w", s.filePath, err)
	}
	if len(payload) == 0 {
		return nil
	}
	var data dataset
	if err := json.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("decode datastore %s: %w", s.filePath, err)
	}
	s.mu.Lock()
	s.data = data
	s.ensureDatasetInitializedLocked()
	s.mu.Unlock()
	return nil
}

// persist writes the dataset atomically. Callers must hold the write lock.
func (s *Storage) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}
	if s.filePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("prepare datastore directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), "datastore-*.tmp")
	if err != nil {
		return fmt.Errorf("create datastore temp file: %w", err)
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode datastore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close datastore temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace datastore: %w", err)
	}
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func cloneMedia(media models.Media) models.Media {
	cloned := media
	if media.GroupIDs != nil {
		cloned.GroupIDs = append([]string(nil), media.GroupIDs...)
	}
	if media.Metadata != nil {
		meta := make(map[string]string, len(media.Metadata))
		for k, v := range media.Metadata {
			meta[k] = v
		}
		cloned.Metadata = meta
	}
	if media.DeclaredSize != nil {
		size := *media.DeclaredSize
		cloned.DeclaredSize = &size
	}
	return cloned
}
