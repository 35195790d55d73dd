package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const snapshotFile = "evoting.json"

// JSONStore is a MemoryStore that writes its full state to a single file after
// every mutation. A failed write rolls memory back to the last durable snapshot.
type JSONStore struct {
	*MemoryStore
	path string
	last []byte
}

func NewJSONStore(basePath string) (*JSONStore, error) {
	// Create storage directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create directory")
	}

	store := &JSONStore{
		MemoryStore: NewMemoryStore(),
		path:        filepath.Join(basePath, snapshotFile),
	}

	data, err := os.ReadFile(store.path)
	switch {
	case err == nil:
		st, err := decodeState(data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load %s", store.path)
		}
		store.st = st
		store.last = data
		log.Info().
			Str("path", store.path).
			Int("elections", len(st.Elections)).
			Int("ballots", len(st.Ballots)).
			Msg("Loaded JSON store")
	case os.IsNotExist(err):
		store.last, err = json.Marshal(store.st)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode empty state")
		}
	default:
		return nil, errors.Wrapf(err, "failed to read %s", store.path)
	}

	store.persist = store.save
	return store, nil
}

// Path returns the snapshot file location.
func (s *JSONStore) Path() string {
	return s.path
}

func decodeState(data []byte) (*state, error) {
	st := newState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal state")
	}
	st.fill()
	return st, nil
}

func (s *JSONStore) save(st *state) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err == nil {
		err = writeFileAtomic(s.path, data)
	}
	if err != nil {
		if restored, rerr := decodeState(s.last); rerr == nil {
			*st = *restored
		} else {
			log.Error().Err(rerr).Msg("Failed to restore last snapshot")
		}
		return errors.Wrap(err, "failed to save state")
	}
	s.last = data
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	// Write to temporary file first
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write temp file")
	}

	// Atomic rename to ensure consistency
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath) // Clean up temp file if rename fails
		return errors.Wrap(err, "failed to rename temp file")
	}
	return nil
}
