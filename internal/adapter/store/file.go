package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fairyhunter13/chat-relay/internal/domain"
)

// FileStore persists the state document as a single JSON file. Saves go
// through a temp file plus rename so readers never observe a partial
// document.
type FileStore struct {
	path string
}

// NewFileStore constructs a FileStore writing to path.
func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Name identifies the backend.
func (s *FileStore) Name() string { return domain.StoreBackendFile }

// Load reads and decodes the document. A missing file maps to ErrNotFound,
// an undecodable one to ErrStoreCorrupt.
func (s *FileStore) Load(_ domain.Context) (domain.StateDocument, error) {
	// #nosec G304 -- path comes from operator configuration
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.StateDocument{}, fmt.Errorf("op=store.file.load path=%s: %w", s.path, domain.ErrNotFound)
		}
		return domain.StateDocument{}, fmt.Errorf("op=store.file.load path=%s: %w", s.path, err)
	}
	var doc domain.StateDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.StateDocument{}, fmt.Errorf("op=store.file.load path=%s: %v: %w", s.path, err, domain.ErrStoreCorrupt)
	}
	doc.Normalize()
	return doc, nil
}

// Save writes the document atomically, creating the directory if absent.
func (s *FileStore) Save(_ domain.Context, doc domain.StateDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("op=store.file.save: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("op=store.file.save mkdir=%s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("op=store.file.save: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("op=store.file.save path=%s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("op=store.file.save path=%s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("op=store.file.save path=%s: %w", s.path, err)
	}
	return nil
}

// Ping verifies the state directory is reachable. A store that has never
// saved reports ready as long as the directory can be created.
func (s *FileStore) Ping(_ domain.Context) error {
	dir := filepath.Dir(s.path)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o750)
		}
		return fmt.Errorf("op=store.file.ping dir=%s: %w", dir, err)
	}
	return nil
}
