package devicestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// persistedRecord is the JSON-serializable form of a Record.
type persistedRecord struct {
	ID         string            `json:"id"`
	Label      string            `json:"label"`
	Salt       []byte            `json:"salt"`
	SealedSeed []byte            `json:"sealed_seed"`
	CreatedAt  time.Time         `json:"created_at"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// PersistentStore wraps MemoryStore and persists to a JSON file using atomic rename.
type PersistentStore struct {
	*MemoryStore
	path string
}

// NewPersistentStore creates a store that persists to the given file path.
// If the file exists, records are loaded from it.
func NewPersistentStore(path string) (*PersistentStore, error) {
	ps := &PersistentStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := ps.load(); err != nil {
			return nil, fmt.Errorf("load existing data: %w", err)
		}
		slog.Debug("device store loaded", "path", path, "devices", len(ps.records))
	}

	return ps, nil
}

func (ps *PersistentStore) Put(r *Record) error {
	if err := ps.MemoryStore.Put(r); err != nil {
		return err
	}
	return ps.save()
}

func (ps *PersistentStore) Delete(id string) error {
	if err := ps.MemoryStore.Delete(id); err != nil {
		return err
	}
	return ps.save()
}

// save writes all records to a temp file then atomically renames it.
func (ps *PersistentStore) save() error {
	records, _ := ps.MemoryStore.List()

	out := make([]persistedRecord, 0, len(records))
	for _, r := range records {
		out = append(out, persistedRecord{
			ID:         r.ID,
			Label:      r.Label,
			Salt:       r.Salt,
			SealedSeed: r.SealedSeed,
			CreatedAt:  r.CreatedAt,
			Tags:       r.Tags,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	tmpPath := ps.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, ps.path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}

	return nil
}

// load reads records from the persisted file.
func (ps *PersistentStore) load() error {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var records []persistedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, pr := range records {
		if pr.ID == "" || len(pr.SealedSeed) == 0 {
			return fmt.Errorf("record %q is incomplete", pr.ID)
		}
		ps.records[pr.ID] = &Record{
			ID:         pr.ID,
			Label:      pr.Label,
			Salt:       pr.Salt,
			SealedSeed: pr.SealedSeed,
			CreatedAt:  pr.CreatedAt,
			Tags:       pr.Tags,
		}
	}

	return nil
}
