package emulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

const DefaultStateDir = "/var/lib/dotcap"

// RecordKind names the kind of kernel object a Record tracks.
type RecordKind string

const (
	RecordNamespace  RecordKind = "namespace"
	RecordLink       RecordKind = "link"
	RecordSwitch     RecordKind = "switch"
	RecordAttachment RecordKind = "attachment"
	RecordPrivateDir RecordKind = "private-dir"
)

// Record is one object created by a build. Records outlive the process so
// a crashed run can be cleaned up later.
type Record struct {
	ID        string     `json:"id"`
	Kind      RecordKind `json:"kind"`
	Name      string     `json:"name"`
	Node      string     `json:"node"`
	Datapath  string     `json:"datapath,omitempty"`
	Path      string     `json:"path,omitempty"`
	CreatedAt string     `json:"created_at"`
}

// Store persists records as one JSON file each.
type Store struct {
	dir string
}

func NewStore(stateDir string) (*Store, error) {
	dir := filepath.Join(stateDir, "records")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Save(r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt == "" {
		r.CreatedAt = time.Now().Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, r.ID+".json"), data, 0644)
}

func (s *Store) FindByID(id string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, err
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns all records, oldest first.
func (s *Store) List() ([]*Record, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var records []*Record
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		id := file.Name()[:len(file.Name())-5]
		r, err := s.FindByID(id)
		if err == nil {
			records = append(records, r)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt < records[j].CreatedAt
	})
	return records, nil
}

func (s *Store) Delete(id string) error {
	err := os.Remove(filepath.Join(s.dir, id+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
