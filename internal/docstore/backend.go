package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/specd/internal/filelock"
)

// Backend persists Specifications. Implementations need not be safe for
// concurrent use; the Store serializes access and holds Lock around every
// read-modify-write.
type Backend interface {
	// Lock acquires cross-process exclusion for one operation.
	Lock() (unlock func(), err error)
	// Load returns the Specification with id, or ErrNotFound.
	Load(id string) (*Specification, error)
	// Create persists a new Specification, or returns *DuplicateIDError.
	Create(spec *Specification) error
	// Save replaces an existing Specification.
	Save(spec *Specification) error
	// Remove deletes a Specification, or returns ErrNotFound.
	Remove(id string) error
	// List returns every stored id.
	List() ([]string, error)
	// HighWater returns the largest index ever allocated.
	HighWater() (int, error)
	// SetHighWater records the largest index ever allocated.
	SetHighWater(n int) error
}

// MemoryBackend keeps Specifications in process memory.
type MemoryBackend struct {
	mu    sync.Mutex
	specs map[string]*Specification
	high  int
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{specs: make(map[string]*Specification)}
}

func (m *MemoryBackend) Lock() (func(), error) {
	m.mu.Lock()
	return m.mu.Unlock, nil
}

func (m *MemoryBackend) Load(id string) (*Specification, error) {
	spec, ok := m.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return spec.Clone(), nil
}

func (m *MemoryBackend) Create(spec *Specification) error {
	if _, ok := m.specs[spec.ID]; ok {
		return &DuplicateIDError{ID: spec.ID}
	}
	m.specs[spec.ID] = spec.Clone()
	return nil
}

func (m *MemoryBackend) Save(spec *Specification) error {
	if _, ok := m.specs[spec.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, spec.ID)
	}
	m.specs[spec.ID] = spec.Clone()
	return nil
}

func (m *MemoryBackend) Remove(id string) error {
	if _, ok := m.specs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.specs, id)
	return nil
}

func (m *MemoryBackend) List() ([]string, error) {
	ids := make([]string, 0, len(m.specs))
	for id := range m.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryBackend) HighWater() (int, error) { return m.high, nil }

func (m *MemoryBackend) SetHighWater(n int) error {
	m.high = n
	return nil
}

const (
	specFileName  = "spec.json"
	lockFileName  = "store.lock"
	indexFileName = "index"
)

// FileBackend stores each Specification as <root>/<id>/spec.json. Writes
// go to a temp file and are renamed into place, so readers never observe a
// partial document. A flock on <root>/store.lock serializes processes.
type FileBackend struct {
	root string
	lock *filelock.Lock
}

// NewFileBackend returns a FileBackend rooted at root, creating it.
func NewFileBackend(root string) (*FileBackend, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, unavailable("create store root", err)
	}
	return &FileBackend{
		root: root,
		lock: filelock.New(filepath.Join(root, lockFileName)),
	}, nil
}

// Root returns the store directory.
func (f *FileBackend) Root() string { return f.root }

func (f *FileBackend) Lock() (func(), error) {
	if err := f.lock.Lock(); err != nil {
		return nil, unavailable("lock store", err)
	}
	return func() { _ = f.lock.Unlock() }, nil
}

func (f *FileBackend) specPath(id string) string {
	return filepath.Join(f.root, id, specFileName)
}

func (f *FileBackend) Load(id string) (*Specification, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := os.ReadFile(f.specPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("read "+id, err)
	}
	var spec Specification
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, unavailable("decode "+id, err)
	}
	if spec.Artifacts == nil {
		spec.Artifacts = make(map[ArtifactKind]Artifact)
	}
	return &spec, nil
}

func (f *FileBackend) Create(spec *Specification) error {
	dir := filepath.Join(f.root, spec.ID)
	if err := os.Mkdir(dir, 0700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &DuplicateIDError{ID: spec.ID}
		}
		return unavailable("create "+spec.ID, err)
	}
	if err := f.write(spec); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}
	return nil
}

func (f *FileBackend) Save(spec *Specification) error {
	if _, err := os.Stat(f.specPath(spec.ID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, spec.ID)
		}
		return unavailable("stat "+spec.ID, err)
	}
	return f.write(spec)
}

func (f *FileBackend) write(spec *Specification) error {
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", spec.ID, err)
	}
	return atomicWrite(f.specPath(spec.ID), data)
}

func (f *FileBackend) Remove(id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := os.Stat(f.specPath(id)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.RemoveAll(filepath.Join(f.root, id)); err != nil {
		return unavailable("remove "+id, err)
	}
	return nil
}

// List returns directories holding a spec.json. Stray directories are
// ignored.
func (f *FileBackend) List() ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, unavailable("list store", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(f.specPath(e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *FileBackend) HighWater() (int, error) {
	data, err := os.ReadFile(filepath.Join(f.root, indexFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("read index", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, unavailable("parse index", err)
	}
	return n, nil
}

func (f *FileBackend) SetHighWater(n int) error {
	return atomicWrite(filepath.Join(f.root, indexFileName), []byte(strconv.Itoa(n)+"\n"))
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return unavailable("write "+filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return unavailable("rename "+filepath.Base(path), err)
	}
	return nil
}

// validID rejects ids that could escape the store root.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
