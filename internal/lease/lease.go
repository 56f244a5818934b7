// Package lease grants at most one holder per Specification at a time.
//
// Acquisition never blocks: a held lease fails fast with ErrLeaseHeld so
// the coordinator can report the unit of work as busy.
package lease

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/specd/internal/faults"
	"github.com/fyrsmithlabs/specd/internal/filelock"
)

// ErrLeaseHeld is returned when another holder has the lease.
var ErrLeaseHeld = faults.New("lease held", faults.CodeLeaseHeld, faults.ClassProtocol)

// Lease is a held lease. Release is idempotent.
type Lease interface {
	SpecID() string
	Release() error
}

// Leaser grants leases.
type Leaser interface {
	Acquire(ctx context.Context, specID string) (Lease, error)
}

// Memory is an in-process Leaser.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory returns an empty Memory leaser.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// Acquire takes the lease for specID.
func (m *Memory) Acquire(ctx context.Context, specID string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[specID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, specID)
	}
	m.held[specID] = struct{}{}
	return &memoryLease{m: m, specID: specID}, nil
}

// Held reports whether specID is currently leased.
func (m *Memory) Held(specID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[specID]
	return ok
}

type memoryLease struct {
	m      *Memory
	specID string
	once   sync.Once
}

func (l *memoryLease) SpecID() string { return l.specID }

func (l *memoryLease) Release() error {
	l.once.Do(func() {
		l.m.mu.Lock()
		delete(l.m.held, l.specID)
		l.m.mu.Unlock()
	})
	return nil
}

// Flock is a cross-process Leaser backed by one lock file per
// Specification under dir.
type Flock struct {
	dir string
}

// NewFlock returns a Flock leaser storing lock files in dir.
func NewFlock(dir string) (*Flock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lease dir: %w", err)
	}
	return &Flock{dir: dir}, nil
}

// Acquire takes the lease for specID.
func (f *Flock) Acquire(ctx context.Context, specID string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if specID == "" || strings.ContainsAny(specID, `/\`) || specID == "." || specID == ".." {
		return nil, fmt.Errorf("invalid spec id %q", specID)
	}
	lock := filelock.New(filepath.Join(f.dir, specID+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", specID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, specID)
	}
	return &flockLease{lock: lock, specID: specID}, nil
}

type flockLease struct {
	mu     sync.Mutex
	lock   *filelock.Lock
	specID string
}

func (l *flockLease) SpecID() string { return l.specID }

func (l *flockLease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.lock.Held() {
		return nil
	}
	return l.lock.Unlock()
}
