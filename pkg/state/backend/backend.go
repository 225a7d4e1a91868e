// Package backend defines the storage interface for envctl applied state.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no state exists at the requested path.
var ErrNotFound = errors.New("state not found")

// ErrLocked is returned when state is locked by another operation.
var ErrLocked = errors.New("state is locked")

// StaleLockTimeout is the age after which an abandoned lock may be stolen.
const StaleLockTimeout = time.Hour

// Backend stores applied state as addressable blobs.
type Backend interface {
	// Type returns the backend identifier (local, s3, gcs, azurerm)
	Type() string

	// Read returns the content at path, or ErrNotFound
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write stores content at path, overwriting any existing content
	Write(ctx context.Context, path string, data io.Reader) error

	// Delete removes the content at path; deleting a missing path is a no-op
	Delete(ctx context.Context, path string) error

	// List returns all paths under the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether content exists at path
	Exists(ctx context.Context, path string) (bool, error)

	// Lock acquires an advisory lock covering path
	Lock(ctx context.Context, path string, info LockInfo) (Lock, error)
}

// Lock is a held advisory lock.
type Lock interface {
	ID() string
	Unlock(ctx context.Context) error
	Info() LockInfo
}

// LockInfo contains metadata about a lock.
type LockInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Who       string    `json:"who"`
	Operation string    `json:"operation"`
	Created   time.Time `json:"created"`
}

// LockError reports a failed lock acquisition.
type LockError struct {
	Info LockInfo
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("state locked by %s for %s (lock %s)", e.Info.Who, e.Info.Operation, e.Info.ID)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// Config identifies a backend and its settings.
type Config struct {
	Type   string
	Config map[string]string
}

// Factory constructs a backend from its configuration.
type Factory func(config map[string]string) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend type available by name. Backends register
// themselves via init().
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Create constructs a backend from configuration.
func Create(config Config) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[config.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown state backend %q (registered: %v)", config.Type, Registered())
	}

	return factory(config.Config)
}

// Registered returns the names of all registered backend types.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
