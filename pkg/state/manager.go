// Package state provides applied-state management for envctl.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/opsforge/envctl/pkg/state/backend"
	"github.com/opsforge/envctl/pkg/state/types"
)

// Manager provides high-level applied-state operations. One state record
// exists per composition, keyed by composition name.
type Manager interface {
	GetComposition(ctx context.Context, name string) (*types.CompositionState, error)
	SaveComposition(ctx context.Context, state *types.CompositionState) error
	DeleteComposition(ctx context.Context, name string) error
	ListCompositions(ctx context.Context) ([]types.CompositionRef, error)

	// Lock acquires the per-composition lock held for plan/apply/destroy
	Lock(ctx context.Context, scope LockScope) (backend.Lock, error)

	// Backend returns the underlying storage backend
	Backend() backend.Backend
}

// LockScope defines what to lock.
type LockScope struct {
	Composition string
	Operation   string
	Who         string
}

type manager struct {
	backend backend.Backend
}

// NewManager creates a new state manager with the given backend.
func NewManager(b backend.Backend) Manager {
	return &manager{backend: b}
}

// NewManagerFromConfig creates a new state manager from backend configuration.
func NewManagerFromConfig(config backend.Config) (Manager, error) {
	b, err := backend.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	return NewManager(b), nil
}

func (m *manager) Backend() backend.Backend {
	return m.backend
}

func (m *manager) GetComposition(ctx context.Context, name string) (*types.CompositionState, error) {
	reader, err := m.backend.Read(ctx, compositionPath(name))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var state types.CompositionState
	if err := json.NewDecoder(reader).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state for composition %q: %w", name, err)
	}
	return &state, nil
}

func (m *manager) SaveComposition(ctx context.Context, state *types.CompositionState) error {
	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state for composition %q: %w", state.Name, err)
	}
	return m.backend.Write(ctx, compositionPath(state.Name), bytes.NewReader(content))
}

func (m *manager) DeleteComposition(ctx context.Context, name string) error {
	paths, err := m.backend.List(ctx, path.Join("compositions", name))
	if err != nil {
		return err
	}

	for _, p := range paths {
		if err := m.backend.Delete(ctx, p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}

	return nil
}

func (m *manager) ListCompositions(ctx context.Context) ([]types.CompositionRef, error) {
	paths, err := m.backend.List(ctx, "compositions/")
	if err != nil {
		return nil, err
	}

	// Path format: compositions/<name>/composition.state.json
	names := make(map[string]bool)
	for _, p := range paths {
		parts := strings.Split(path.Clean(p), "/")
		if len(parts) >= 2 && parts[0] == "compositions" && !strings.HasSuffix(p, ".lock") {
			names[parts[1]] = true
		}
	}

	var refs []types.CompositionRef
	for name := range names {
		state, err := m.GetComposition(ctx, name)
		if err != nil {
			continue // Skip compositions that can't be read
		}
		refs = append(refs, types.CompositionRef{
			Name:      state.Name,
			Status:    state.Status,
			CreatedAt: state.CreatedAt,
			UpdatedAt: state.UpdatedAt,
		})
	}

	return refs, nil
}

func (m *manager) Lock(ctx context.Context, scope LockScope) (backend.Lock, error) {
	lockPath := path.Join("compositions", scope.Composition)

	info := backend.LockInfo{
		Who:       scope.Who,
		Operation: scope.Operation,
	}

	return m.backend.Lock(ctx, lockPath, info)
}

func compositionPath(name string) string {
	return path.Join("compositions", name, "composition.state.json")
}
