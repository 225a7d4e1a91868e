// Package secrets resolves secret references in configuration values
// through a prioritized chain of providers.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrSecretNotFound is returned when no provider holds the requested key.
var ErrSecretNotFound = errors.New("secret not found")

// Provider supplies secret values from one source.
type Provider interface {
	Name() string
	Get(ctx context.Context, key string) (string, error)
	GetBatch(ctx context.Context, keys []string) (map[string]string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Manager resolves secrets through registered providers in priority order.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
	priority  []string
	cache     *secretCache
}

// NewManager creates an empty manager with no providers.
func NewManager() *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		priority:  []string{},
		cache:     newSecretCache(),
	}
}

// DefaultManager creates a manager with the env provider registered.
func DefaultManager() *Manager {
	m := NewManager()
	m.RegisterProvider(NewEnvProvider())
	return m
}

// RegisterProvider adds a provider. Registration order sets the initial
// priority; SetPriority overrides it.
func (m *Manager) RegisterProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	if _, exists := m.providers[name]; !exists {
		m.priority = append(m.priority, name)
	}
	m.providers[name] = p
}

// SetPriority sets the provider lookup order.
func (m *Manager) SetPriority(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priority = names
}

// Get resolves a secret by trying providers in priority order. Resolved
// values are cached per key.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if value, ok := m.cache.get(key); ok {
		return value, nil
	}

	m.mu.RLock()
	priority := make([]string, len(m.priority))
	copy(priority, m.priority)
	m.mu.RUnlock()

	for _, name := range priority {
		m.mu.RLock()
		p, ok := m.providers[name]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		value, err := p.Get(ctx, key)
		if err == nil {
			m.cache.set(key, value)
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", fmt.Errorf("provider %s failed for %q: %w", name, key, err)
		}
	}

	return "", fmt.Errorf("%w: %q", ErrSecretNotFound, key)
}

// GetFromProvider resolves a secret from one named provider, bypassing
// priority.
func (m *Manager) GetFromProvider(ctx context.Context, providerName, key string) (string, error) {
	m.mu.RLock()
	p, ok := m.providers[providerName]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown secret provider %q", providerName)
	}
	return p.Get(ctx, key)
}

// GetBatch resolves multiple keys, omitting ones no provider holds.
func (m *Manager) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	results := make(map[string]string)
	for _, key := range keys {
		value, err := m.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrSecretNotFound) {
				continue
			}
			return nil, err
		}
		results[key] = value
	}
	return results, nil
}

// ClearCache drops all cached values.
func (m *Manager) ClearCache() {
	m.cache.clear()
}

// ResolveSecrets walks a configuration value tree, replacing every
// "${secret:key}" or "${secret:provider:key}" reference (including inline
// occurrences within longer strings) with the resolved value.
func (m *Manager) ResolveSecrets(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		resolved, err := m.resolveValue(ctx, v)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func (m *Manager) resolveValue(ctx context.Context, v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return m.resolveString(ctx, val)
	case map[string]interface{}:
		return m.ResolveSecrets(ctx, val)
	case []interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			resolved, err := m.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			items[i] = resolved
		}
		return items, nil
	default:
		return v, nil
	}
}

const refPrefix = "${secret:"

func (m *Manager) resolveString(ctx context.Context, s string) (string, error) {
	for {
		start := strings.Index(s, refPrefix)
		if start < 0 {
			return s, nil
		}

		end := strings.Index(s[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("unclosed secret reference in %q", s)
		}
		end += start

		ref := s[start+len(refPrefix) : end]

		var value string
		var err error
		if providerName, key, ok := strings.Cut(ref, ":"); ok {
			value, err = m.GetFromProvider(ctx, providerName, key)
		} else {
			value, err = m.Get(ctx, ref)
		}
		if err != nil {
			return "", err
		}

		s = s[:start] + value + s[end+1:]
	}
}

// secretCache is a simple concurrent-safe value cache.
type secretCache struct {
	mu     sync.RWMutex
	values map[string]string
}

func newSecretCache() *secretCache {
	return &secretCache{values: make(map[string]string)}
}

func (c *secretCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *secretCache) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

func (c *secretCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]string)
}
