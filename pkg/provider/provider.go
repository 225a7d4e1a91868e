// Package provider defines the provisioning backend interface used by the
// executor to reconcile individual resources.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Request carries everything a provider needs to reconcile one resource.
// Attributes are fully resolved: no references or bindings remain.
type Request struct {
	// Node is the graph node ID, "<instance>/<type>/<name>"
	Node string

	// Type is the resource type, such as "network" or "node-pool"
	Type string

	// Name is the resource name within its module instance
	Name string

	// Module is the owning module instance name
	Module string

	// Attributes are the resolved desired attributes
	Attributes map[string]interface{}

	// Existing holds the outputs from a prior reconcile, nil on first create
	Existing map[string]interface{}
}

// Result is what a successful reconcile produced.
type Result struct {
	// Outputs are the attributes the resource exposes to dependents,
	// such as "id" or "url"
	Outputs map[string]interface{}
}

// Provider reconciles and destroys resources. Implementations must be safe
// for concurrent use; the executor reconciles independent nodes in parallel.
type Provider interface {
	Name() string
	Reconcile(ctx context.Context, req Request) (*Result, error)
	Destroy(ctx context.Context, req Request) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Provider)
)

// Register makes a provider available by name. Registering a duplicate
// name replaces the earlier provider.
func Register(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Name()] = p
}

// Get returns the named provider.
func Get(name string) (Provider, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %v)", name, registeredLocked())
	}
	return p, nil
}

// Registered returns the names of all registered providers, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registeredLocked()
}

func registeredLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
