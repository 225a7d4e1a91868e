// Package types defines the data structures for envctl applied state.
package types

import (
	"time"
)

// CompositionStatus represents the lifecycle state of a composition.
type CompositionStatus string

const (
	CompositionStatusPending    CompositionStatus = "pending"
	CompositionStatusApplying   CompositionStatus = "applying"
	CompositionStatusApplied    CompositionStatus = "applied"
	CompositionStatusFailed     CompositionStatus = "failed"
	CompositionStatusDestroying CompositionStatus = "destroying"
)

// CompositionState is the persisted snapshot of the last successfully
// applied plan for one composition. It is the sole source of truth for
// idempotence: plan diffs desired resources against these records.
type CompositionState struct {
	// Metadata
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Status
	Status       CompositionStatus `json:"status"`
	StatusReason string            `json:"status_reason,omitempty"`

	// Resources keyed by node ID (module/type/name)
	Resources map[string]*ResourceRecord `json:"resources,omitempty"`

	// Exports holds the composition-level outputs resolved after the
	// last successful apply
	Exports map[string]interface{} `json:"exports,omitempty"`
}

// ResourceStatus represents the status of a single resource.
type ResourceStatus string

const (
	ResourceStatusPending  ResourceStatus = "pending"
	ResourceStatusApplying ResourceStatus = "applying"
	ResourceStatusApplied  ResourceStatus = "applied"
	ResourceStatusFailed   ResourceStatus = "failed"
)

// ResourceRecord is the applied state of a single resource. It is written
// exactly once per node completion; a crash mid-apply leaves records
// accurate for completed nodes and absent for the in-flight one.
type ResourceRecord struct {
	// Metadata
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Module    string    `json:"module"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Seq preserves the node's declaration order so destroy ordering is
	// the exact reverse of creation order, not just edge-consistent
	Seq int `json:"seq"`

	// DependsOn preserves graph edges so destroy ordering can be
	// reconstructed from state alone
	DependsOn []string `json:"depends_on,omitempty"`

	// Inputs is the canonical desired attribute form used for diffing
	Inputs map[string]interface{} `json:"inputs,omitempty"`

	// Attributes are the backend-reported attributes after reconciliation
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// Outputs are the backend-reported outputs after reconciliation
	Outputs map[string]interface{} `json:"outputs,omitempty"`

	// Status
	Status       ResourceStatus `json:"status"`
	StatusReason string         `json:"status_reason,omitempty"`
}

// CompositionRef is a lightweight reference to a composition.
type CompositionRef struct {
	Name      string            `json:"name"`
	Status    CompositionStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
