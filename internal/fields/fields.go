// Package fields holds the field identifiers shared by every resolution path
// and the denormalized ticket snapshot they exchange.
package fields

import (
	"maps"
	"slices"
	"strings"
)

const (
	// DefaultSummaryField is the custom field that carries the short summary
	// written back to tickets. Overridable through configuration.
	DefaultSummaryField = "customfield_10087"

	// SummaryAlias always resolves to the configured summary field.
	SummaryAlias = "summary_short"
)

// Fetch lists the fields requested for every read. The snapshot is built from
// exactly these.
var Fetch = []string{"summary", "description", "status", "priority", "components", "labels", "assignee"}

// FetchParam is Fetch in the comma separated form the REST API expects.
func FetchParam() string {
	return strings.Join(Fetch, ",")
}

// FieldMap maps opaque provider field identifiers to new values.
type FieldMap map[string]any

// Keys returns the field identifiers in sorted order.
func (m FieldMap) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Clone returns a shallow copy. Values are not copied.
func (m FieldMap) Clone() FieldMap {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Snapshot is the cached projection of a ticket.
type Snapshot struct {
	Key         string   `json:"key"`
	Summary     string   `json:"summary"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Components  []string `json:"components,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	Description string   `json:"description,omitempty"`
}
