package resolver

import (
	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/fields"
)

const (
	// NoPathReason is the failure reason of a read no strategy could serve.
	NoPathReason = "no resolution path available in this execution context"

	// ManualUpdateReason is the failure reason of a write no automated path could apply.
	ManualUpdateReason = "automated update unavailable; manual update required"
)

// Kind tags an Outcome.
type Kind string

const (
	KindSuccess              Kind = "success"
	KindFailure              Kind = "failure"
	KindRequiresRemoteBridge Kind = "requires_remote_bridge"
)

// UpdateRequest is a desired mutation of one issue.
type UpdateRequest struct {
	TicketKey string          `json:"ticket_key"`
	FieldMap  fields.FieldMap `json:"field_map"`

	// RequestedAction is recorded for audit only and never alters resolution.
	RequestedAction string `json:"requested_action,omitempty"`
}

// BridgeSignal asks a different execution context to apply a write that
// could not be completed here. It carries the request unchanged.
type BridgeSignal struct {
	TicketKey       string          `json:"ticket_key"`
	FieldMap        fields.FieldMap `json:"field_map"`
	RequestedAction string          `json:"requested_action,omitempty"`

	// Cause is the class of the last unavailable path, for diagnosis.
	Cause failure.Class `json:"cause"`
}

// Request returns the update the signal describes.
func (b BridgeSignal) Request() UpdateRequest {
	return UpdateRequest{
		TicketKey:       b.TicketKey,
		FieldMap:        b.FieldMap.Clone(),
		RequestedAction: b.RequestedAction,
	}
}

// Outcome is the result of a resolution. It is the only information the
// caller receives; Kind selects which of the other fields are meaningful.
type Outcome struct {
	Kind      Kind   `json:"kind"`
	RequestID string `json:"request_id,omitempty"`

	// Source names the strategy that completed the operation.
	Source string `json:"source,omitempty"`

	// UpdatedFieldKeys lists written field ids, sorted. Writes only.
	UpdatedFieldKeys []string `json:"updated_field_keys,omitempty"`

	// Snapshot is the record that was read. Reads only.
	Snapshot *fields.Snapshot `json:"snapshot,omitempty"`

	Reason               string          `json:"reason,omitempty"`
	Class                failure.Class   `json:"class,omitempty"`
	ProviderStatus       int             `json:"provider_status,omitempty"`
	RequiresManualUpdate bool            `json:"requires_manual_update,omitempty"`
	FieldMap             fields.FieldMap `json:"field_map,omitempty"`

	Bridge *BridgeSignal `json:"bridge,omitempty"`
}

// Succeeded reports whether the outcome is a success.
func (o Outcome) Succeeded() bool { return o.Kind == KindSuccess }

// ReadSuccess returns a successful read outcome.
func ReadSuccess(source string, snapshot fields.Snapshot) Outcome {
	return Outcome{Kind: KindSuccess, Source: source, Snapshot: &snapshot}
}

// WriteSuccess returns a successful write outcome listing the written keys.
func WriteSuccess(source string, fieldMap fields.FieldMap) Outcome {
	return Outcome{Kind: KindSuccess, Source: source, UpdatedFieldKeys: fieldMap.Keys()}
}

// Failed returns a failure outcome.
func Failed(class failure.Class, reason string) Outcome {
	return Outcome{Kind: KindFailure, Class: class, Reason: reason}
}

// ManualUpdate returns the failure of a write no automated path remains for.
// The original field map is carried so it can be applied by hand.
func ManualUpdate(req UpdateRequest, cause failure.Class) Outcome {
	return Outcome{
		Kind:                 KindFailure,
		Class:                cause,
		Reason:               ManualUpdateReason,
		RequiresManualUpdate: true,
		FieldMap:             req.FieldMap.Clone(),
	}
}

// RequiresBridge returns an outcome deferring req to another execution context.
func RequiresBridge(req UpdateRequest, cause failure.Class) Outcome {
	return Outcome{
		Kind: KindRequiresRemoteBridge,
		Bridge: &BridgeSignal{
			TicketKey:       req.TicketKey,
			FieldMap:        req.FieldMap.Clone(),
			RequestedAction: req.RequestedAction,
			Cause:           cause,
		},
	}
}
