// Package wire decodes and encodes the messages FidesJS surfaces send across
// the bridge channel.
//
// Every message is a JSON object:
//
//	{"type": <lifecycle name | "ConsentValues">,
//	 "data": {"consent"?: {string: bool}, "fides_string"?: string,
//	          "source"?: string, "extraDetails"?: {...}}}
//
// Only the discriminator is required. Optional fields that are missing or of
// the wrong shape degrade to absent rather than failing the message.
package wire

import (
	"encoding/json"
)

// EventName is a FidesJS lifecycle event name.
type EventName string

// Lifecycle events the listener bundle subscribes to.
const (
	FidesInitializing EventName = "FidesInitializing"
	FidesInitialized  EventName = "FidesInitialized"
	FidesUIShown      EventName = "FidesUIShown"
	FidesUIChanged    EventName = "FidesUIChanged"
	FidesModalClosed  EventName = "FidesModalClosed"
	FidesUpdating     EventName = "FidesUpdating"
	FidesUpdated      EventName = "FidesUpdated"
)

// ConsentValuesType tags a consent values report.
const ConsentValuesType = "ConsentValues"

var lifecycleNames = []EventName{
	FidesInitializing,
	FidesInitialized,
	FidesUIShown,
	FidesUIChanged,
	FidesModalClosed,
	FidesUpdating,
	FidesUpdated,
}

// LifecycleNames returns the subscribed lifecycle names in a fixed order.
func LifecycleNames() []EventName {
	out := make([]EventName, len(lifecycleNames))
	copy(out, lifecycleNames)
	return out
}

// Valid reports whether n is one of the seven lifecycle names.
func (n EventName) Valid() bool {
	for _, known := range lifecycleNames {
		if n == known {
			return true
		}
	}
	return false
}

// RefreshesConsent reports whether the event is followed by a consent query
// and a ConsentValues push from the page.
func RefreshesConsent(n EventName) bool {
	switch n {
	case FidesInitialized, FidesUpdated, FidesModalClosed:
		return true
	}
	return false
}

// InboundEvent is either a LifecycleEvent or a ConsentValuesReport.
type InboundEvent interface {
	// Type returns the wire discriminator.
	Type() string
	inbound()
}

// LifecycleEvent is a FidesJS lifecycle notification. Detail is nil when the
// message carried no usable data object.
type LifecycleEvent struct {
	Name   EventName
	Detail *Detail
}

func (LifecycleEvent) inbound() {}

// Type returns the lifecycle name.
func (e LifecycleEvent) Type() string { return string(e.Name) }

// ConsentValuesReport carries the page's current consent map and encoded string.
type ConsentValuesReport struct {
	Consent     map[string]bool
	FidesString string
}

func (ConsentValuesReport) inbound() {}

// Type returns "ConsentValues".
func (ConsentValuesReport) Type() string { return ConsentValuesType }

// Detail is the decoded event.detail of a lifecycle event.
// Nil fields were absent or malformed.
type Detail struct {
	Consent     map[string]bool
	FidesString *string
	Source      *string
	Extra       *ExtraDetails

	// Passthrough keeps keys this package does not interpret. Logging only.
	Passthrough map[string]json.RawMessage
}

// ExtraDetails is event.detail.extraDetails.
type ExtraDetails struct {
	ServingComponent     *string
	ShouldShowExperience *bool
	ConsentMethod        *string
}

// HasConsent reports whether the detail carried a usable consent map.
func (d *Detail) HasConsent() bool {
	return d != nil && d.Consent != nil
}
