package wire

import (
	"sort"
	"strconv"
	"strings"
)

// Describe renders the event-log line for a lifecycle event:
//
//	FidesJS Event: FidesUpdated
//	Data: source: banner, consent: {analytics: true}, extraDetails: {consentMethod: accept}
//
// The Data line is omitted when the detail has nothing to show.
func (e LifecycleEvent) Describe() string {
	out := "FidesJS Event: " + string(e.Name)
	if parts := e.Detail.parts(); len(parts) > 0 {
		out += "\nData: " + strings.Join(parts, ", ")
	}
	return out
}

func (d *Detail) parts() []string {
	if d == nil {
		return nil
	}

	var parts []string
	if d.Source != nil {
		parts = append(parts, "source: "+*d.Source)
	}
	if d.Consent != nil {
		parts = append(parts, "consent: "+FormatConsent(d.Consent))
	}
	if d.FidesString != nil {
		parts = append(parts, "fides_string: "+*d.FidesString)
	}
	if d.Extra != nil {
		var extra []string
		if d.Extra.ServingComponent != nil {
			extra = append(extra, "servingComponent: "+*d.Extra.ServingComponent)
		}
		if d.Extra.ShouldShowExperience != nil {
			extra = append(extra, "shouldShowExperience: "+strconv.FormatBool(*d.Extra.ShouldShowExperience))
		}
		if d.Extra.ConsentMethod != nil {
			extra = append(extra, "consentMethod: "+*d.Extra.ConsentMethod)
		}
		if len(extra) > 0 {
			parts = append(parts, "extraDetails: {"+strings.Join(extra, ", ")+"}")
		}
	}
	return parts
}

// FormatConsent renders a consent map as {k: v, ...} with keys sorted.
func FormatConsent(consent map[string]bool) string {
	return "{" + JoinConsent(consent) + "}"
}

// JoinConsent renders k: v pairs sorted by key without braces.
func JoinConsent(consent map[string]bool) string {
	keys := make([]string, 0, len(consent))
	for k := range consent {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + ": " + strconv.FormatBool(consent[k])
	}
	return strings.Join(pairs, ", ")
}
