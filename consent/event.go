package consent

import (
	"strconv"

	"github.com/teranos/janus/wire"
)

// Kind names a native consent event.
type Kind string

const (
	KindConsentUpdatedFromWebView   Kind = "ConsentUpdatedFromWebView"
	KindExperienceSelectionUpdated  Kind = "ExperienceSelectionUpdated"
	KindExperienceSelectionUpdating Kind = "ExperienceSelectionUpdating"
	KindExperienceInteraction       Kind = "ExperienceInteraction"
	KindExperienceClosed            Kind = "ExperienceClosed"
	KindExperienceShown             Kind = "ExperienceShown"
	KindWebViewFidesInitialized     Kind = "WebViewFidesInitialized"
	KindWebViewFidesUIShown         Kind = "WebViewFidesUIShown"
	KindWebViewFidesUIChanged       Kind = "WebViewFidesUIChanged"
	KindWebViewFidesUpdating        Kind = "WebViewFidesUpdating"
	KindWebViewFidesUpdated         Kind = "WebViewFidesUpdated"
	KindWebViewFidesModalClosed     Kind = "WebViewFidesModalClosed"
)

// NativeEvent is one notification from the native SDK. Which payload field
// is meaningful depends on Kind:
//
//	ExperienceSelectionUpdating, WebViewFidesUpdating  ConsentIntended
//	ExperienceInteraction, WebViewFidesUIChanged       Interaction
//	ExperienceClosed                                   CloseMethod
//	WebViewFidesInitialized                            ShouldShowExperience
//	WebViewFidesModalClosed                            ConsentMethod
type NativeEvent struct {
	Kind Kind `json:"kind"`

	ConsentIntended      map[string]bool `json:"consent_intended,omitempty"`
	Interaction          map[string]bool `json:"interaction,omitempty"`
	CloseMethod          string          `json:"close_method,omitempty"`
	ShouldShowExperience *bool           `json:"should_show_experience,omitempty"`
	ConsentMethod        string          `json:"consent_method,omitempty"`
}

// Describe renders the event for the canonical log:
//
//	Event: WebViewFidesModalClosed
//	Data: consentMethod: accept
func (e NativeEvent) Describe() string {
	out := "Event: " + string(e.Kind)
	if data := e.data(); data != "" {
		out += "\nData: " + data
	}
	return out
}

func (e NativeEvent) data() string {
	switch e.Kind {
	case KindExperienceSelectionUpdating, KindWebViewFidesUpdating:
		if e.ConsentIntended != nil {
			return wire.JoinConsent(e.ConsentIntended)
		}
	case KindExperienceInteraction, KindWebViewFidesUIChanged:
		if e.Interaction != nil {
			return wire.JoinConsent(e.Interaction)
		}
	case KindExperienceClosed:
		if e.CloseMethod != "" {
			return "closeMethod: " + e.CloseMethod
		}
	case KindWebViewFidesInitialized:
		if e.ShouldShowExperience != nil {
			return "shouldShowExperience: " + strconv.FormatBool(*e.ShouldShowExperience)
		}
	case KindWebViewFidesModalClosed:
		if e.ConsentMethod != "" {
			return "consentMethod: " + e.ConsentMethod
		}
	}
	return ""
}

// TriggersRefresh reports whether the canonical snapshot should be pulled
// after this event.
func (e NativeEvent) TriggersRefresh() bool {
	return e.Kind == KindConsentUpdatedFromWebView || e.Kind == KindExperienceSelectionUpdated
}
