// Package consent holds the canonical consent model owned by the native SDK
// and the Reconciler that keeps the host's copy of it current.
package consent

import (
	"context"
	"time"

	"github.com/teranos/janus/wire"
)

// Snapshot is the native SDK's canonical consent state.
type Snapshot struct {
	Consent       map[string]bool `json:"consent"`
	FidesString   string          `json:"fides_string,omitempty"`
	Method        string          `json:"consent_method,omitempty"`
	HasExperience bool            `json:"has_experience"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"`
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
}

// Empty returns a snapshot with an empty, non-nil consent map.
func Empty() Snapshot {
	return Snapshot{Consent: map[string]bool{}}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Consent = make(map[string]bool, len(s.Consent))
	for k, v := range s.Consent {
		out.Consent[k] = v
	}
	if s.CreatedAt != nil {
		t := *s.CreatedAt
		out.CreatedAt = &t
	}
	if s.UpdatedAt != nil {
		t := *s.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// String renders the consent map the way event descriptions do.
func (s Snapshot) String() string {
	return wire.FormatConsent(s.Consent)
}

// NativeSDK is the canonical consent store the host synchronises against.
type NativeSDK interface {
	// Consent returns the current canonical snapshot.
	Consent(ctx context.Context) (Snapshot, error)

	// AddConsentEventListener registers fn and returns an id for removal.
	// fn may be called from any goroutine.
	AddConsentEventListener(fn func(NativeEvent)) string

	RemoveConsentEventListener(id string)

	// ClearConsent drops stored consent, and its metadata when clearMetadata is set.
	ClearConsent(ctx context.Context, clearMetadata bool) error
}

// SurfaceSyncer is implemented by SDKs that accept consent reported by a surface.
type SurfaceSyncer interface {
	SyncFromSurface(ctx context.Context, consent map[string]bool, fidesString string) error
}
