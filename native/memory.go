// Package native provides an in-process stand-in for the native consent SDK.
package native

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/janus/consent"
	"github.com/teranos/janus/logger"
)

// Consent methods recorded on the snapshot.
const (
	MethodWebView = "webview"
	MethodSave    = "save"
)

// Memory is a consent.NativeSDK and consent.SurfaceSyncer that keeps the
// canonical snapshot in memory. Listeners are called synchronously on the
// goroutine that caused the event.
type Memory struct {
	mu        sync.Mutex
	snapshot  consent.Snapshot
	listeners map[string]func(consent.NativeEvent)
	order     []string
	now       func() time.Time
}

var (
	_ consent.NativeSDK     = (*Memory)(nil)
	_ consent.SurfaceSyncer = (*Memory)(nil)
)

// NewMemory returns a store seeded with purposes and fidesString. A nil
// purposes map starts empty and without timestamps.
func NewMemory(purposes map[string]bool, fidesString string) *Memory {
	m := &Memory{
		snapshot:  consent.Empty(),
		listeners: make(map[string]func(consent.NativeEvent)),
		now:       time.Now,
	}
	if len(purposes) > 0 || fidesString != "" {
		m.write(purposes, fidesString, "")
	}
	return m
}

// Consent implements consent.NativeSDK.
func (m *Memory) Consent(ctx context.Context) (consent.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return consent.Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.Clone(), nil
}

// AddConsentEventListener implements consent.NativeSDK.
func (m *Memory) AddConsentEventListener(fn func(consent.NativeEvent)) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.listeners[id] = fn
	m.order = append(m.order, id)
	m.mu.Unlock()
	logger.Debugw("Native listener added", logger.FieldListener, id)
	return id
}

// RemoveConsentEventListener implements consent.NativeSDK. Unknown ids are ignored.
func (m *Memory) RemoveConsentEventListener(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listeners[id]; !ok {
		return
	}
	delete(m.listeners, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// ClearConsent implements consent.NativeSDK.
func (m *Memory) ClearConsent(ctx context.Context, clearMetadata bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot.Consent = map[string]bool{}
	m.snapshot.FidesString = ""
	if clearMetadata {
		m.snapshot.Method = ""
		m.snapshot.CreatedAt = nil
		m.snapshot.UpdatedAt = nil
	}
	return nil
}

// SyncFromSurface implements consent.SurfaceSyncer. It replaces the
// canonical values and emits ConsentUpdatedFromWebView.
func (m *Memory) SyncFromSurface(ctx context.Context, values map[string]bool, fidesString string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.write(values, fidesString, MethodWebView)
	m.mu.Unlock()

	m.Emit(consent.NativeEvent{Kind: consent.KindConsentUpdatedFromWebView})
	return nil
}

// Save records a selection made through the native experience. It emits
// ExperienceSelectionUpdating followed by ExperienceSelectionUpdated.
func (m *Memory) Save(ctx context.Context, values map[string]bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Emit(consent.NativeEvent{Kind: consent.KindExperienceSelectionUpdating, ConsentIntended: values})

	m.mu.Lock()
	m.write(values, m.snapshot.FidesString, MethodSave)
	m.mu.Unlock()

	m.Emit(consent.NativeEvent{Kind: consent.KindExperienceSelectionUpdated})
	return nil
}

// Emit delivers ev to every listener in registration order.
func (m *Memory) Emit(ev consent.NativeEvent) {
	m.mu.Lock()
	fns := make([]func(consent.NativeEvent), 0, len(m.order))
	for _, id := range m.order {
		fns = append(fns, m.listeners[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Listeners returns the number of registered listeners.
func (m *Memory) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// write must be called with mu held.
func (m *Memory) write(values map[string]bool, fidesString, method string) {
	now := m.now().UTC()
	cp := make(map[string]bool, len(values))
	for k, v := range values {
		cp[k] = v
	}
	m.snapshot.Consent = cp
	m.snapshot.FidesString = fidesString
	m.snapshot.Method = method
	if m.snapshot.CreatedAt == nil {
		m.snapshot.CreatedAt = &now
	}
	m.snapshot.UpdatedAt = &now
}
