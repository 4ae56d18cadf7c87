package native

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/janus/consent"
)

func TestNewMemorySeedsSnapshot(t *testing.T) {
	m := NewMemory(map[string]bool{"essential": true}, "CP,seed")

	snap, err := m.Consent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"essential": true}, snap.Consent)
	assert.Equal(t, "CP,seed", snap.FidesString)
	require.NotNil(t, snap.CreatedAt)
	require.NotNil(t, snap.UpdatedAt)

	empty, err := NewMemory(nil, "").Consent(context.Background())
	require.NoError(t, err)
	assert.Empty(t, empty.Consent)
	assert.Nil(t, empty.CreatedAt)
}

func TestConsentReturnsCopy(t *testing.T) {
	m := NewMemory(map[string]bool{"a": true}, "")

	snap, err := m.Consent(context.Background())
	require.NoError(t, err)
	snap.Consent["a"] = false

	again, err := m.Consent(context.Background())
	require.NoError(t, err)
	assert.True(t, again.Consent["a"])
}

func TestConsentHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory(nil, "").Consent(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncFromSurfaceEmitsWebViewUpdate(t *testing.T) {
	m := NewMemory(nil, "")
	var got []consent.NativeEvent
	m.AddConsentEventListener(func(ev consent.NativeEvent) { got = append(got, ev) })

	require.NoError(t, m.SyncFromSurface(context.Background(), map[string]bool{"ads": false}, "CP,web"))

	require.Len(t, got, 1)
	assert.Equal(t, consent.KindConsentUpdatedFromWebView, got[0].Kind)

	snap, err := m.Consent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"ads": false}, snap.Consent)
	assert.Equal(t, "CP,web", snap.FidesString)
	assert.Equal(t, MethodWebView, snap.Method)
}

func TestSaveEmitsUpdatingThenUpdated(t *testing.T) {
	m := NewMemory(nil, "CP,keep")
	var kinds []consent.Kind
	m.AddConsentEventListener(func(ev consent.NativeEvent) { kinds = append(kinds, ev.Kind) })

	require.NoError(t, m.Save(context.Background(), map[string]bool{"analytics": true}))

	assert.Equal(t, []consent.Kind{
		consent.KindExperienceSelectionUpdating,
		consent.KindExperienceSelectionUpdated,
	}, kinds)

	snap, err := m.Consent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CP,keep", snap.FidesString)
	assert.Equal(t, MethodSave, snap.Method)
}

func TestRemoveListener(t *testing.T) {
	m := NewMemory(nil, "")
	calls := 0
	id := m.AddConsentEventListener(func(consent.NativeEvent) { calls++ })
	other := m.AddConsentEventListener(func(consent.NativeEvent) {})
	assert.NotEqual(t, id, other)
	assert.Equal(t, 2, m.Listeners())

	m.RemoveConsentEventListener(id)
	m.RemoveConsentEventListener(id)
	m.RemoveConsentEventListener("missing")
	m.Emit(consent.NativeEvent{Kind: consent.KindExperienceShown})

	assert.Zero(t, calls)
	assert.Equal(t, 1, m.Listeners())
}

func TestClearConsent(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewMemory(nil, "")
	m.now = func() time.Time { return fixed }
	require.NoError(t, m.SyncFromSurface(context.Background(), map[string]bool{"a": true}, "x"))

	require.NoError(t, m.ClearConsent(context.Background(), false))
	snap, _ := m.Consent(context.Background())
	assert.Empty(t, snap.Consent)
	assert.Empty(t, snap.FidesString)
	assert.Equal(t, MethodWebView, snap.Method)
	require.NotNil(t, snap.CreatedAt)
	assert.Equal(t, fixed, *snap.CreatedAt)

	require.NoError(t, m.ClearConsent(context.Background(), true))
	snap, _ = m.Consent(context.Background())
	assert.Empty(t, snap.Method)
	assert.Nil(t, snap.CreatedAt)
	assert.Nil(t, snap.UpdatedAt)
}
