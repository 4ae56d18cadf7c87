package consent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/janus/bridge"
	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/internal/loop"
)

// gatedSDK blocks every Consent call until the test releases it.
type gatedSDK struct {
	mu        sync.Mutex
	pulls     int
	snapshot  Snapshot
	err       error
	gate      chan struct{}
	listeners map[string]func(NativeEvent)
	nextID    int
}

func newGatedSDK() *gatedSDK {
	return &gatedSDK{
		snapshot:  Empty(),
		gate:      make(chan struct{}, 16),
		listeners: make(map[string]func(NativeEvent)),
	}
}

func (s *gatedSDK) Consent(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	s.pulls++
	s.mu.Unlock()

	select {
	case <-s.gate:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Clone(), s.err
}

func (s *gatedSDK) AddConsentEventListener(fn func(NativeEvent)) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := string(rune('a' + s.nextID))
	s.listeners[id] = fn
	return id
}

func (s *gatedSDK) RemoveConsentEventListener(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

func (s *gatedSDK) ClearConsent(context.Context, bool) error { return nil }

func (s *gatedSDK) emit(ev NativeEvent) {
	s.mu.Lock()
	var fns []func(NativeEvent)
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *gatedSDK) release() { s.gate <- struct{}{} }

func (s *gatedSDK) pullCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

func (s *gatedSDK) set(snap Snapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.err = err
}

type fixture struct {
	loop *loop.Loop
	sdk  *gatedSDK
	rec  *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := loop.New(zap.NewNop().Sugar())
	l.Start(context.Background())
	t.Cleanup(l.Stop)

	sdk := newGatedSDK()
	rec := NewReconciler(sdk, Options{
		Post:           l.Post,
		RefreshTimeout: 2 * time.Second,
		Logger:         zap.NewNop().Sugar(),
	})
	t.Cleanup(rec.Close)
	return &fixture{loop: l, sdk: sdk, rec: rec}
}

func (f *fixture) do(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, f.loop.Do(context.Background(), fn))
}

func (f *fixture) state() State {
	var st State
	_ = f.loop.Do(context.Background(), func() { st = f.rec.State() })
	return st
}

func TestDescribeNativeEvents(t *testing.T) {
	yes := true
	tests := []struct {
		name string
		ev   NativeEvent
		want string
	}{
		{"bare", NativeEvent{Kind: KindExperienceShown}, "Event: ExperienceShown"},
		{"updating", NativeEvent{Kind: KindWebViewFidesUpdating, ConsentIntended: map[string]bool{"b": false, "a": true}},
			"Event: WebViewFidesUpdating\nData: a: true, b: false"},
		{"selection updating", NativeEvent{Kind: KindExperienceSelectionUpdating, ConsentIntended: map[string]bool{"x": true}},
			"Event: ExperienceSelectionUpdating\nData: x: true"},
		{"interaction", NativeEvent{Kind: KindExperienceInteraction, Interaction: map[string]bool{"m": true}},
			"Event: ExperienceInteraction\nData: m: true"},
		{"ui changed", NativeEvent{Kind: KindWebViewFidesUIChanged, Interaction: map[string]bool{"m": false}},
			"Event: WebViewFidesUIChanged\nData: m: false"},
		{"closed", NativeEvent{Kind: KindExperienceClosed, CloseMethod: "button"},
			"Event: ExperienceClosed\nData: closeMethod: button"},
		{"initialized", NativeEvent{Kind: KindWebViewFidesInitialized, ShouldShowExperience: &yes},
			"Event: WebViewFidesInitialized\nData: shouldShowExperience: true"},
		{"modal closed", NativeEvent{Kind: KindWebViewFidesModalClosed, ConsentMethod: "reject"},
			"Event: WebViewFidesModalClosed\nData: consentMethod: reject"},
		{"payload on wrong kind is ignored", NativeEvent{Kind: KindExperienceShown, CloseMethod: "x"},
			"Event: ExperienceShown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.Describe())
		})
	}
}

func TestTriggersRefresh(t *testing.T) {
	assert.True(t, NativeEvent{Kind: KindConsentUpdatedFromWebView}.TriggersRefresh())
	assert.True(t, NativeEvent{Kind: KindExperienceSelectionUpdated}.TriggersRefresh())
	assert.False(t, NativeEvent{Kind: KindExperienceSelectionUpdating}.TriggersRefresh())
	assert.False(t, NativeEvent{Kind: KindWebViewFidesUpdated}.TriggersRefresh())
}

func TestRefreshReplacesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.sdk.set(Snapshot{Consent: map[string]bool{"a": true}, FidesString: "CP"}, nil)

	f.do(t, f.rec.Refresh)
	f.sdk.release()

	require.Eventually(t, func() bool { return f.state().Snapshot.FidesString == "CP" }, 2*time.Second, 5*time.Millisecond)
	st := f.state()
	assert.False(t, st.Refreshing)
	assert.Empty(t, st.LastError)
	assert.Equal(t, map[string]bool{"a": true}, st.Snapshot.Consent)
}

func TestRefreshCoalescesToOneExtraPull(t *testing.T) {
	f := newFixture(t)

	f.do(t, f.rec.Refresh)
	require.Eventually(t, func() bool { return f.sdk.pullCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// three triggers while the first pull is in flight
	f.do(t, func() {
		f.rec.Refresh()
		f.rec.Refresh()
		f.rec.Refresh()
	})
	assert.True(t, f.state().Refreshing)

	f.sdk.release()
	require.Eventually(t, func() bool { return f.sdk.pullCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	f.sdk.release()
	require.Eventually(t, func() bool { return !f.state().Refreshing }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, f.sdk.pullCount())
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.sdk.set(Snapshot{Consent: map[string]bool{"a": true}, FidesString: "good"}, nil)
	f.do(t, f.rec.Refresh)
	f.sdk.release()
	require.Eventually(t, func() bool { return f.state().Snapshot.FidesString == "good" }, 2*time.Second, 5*time.Millisecond)

	var refreshErr error
	f.do(t, func() {
		f.rec.opts.OnRefresh = func(err error) { refreshErr = err }
	})
	f.sdk.set(Snapshot{}, errors.New("sdk offline"))
	f.do(t, f.rec.Refresh)
	f.sdk.release()

	require.Eventually(t, func() bool { return f.state().LastError != "" }, 2*time.Second, 5*time.Millisecond)
	st := f.state()
	assert.Contains(t, st.LastError, "sdk offline")
	assert.Equal(t, "good", st.Snapshot.FidesString)
	f.do(t, func() { assert.True(t, errors.IsCanonicalRefresh(refreshErr)) })
}

func TestCanonicalEventsAreLoggedAndTriggerPull(t *testing.T) {
	f := newFixture(t)
	f.sdk.set(Snapshot{Consent: map[string]bool{"ads": false}}, nil)
	f.do(t, f.rec.StartListening)
	assert.True(t, f.state().Listening)

	f.sdk.emit(NativeEvent{Kind: KindExperienceShown})
	f.sdk.emit(NativeEvent{Kind: KindConsentUpdatedFromWebView})

	require.Eventually(t, func() bool { return f.sdk.pullCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.sdk.release()
	require.Eventually(t, func() bool { return len(f.state().Snapshot.Consent) == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"Event: ExperienceShown", "Event: ConsentUpdatedFromWebView"}, f.state().Log)
}

func TestStopListeningDropsQueuedEvents(t *testing.T) {
	f := newFixture(t)
	f.do(t, f.rec.StartListening)
	f.do(t, f.rec.StartListening)

	f.do(t, func() {
		f.rec.StopListening()
		f.rec.OnCanonicalEvent(NativeEvent{Kind: KindExperienceShown})
	})
	f.do(t, f.rec.StopListening)

	st := f.state()
	assert.False(t, st.Listening)
	assert.Empty(t, st.Log)
	assert.Empty(t, f.sdk.listeners)
}

func TestSurfaceProjectionsDoNotTouchSnapshot(t *testing.T) {
	f := newFixture(t)
	f.do(t, func() {
		f.rec.OnSurfaceConsentChanged(bridge.SurfaceID(1), map[string]bool{"a": true})
		f.rec.OnSurfaceConsentChanged(bridge.SurfaceID(2), map[string]bool{"a": false})
	})

	st := f.state()
	assert.Empty(t, st.Snapshot.Consent)
	assert.Equal(t, map[string]bool{"a": true}, st.Projections[1])
	assert.Equal(t, map[string]bool{"a": false}, st.Projections[2])

	f.do(t, func() { f.rec.Forget(1) })
	assert.NotContains(t, f.state().Projections, bridge.SurfaceID(1))

	f.do(t, f.rec.ForgetAll)
	assert.Empty(t, f.state().Projections)
}

func TestClearEventLogAndResetSnapshot(t *testing.T) {
	f := newFixture(t)
	f.do(t, func() {
		f.rec.StartListening()
		f.rec.OnCanonicalEvent(NativeEvent{Kind: KindExperienceShown})
		f.rec.snapshot = Snapshot{Consent: map[string]bool{"a": true}}
		f.rec.lastErr = "old"
	})

	f.do(t, func() {
		f.rec.ClearEventLog()
		f.rec.ResetSnapshot()
	})
	st := f.state()
	assert.Empty(t, st.Log)
	assert.Empty(t, st.Snapshot.Consent)
	assert.Empty(t, st.LastError)
}

func TestSnapshotClone(t *testing.T) {
	now := time.Now()
	s := Snapshot{Consent: map[string]bool{"a": true}, CreatedAt: &now}
	c := s.Clone()
	c.Consent["a"] = false
	*c.CreatedAt = now.Add(time.Hour)

	assert.True(t, s.Consent["a"])
	assert.Equal(t, now, *s.CreatedAt)
	assert.Equal(t, "{a: true}", s.String())
}
