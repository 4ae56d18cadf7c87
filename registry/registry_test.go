package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/janus/bridge"
	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/inject"
	"github.com/teranos/janus/internal/loop"
	"github.com/teranos/janus/metrics"
	"github.com/teranos/janus/surface"
	"github.com/teranos/janus/surface/surfacetest"
	"github.com/teranos/janus/wire"
)

const channel = "janusEventTracker"

type consentCall struct {
	id       bridge.SurfaceID
	consent  map[string]bool
	autoSync bool
}

type env struct {
	loop    *loop.Loop
	factory *surfacetest.Factory
	reg     *Registry
	metrics *metrics.Metrics

	mu       sync.Mutex
	consents []consentCall
	removed  []bridge.SurfaceID
	events   []string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	l := loop.New(zap.NewNop().Sugar())
	l.Start(context.Background())
	t.Cleanup(l.Stop)

	e := &env{loop: l, factory: &surfacetest.Factory{}, metrics: metrics.New()}
	e.reg = New(l, e.factory, Options{
		Channel:      channel,
		Destination:  func() string { return "https://ethyca.com" },
		QueryTimeout: time.Second,
		Logger:       zap.NewNop().Sugar(),
		Metrics:      e.metrics,
		OnEvent: func(_ bridge.SurfaceID, _ wire.EventName, d string) {
			e.mu.Lock()
			e.events = append(e.events, d)
			e.mu.Unlock()
		},
		OnConsentChanged: func(id bridge.SurfaceID, c map[string]bool, _ string, autoSync bool) {
			e.mu.Lock()
			e.consents = append(e.consents, consentCall{id: id, consent: c, autoSync: autoSync})
			e.mu.Unlock()
		},
		OnRemoved: func(ids []bridge.SurfaceID) {
			e.mu.Lock()
			e.removed = append(e.removed, ids...)
			e.mu.Unlock()
		},
	})
	return e
}

func (e *env) create(t *testing.T, autoSync bool) (bridge.SurfaceID, *surfacetest.Surface) {
	t.Helper()
	id, err := e.reg.CreateSurface(context.Background(), autoSync)
	require.NoError(t, err)
	return id, e.factory.Last()
}

func (e *env) state(t *testing.T) State {
	t.Helper()
	st, err := e.reg.State(context.Background())
	require.NoError(t, err)
	return st
}

func (e *env) record(id bridge.SurfaceID) bridge.Record {
	rec, _ := e.reg.Record(context.Background(), id)
	return rec
}

// settle waits for everything the loop has queued so far.
func (e *env) settle(t *testing.T) {
	t.Helper()
	require.NoError(t, e.loop.Do(context.Background(), func() {}))
}

func TestCreateSurfaceWiresBridge(t *testing.T) {
	e := newEnv(t)

	id, s := e.create(t, false)

	assert.Equal(t, bridge.SurfaceID(1), id)
	assert.True(t, s.HasHandler(channel))
	require.Len(t, s.Scripts(), 1)
	assert.Equal(t, inject.ListenerBundle(channel), s.Scripts()[0])
	assert.Equal(t, []string{"https://ethyca.com"}, s.Loads())
	assert.Zero(t, s.Evaluations(), "no query without autoSync")

	st := e.state(t)
	require.Len(t, st.Surfaces, 1)
	assert.Equal(t, id, st.Surfaces[0].ID)
	assert.Zero(t, st.Surfaces[0].EventCount)
	assert.Empty(t, st.Surfaces[0].Events)
	assert.Empty(t, st.Surfaces[0].Consent)
	assert.Empty(t, st.Surfaces[0].FidesString)
}

func TestIdsStrictlyIncrease(t *testing.T) {
	e := newEnv(t)

	a, _ := e.create(t, false)
	b, _ := e.create(t, false)
	require.NoError(t, e.reg.RemoveSurface(context.Background(), b))
	c, _ := e.create(t, false)
	require.NoError(t, e.reg.RemoveAll(context.Background()))
	d, _ := e.create(t, false)

	assert.Equal(t, []bridge.SurfaceID{1, 2, 3, 4}, []bridge.SurfaceID{a, b, c, d})
}

func TestFactoryFailureCreatesNothing(t *testing.T) {
	e := newEnv(t)
	e.factory.Fail(surfacetest.ErrFactory)

	_, err := e.reg.CreateSurface(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, surfacetest.ErrFactory)
	assert.Empty(t, e.state(t).Surfaces)

	e.factory.Fail(nil)
	id, _ := e.create(t, false)
	assert.Equal(t, bridge.SurfaceID(2), id, "a failed create still consumes its id")
}

func TestRemoveAllEqualsFresh(t *testing.T) {
	e := newEnv(t)

	var surfaces []*surfacetest.Surface
	for i := 0; i < 5; i++ {
		id, s := e.create(t, false)
		surfaces = append(surfaces, s)
		s.Emit(channel, wire.LifecycleEvent{Name: wire.FidesUIShown})
		if i%2 == 0 {
			require.NoError(t, e.reg.Select(context.Background(), id))
		}
	}
	require.NoError(t, e.reg.ToggleExpanded(context.Background(), 2))

	require.NoError(t, e.reg.RemoveAll(context.Background()))

	fresh := New(e.loop, e.factory, Options{}).Snapshot()
	assert.Equal(t, fresh, e.state(t))
	for _, s := range surfaces {
		assert.Equal(t, 1, s.Closed())
		assert.False(t, s.HasHandler(channel))
	}
	assert.Equal(t, []bridge.SurfaceID{1, 2, 3, 4, 5}, e.removed)
	assert.NoError(t, e.reg.RemoveAll(context.Background()), "removing from an empty registry")
}

func TestConsentValuesIsolatedToSurface(t *testing.T) {
	e := newEnv(t)
	a, sa := e.create(t, false)
	b, _ := e.create(t, false)

	sa.Emit(channel, wire.ConsentValuesReport{Consent: map[string]bool{"analytics": true}, FidesString: "CP,a"})
	e.settle(t)

	assert.Equal(t, map[string]bool{"analytics": true}, e.record(a).Consent)
	assert.Equal(t, "CP,a", e.record(a).FidesString)
	assert.Empty(t, e.record(b).Consent)
	assert.Empty(t, e.record(b).FidesString)
}

func TestFidesUpdatedQueriesOnlyThatSurface(t *testing.T) {
	e := newEnv(t)
	_, sa := e.create(t, false)
	_, sb := e.create(t, false)
	sa.SetPageConsent(map[string]bool{"ads": true}, "CP,ads")

	sa.Emit(channel, wire.LifecycleEvent{Name: wire.FidesUpdated})

	require.Eventually(t, func() bool { return e.record(1).FidesString == "CP,ads" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sa.Evaluations())
	assert.Zero(t, sb.Evaluations())
	assert.Equal(t, 1, e.record(1).EventCount)
}

func TestAutoSyncQueriesOnCreateAndForwards(t *testing.T) {
	e := newEnv(t)

	id, s := e.create(t, true)
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.consents) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.Evaluations())

	s.SetPageConsent(map[string]bool{"essential": true}, "CP,auto")
	require.NoError(t, e.reg.RefreshNow(context.Background(), id))

	require.Eventually(t, func() bool { return e.record(id).FidesString == "CP,auto" }, 2*time.Second, 5*time.Millisecond)
	e.settle(t)

	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.consents)
	last := e.consents[len(e.consents)-1]
	assert.Equal(t, id, last.id)
	assert.True(t, last.autoSync)
	assert.Equal(t, map[string]bool{"essential": true}, last.consent)
}

func TestToggleExpanded(t *testing.T) {
	e := newEnv(t)
	id, s := e.create(t, false)

	require.NoError(t, e.reg.ToggleExpanded(context.Background(), id))
	require.Eventually(t, func() bool { return s.Evaluations() == 1 }, 2*time.Second, 5*time.Millisecond)
	st := e.state(t)
	assert.Equal(t, []bridge.SurfaceID{id}, st.Expanded)
	assert.True(t, st.Surfaces[0].Expanded)

	require.NoError(t, e.reg.ToggleExpanded(context.Background(), id))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, s.Evaluations(), "collapsing must not query")
	assert.Empty(t, e.state(t).Expanded)
}

func TestUnknownIdsAreNoOps(t *testing.T) {
	e := newEnv(t)
	id, _ := e.create(t, false)
	require.NoError(t, e.reg.Select(context.Background(), id))
	before := e.state(t)

	ctx := context.Background()
	assert.NoError(t, e.reg.RemoveSurface(ctx, 42))
	assert.NoError(t, e.reg.ToggleExpanded(ctx, 42))
	assert.NoError(t, e.reg.Select(ctx, 42))
	assert.NoError(t, e.reg.RefreshNow(ctx, 42))

	assert.Equal(t, before, e.state(t))

	_, err := e.reg.EvaluateOn(ctx, 42, "1")
	assert.True(t, errors.IsUnknownSurface(err))
	_, err = e.reg.Record(ctx, 42)
	assert.True(t, errors.IsUnknownSurface(err))
}

func TestRemoveSurfaceClearsSelectionAndExpansion(t *testing.T) {
	e := newEnv(t)
	id, s := e.create(t, false)
	other, _ := e.create(t, false)
	require.NoError(t, e.reg.Select(context.Background(), id))
	require.NoError(t, e.reg.ToggleExpanded(context.Background(), id))
	require.NoError(t, e.reg.ToggleExpanded(context.Background(), other))

	require.NoError(t, e.reg.RemoveSurface(context.Background(), id))

	st := e.state(t)
	assert.Nil(t, st.Selected)
	assert.Equal(t, []bridge.SurfaceID{other}, st.Expanded)
	require.Len(t, st.Surfaces, 1)
	assert.Equal(t, other, st.Surfaces[0].ID)
	assert.Equal(t, 1, s.Closed())

	// a message still in flight from the removed page changes nothing
	assert.False(t, s.Emit(channel, wire.LifecycleEvent{Name: wire.FidesUIShown}))
}

func TestClearCaches(t *testing.T) {
	e := newEnv(t)
	id, s := e.create(t, false)
	s.Emit(channel, wire.LifecycleEvent{Name: wire.FidesUIShown})
	s.Emit(channel, wire.ConsentValuesReport{Consent: map[string]bool{"a": true}, FidesString: "x"})
	e.settle(t)

	require.NoError(t, e.reg.ClearCaches(context.Background()))

	rec := e.record(id)
	assert.Zero(t, rec.EventCount)
	assert.Empty(t, rec.Events)
	assert.Empty(t, rec.Consent)
	assert.Empty(t, rec.FidesString)
}

func TestEvaluateOn(t *testing.T) {
	e := newEnv(t)
	id, s := e.create(t, false)

	_, err := e.reg.EvaluateOn(context.Background(), id, inject.ShowModalSnippet())
	require.NoError(t, err)
	assert.Equal(t, []string{inject.ShowModalSnippet()}, s.EvaluatedExpressions())
}

func TestEventsAreForwarded(t *testing.T) {
	e := newEnv(t)
	_, s := e.create(t, false)
	s.Emit(channel, wire.LifecycleEvent{Name: wire.FidesUIShown})
	s.Post(channel, []byte(`not json`))
	e.settle(t)

	e.mu.Lock()
	assert.Equal(t, []string{"FidesJS Event: FidesUIShown"}, e.events)
	e.mu.Unlock()
	assert.Equal(t, 1, e.record(1).Anomalies)
}

// busy queues a task that holds the loop for d.
func (e *env) busy(d time.Duration) {
	e.loop.Post(func() { time.Sleep(d) })
}

func TestCreateSurfaceTimingOutLeavesNoRecord(t *testing.T) {
	e := newEnv(t)
	var made *surfacetest.Surface
	e.reg.factory = surface.FactoryFunc(func(ctx context.Context) (surface.Surface, error) {
		e.busy(200 * time.Millisecond)
		made = surfacetest.New()
		return made, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.reg.CreateSurface(ctx, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	e.settle(t)
	assert.Empty(t, e.state(t).Surfaces, "the late commit must not add a record")
	assert.Equal(t, 1, made.Closed())
	assert.Zero(t, testutil.ToFloat64(e.metrics.SurfacesLive))
}

func TestRemoveSurfaceTimingOutStillCloses(t *testing.T) {
	e := newEnv(t)
	id, s := e.create(t, false)
	e.busy(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.reg.RemoveSurface(ctx, id), context.DeadlineExceeded)

	e.settle(t)
	assert.Empty(t, e.state(t).Surfaces)
	require.Eventually(t, func() bool { return s.Closed() == 1 }, time.Second, 10*time.Millisecond)
	assert.False(t, s.HasHandler(channel))
}

func TestRemoveAllTimingOutStillCloses(t *testing.T) {
	e := newEnv(t)
	_, s := e.create(t, false)
	e.busy(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.reg.RemoveAll(ctx), context.DeadlineExceeded)

	e.settle(t)
	assert.Empty(t, e.state(t).Surfaces)
	require.Eventually(t, func() bool { return s.Closed() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRemoveAllClosesDespiteOneFailure(t *testing.T) {
	e := newEnv(t)
	var surfaces []*surfacetest.Surface
	for i := 0; i < 3; i++ {
		_, s := e.create(t, false)
		surfaces = append(surfaces, s)
	}

	failed := make(chan struct{})
	surfaces[0].SetCloseError(errors.New("renderer gone"))
	surfaces[0].OnClose(func(context.Context) { close(failed) })
	for _, s := range surfaces[1:] {
		s.OnClose(func(context.Context) {
			<-failed
			time.Sleep(20 * time.Millisecond)
		})
	}

	require.NoError(t, e.reg.RemoveAll(context.Background()))

	for i, s := range surfaces {
		assert.Equal(t, 1, s.Closed(), "surface %d", i)
	}
	for i, s := range surfaces[1:] {
		assert.Equal(t, []error{nil}, s.CloseContextErrors(), "surface %d saw a cancelled context", i+2)
	}
}
