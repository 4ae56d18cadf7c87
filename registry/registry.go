// Package registry owns the set of live surfaces. Every surface has exactly
// one bridge and one record, created and destroyed together, and all of them
// live on the host's loop.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/janus/bridge"
	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/internal/loop"
	"github.com/teranos/janus/logger"
	"github.com/teranos/janus/metrics"
	"github.com/teranos/janus/surface"
	"github.com/teranos/janus/wire"
)

const closeTimeout = 5 * time.Second

// Options configures a Registry. Callbacks run on the loop and may be nil.
type Options struct {
	Channel string

	// Destination returns the URL each new surface loads.
	Destination func() string

	QueryTimeout time.Duration
	Logger       *zap.SugaredLogger
	Metrics      *metrics.Metrics

	OnChange         func()
	OnEvent          func(id bridge.SurfaceID, name wire.EventName, description string)
	OnConsentChanged func(id bridge.SurfaceID, consent map[string]bool, fidesString string, autoSync bool)
	OnRemoved        func(ids []bridge.SurfaceID)
}

// State is a copy of the registry's observable state.
type State struct {
	Surfaces []bridge.Record    `json:"surfaces"`
	Expanded []bridge.SurfaceID `json:"expanded"`
	Selected *bridge.SurfaceID  `json:"selected,omitempty"`
}

// Registry creates, tracks and tears down surfaces.
type Registry struct {
	loop    *loop.Loop
	factory surface.Factory
	opts    Options
	logger  *zap.SugaredLogger

	// loop-owned
	nextID   bridge.SurfaceID
	bridges  map[bridge.SurfaceID]*bridge.Bridge
	expanded map[bridge.SurfaceID]bool
	selected *bridge.SurfaceID
}

// New creates an empty registry whose state lives on l.
func New(l *loop.Loop, factory surface.Factory, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logger.ComponentLogger("registry")
	}
	if opts.Destination == nil {
		opts.Destination = func() string { return "about:blank" }
	}
	return &Registry{
		loop:     l,
		factory:  factory,
		opts:     opts,
		logger:   opts.Logger,
		bridges:  make(map[bridge.SurfaceID]*bridge.Bridge),
		expanded: make(map[bridge.SurfaceID]bool),
	}
}

// CreateSurface builds a surface, bridges it and loads the destination.
// With autoSync the surface's consent is queried as soon as it is loaded and
// forwarded to the native SDK whenever it changes.
func (r *Registry) CreateSurface(ctx context.Context, autoSync bool) (bridge.SurfaceID, error) {
	var id bridge.SurfaceID
	if err := r.loop.Do(ctx, func() {
		r.nextID++
		id = r.nextID
	}); err != nil {
		return 0, err
	}

	s, err := r.factory.NewSurface(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create surface %d", id)
	}

	b := bridge.New(id, s, r.bridgeOptions())
	b.Record().AutoSync = autoSync

	var commit handoff
	if err := r.loop.Do(ctx, func() {
		if !commit.take() {
			return
		}
		r.bridges[id] = b
		r.observeLive()
		if r.opts.Metrics != nil {
			r.opts.Metrics.IncrementSurfacesCreated()
		}
		r.changed()
	}); err != nil && commit.abandon() {
		b.Release()
		r.closeSurface(s, id)
		return 0, err
	}

	if err := b.Register(ctx); err != nil {
		_ = r.RemoveSurface(context.WithoutCancel(ctx), id)
		return 0, errors.Wrapf(err, "failed to register bridge for surface %d", id)
	}

	dest := r.opts.Destination()
	if err := s.Load(ctx, dest); err != nil {
		// the surface stays; it simply has no page to report from
		logger.SurfaceLogger(r.logger, int(id)).Warnw("Destination failed to load",
			logger.FieldURL, dest,
			logger.FieldError, err)
	}

	if autoSync {
		b.RefreshConsentNow()
	}

	logger.SurfaceLogger(r.logger, int(id)).Infow("Surface created", "auto_sync", autoSync, logger.FieldURL, dest)
	return id, nil
}

// RemoveSurface releases and closes one surface. Unknown ids are a no-op.
func (r *Registry) RemoveSurface(ctx context.Context, id bridge.SurfaceID) error {
	var (
		b      *bridge.Bridge
		detach handoff
	)
	if err := r.loop.Do(ctx, func() {
		removed := r.detach(id)
		if removed != nil {
			r.observeLive()
			if r.opts.Metrics != nil {
				r.opts.Metrics.IncrementSurfacesRemoved(1)
			}
			if r.opts.OnRemoved != nil {
				r.opts.OnRemoved([]bridge.SurfaceID{id})
			}
			r.changed()
		}
		b = removed
		if !detach.take() && removed != nil {
			go r.closeSurface(removed.Surface(), id)
		}
	}); err != nil && detach.abandon() {
		return err
	}

	if b == nil {
		r.logger.Debugw("Remove of unknown surface ignored", logger.FieldSurfaceID, id)
		return nil
	}
	r.closeSurface(b.Surface(), id)
	return nil
}

// detach releases the bridge and drops every trace of id. Loop only.
func (r *Registry) detach(id bridge.SurfaceID) *bridge.Bridge {
	b, ok := r.bridges[id]
	if !ok {
		return nil
	}
	b.Release()
	delete(r.bridges, id)
	delete(r.expanded, id)
	if r.selected != nil && *r.selected == id {
		r.selected = nil
	}
	return b
}

// RemoveAll releases every surface in one pass and closes them concurrently.
// Afterwards the registry is indistinguishable from a fresh one apart from
// its id counter.
func (r *Registry) RemoveAll(ctx context.Context) error {
	var (
		released []*bridge.Bridge
		release  handoff
	)
	if err := r.loop.Do(ctx, func() {
		defer func() {
			if !release.take() {
				go r.closeAll(context.WithoutCancel(ctx), released)
			}
		}()
		ids := make([]bridge.SurfaceID, 0, len(r.bridges))
		for id, b := range r.bridges {
			b.Release()
			released = append(released, b)
			ids = append(ids, id)
		}
		r.bridges = make(map[bridge.SurfaceID]*bridge.Bridge)
		r.expanded = make(map[bridge.SurfaceID]bool)
		r.selected = nil

		r.observeLive()
		if len(ids) == 0 {
			return
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if r.opts.Metrics != nil {
			r.opts.Metrics.IncrementSurfacesRemoved(len(ids))
		}
		if r.opts.OnRemoved != nil {
			r.opts.OnRemoved(ids)
		}
		r.changed()
	}); err != nil && release.abandon() {
		return err
	}

	r.closeAll(ctx, released)
	return nil
}

// closeAll closes every released surface concurrently. Each close gets its
// own deadline, and one failure does not cut the others short.
func (r *Registry) closeAll(ctx context.Context, released []*bridge.Bridge) {
	var g errgroup.Group
	for _, b := range released {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
			defer cancel()
			return errors.Wrapf(b.Surface().Close(cctx), "failed to close surface %d", b.ID())
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warnw("Surface teardown incomplete", logger.FieldError, err)
	}
	r.logger.Infow("Removed all surfaces", logger.FieldCount, len(released))
}

// handoff decides who finishes the work of a loop task whose caller may stop
// waiting for it. The task takes it when it runs; a caller whose Do failed
// abandons it. Exactly one of the two succeeds.
type handoff struct {
	state atomic.Int32
}

const (
	handoffPending int32 = iota
	handoffTaken
	handoffAbandoned
)

func (h *handoff) take() bool {
	return h.state.CompareAndSwap(handoffPending, handoffTaken)
}

func (h *handoff) abandon() bool {
	return h.state.CompareAndSwap(handoffPending, handoffAbandoned)
}

func (r *Registry) closeSurface(s surface.Surface, id bridge.SurfaceID) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		logger.SurfaceLogger(r.logger, int(id)).Warnw("Surface close failed", logger.FieldError, err)
	}
}

// ToggleExpanded flips the expanded flag. Expanding refreshes the
// surface's consent; collapsing does not. Unknown ids are a no-op.
func (r *Registry) ToggleExpanded(ctx context.Context, id bridge.SurfaceID) error {
	return r.loop.Do(ctx, func() {
		b, ok := r.bridges[id]
		if !ok {
			return
		}
		if r.expanded[id] {
			delete(r.expanded, id)
			b.Record().Expanded = false
		} else {
			r.expanded[id] = true
			b.Record().Expanded = true
			b.RefreshConsentNow()
		}
		r.changed()
	})
}

// Select marks id as the selected surface. Unknown ids are a no-op.
func (r *Registry) Select(ctx context.Context, id bridge.SurfaceID) error {
	return r.loop.Do(ctx, func() {
		if _, ok := r.bridges[id]; !ok {
			return
		}
		sel := id
		r.selected = &sel
		r.changed()
	})
}

// RefreshNow queries the surface's consent. Unknown ids are a no-op.
func (r *Registry) RefreshNow(ctx context.Context, id bridge.SurfaceID) error {
	return r.loop.Do(ctx, func() {
		if b, ok := r.bridges[id]; ok {
			b.RefreshConsentNow()
		}
	})
}

// EvaluateOn runs expr on the surface and returns its JSON result.
// Unknown ids return ErrUnknownSurface.
func (r *Registry) EvaluateOn(ctx context.Context, id bridge.SurfaceID, expr string) (json.RawMessage, error) {
	var s surface.Surface
	if err := r.loop.Do(ctx, func() {
		if b, ok := r.bridges[id]; ok {
			s = b.Surface()
		}
	}); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.Wrapf(errors.ErrUnknownSurface, "surface %d", id)
	}
	return s.Evaluate(ctx, expr)
}

// Record returns a copy of one record. Unknown ids return ErrUnknownSurface.
func (r *Registry) Record(ctx context.Context, id bridge.SurfaceID) (bridge.Record, error) {
	var (
		rec bridge.Record
		ok  bool
	)
	if err := r.loop.Do(ctx, func() {
		var b *bridge.Bridge
		if b, ok = r.bridges[id]; ok {
			rec = b.Record().Clone()
		}
	}); err != nil {
		return bridge.Record{}, err
	}
	if !ok {
		return bridge.Record{}, errors.Wrapf(errors.ErrUnknownSurface, "surface %d", id)
	}
	return rec, nil
}

// State returns a copy of the registry state.
func (r *Registry) State(ctx context.Context) (State, error) {
	var st State
	err := r.loop.Do(ctx, func() { st = r.Snapshot() })
	return st, err
}

// Snapshot is State for callers already on the loop.
func (r *Registry) Snapshot() State {
	st := State{
		Surfaces: make([]bridge.Record, 0, len(r.bridges)),
		Expanded: make([]bridge.SurfaceID, 0, len(r.expanded)),
	}
	for _, b := range r.bridges {
		st.Surfaces = append(st.Surfaces, b.Record().Clone())
	}
	sort.Slice(st.Surfaces, func(i, j int) bool { return st.Surfaces[i].ID < st.Surfaces[j].ID })
	for id := range r.expanded {
		st.Expanded = append(st.Expanded, id)
	}
	sort.Slice(st.Expanded, func(i, j int) bool { return st.Expanded[i] < st.Expanded[j] })
	if r.selected != nil {
		sel := *r.selected
		st.Selected = &sel
	}
	return st
}

// ClearCaches empties every surface's event log and consent cache.
func (r *Registry) ClearCaches(ctx context.Context) error {
	return r.loop.Do(ctx, func() { r.ClearCachesNow() })
}

// ClearCachesNow is ClearCaches for callers already on the loop.
func (r *Registry) ClearCachesNow() {
	for _, b := range r.bridges {
		b.ClearEvents()
		b.ClearConsent()
	}
	r.changed()
}

// Len returns the number of live surfaces. Loop only.
func (r *Registry) Len() int {
	return len(r.bridges)
}

func (r *Registry) bridgeOptions() bridge.Options {
	m := r.opts.Metrics
	return bridge.Options{
		Channel:      r.opts.Channel,
		Post:         r.loop.Post,
		QueryTimeout: r.opts.QueryTimeout,
		Logger:       r.logger,
		OnEventCountChanged: func(bridge.SurfaceID, int) {
			r.changed()
		},
		OnEvent: func(id bridge.SurfaceID, name wire.EventName, description string) {
			if m != nil {
				m.IncrementEvent(string(name))
			}
			if r.opts.OnEvent != nil {
				r.opts.OnEvent(id, name, description)
			}
		},
		OnConsentChanged: func(id bridge.SurfaceID, consent map[string]bool, fidesString string) {
			autoSync := false
			if b, ok := r.bridges[id]; ok {
				autoSync = b.Record().AutoSync
			}
			if r.opts.OnConsentChanged != nil {
				r.opts.OnConsentChanged(id, consent, fidesString, autoSync)
			}
			r.changed()
		},
		OnAnomaly: func(bridge.SurfaceID, error) {
			if m != nil {
				m.IncrementAnomalies()
			}
			r.changed()
		},
		OnQuery: func(bridge.SurfaceID) {
			if m != nil {
				m.IncrementConsentQueries()
			}
		},
		OnQueryFailure: func(bridge.SurfaceID, error) {
			if m != nil {
				m.IncrementQueryFailures()
			}
		},
	}
}

func (r *Registry) observeLive() {
	if r.opts.Metrics != nil {
		r.opts.Metrics.SetSurfacesLive(len(r.bridges))
	}
}

func (r *Registry) changed() {
	if r.opts.OnChange != nil {
		r.opts.OnChange()
	}
}
