package consent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/janus/bridge"
	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/logger"
)

const defaultRefreshTimeout = 10 * time.Second

// Options configures a Reconciler. Post is required.
type Options struct {
	// Post schedules fn on the owner loop.
	Post func(fn func()) bool

	// OnChange runs on the loop after any observable state changes.
	OnChange func()

	// OnEvent runs on the loop for every canonical event description.
	OnEvent func(ev NativeEvent, description string)

	// OnRefresh runs on the loop when a pull completes. err is nil on success.
	OnRefresh func(err error)

	RefreshTimeout time.Duration
	Logger         *zap.SugaredLogger
}

// State is a copy of the reconciler's observable state.
type State struct {
	Snapshot    Snapshot                             `json:"snapshot"`
	Log         []string                             `json:"log"`
	Listening   bool                                 `json:"listening"`
	Refreshing  bool                                 `json:"refreshing"`
	LastError   string                               `json:"last_error,omitempty"`
	Projections map[bridge.SurfaceID]map[string]bool `json:"projections"`
}

// Reconciler keeps the host's copy of the canonical snapshot current and logs
// canonical events. All methods except Close must run on the owner loop.
//
// Pulls never overlap: a trigger while a pull is in flight sets one pending
// flag, and completion with the flag set starts exactly one more pull.
type Reconciler struct {
	sdk    NativeSDK
	opts   Options
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	snapshot    Snapshot
	log         []string
	listenerID  string
	refreshing  bool
	pending     bool
	lastErr     string
	projections map[bridge.SurfaceID]map[string]bool
}

// NewReconciler creates a reconciler for sdk.
func NewReconciler(sdk NativeSDK, opts Options) *Reconciler {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.ComponentLogger("consent")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		sdk:         sdk,
		opts:        opts,
		logger:      opts.Logger,
		ctx:         ctx,
		cancel:      cancel,
		snapshot:    Empty(),
		projections: make(map[bridge.SurfaceID]map[string]bool),
	}
}

// OnSurfaceConsentChanged stores the per-surface projection. It never
// touches the canonical snapshot.
func (r *Reconciler) OnSurfaceConsentChanged(id bridge.SurfaceID, consent map[string]bool) {
	cp := make(map[string]bool, len(consent))
	for k, v := range consent {
		cp[k] = v
	}
	r.projections[id] = cp
}

// Forget drops the projection for a removed surface.
func (r *Reconciler) Forget(id bridge.SurfaceID) {
	delete(r.projections, id)
}

// ForgetAll drops every projection.
func (r *Reconciler) ForgetAll() {
	r.projections = make(map[bridge.SurfaceID]map[string]bool)
}

// OnCanonicalEvent logs ev and pulls a fresh snapshot when ev says the
// canonical state moved.
func (r *Reconciler) OnCanonicalEvent(ev NativeEvent) {
	if r.listenerID == "" {
		// delivered after StopListening
		return
	}
	description := ev.Describe()
	r.log = append(r.log, description)
	r.logger.Debugw("Canonical event", logger.FieldEventKind, ev.Kind)

	if r.opts.OnEvent != nil {
		r.opts.OnEvent(ev, description)
	}
	if ev.TriggersRefresh() {
		r.Refresh()
	}
	r.changed()
}

// Refresh pulls the canonical snapshot off the loop. If a pull is already
// running the request is coalesced into one follow-up pull.
func (r *Reconciler) Refresh() {
	if r.refreshing {
		r.pending = true
		r.logger.Debugw("Refresh coalesced", logger.FieldPending, true)
		return
	}
	r.refreshing = true

	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.opts.RefreshTimeout)
		defer cancel()
		snap, err := r.sdk.Consent(ctx)
		if err != nil {
			err = errors.CanonicalRefresh(err, "pull canonical snapshot")
		}
		r.opts.Post(func() { r.finishRefresh(snap, err) })
	}()
}

func (r *Reconciler) finishRefresh(snap Snapshot, err error) {
	r.refreshing = false

	if err != nil {
		r.lastErr = err.Error()
		r.logger.Warnw("Canonical refresh failed", logger.FieldError, err)
	} else {
		r.snapshot = snap.Clone()
		r.lastErr = ""
	}
	if r.opts.OnRefresh != nil {
		r.opts.OnRefresh(err)
	}

	if r.pending {
		r.pending = false
		r.Refresh()
	}
	r.changed()
}

// StartListening subscribes to native events. Idempotent.
func (r *Reconciler) StartListening() {
	if r.listenerID != "" {
		return
	}
	r.listenerID = r.sdk.AddConsentEventListener(func(ev NativeEvent) {
		r.opts.Post(func() { r.OnCanonicalEvent(ev) })
	})
	r.logger.Infow("Listening for canonical events", logger.FieldListener, r.listenerID)
	r.changed()
}

// StopListening unsubscribes. Events already queued are dropped. Idempotent.
func (r *Reconciler) StopListening() {
	if r.listenerID == "" {
		return
	}
	r.sdk.RemoveConsentEventListener(r.listenerID)
	r.logger.Infow("Stopped listening for canonical events", logger.FieldListener, r.listenerID)
	r.listenerID = ""
	r.changed()
}

// Listening reports whether a native listener is installed.
func (r *Reconciler) Listening() bool {
	return r.listenerID != ""
}

// ClearEventLog empties the canonical event log.
func (r *Reconciler) ClearEventLog() {
	r.log = nil
	r.changed()
}

// ResetSnapshot replaces the cached snapshot with an empty one.
func (r *Reconciler) ResetSnapshot() {
	r.snapshot = Empty()
	r.lastErr = ""
	r.changed()
}

// State returns a copy of the observable state.
func (r *Reconciler) State() State {
	st := State{
		Snapshot:    r.snapshot.Clone(),
		Listening:   r.listenerID != "",
		Refreshing:  r.refreshing,
		LastError:   r.lastErr,
		Projections: make(map[bridge.SurfaceID]map[string]bool, len(r.projections)),
	}
	if r.log != nil {
		st.Log = append([]string(nil), r.log...)
	}
	for id, c := range r.projections {
		cp := make(map[string]bool, len(c))
		for k, v := range c {
			cp[k] = v
		}
		st.Projections[id] = cp
	}
	return st
}

// Close abandons in-flight pulls. Safe from any goroutine.
func (r *Reconciler) Close() {
	r.cancel()
}

func (r *Reconciler) changed() {
	if r.opts.OnChange != nil {
		r.opts.OnChange()
	}
}
