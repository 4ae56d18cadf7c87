// Package host ties the surface registry and the consent reconciler to one
// owner loop and exposes the commands and observable state a UI drives.
package host

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/janus/bridge"
	"github.com/teranos/janus/consent"
	"github.com/teranos/janus/db"
	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/inject"
	"github.com/teranos/janus/internal/loop"
	"github.com/teranos/janus/journal"
	"github.com/teranos/janus/logger"
	"github.com/teranos/janus/metrics"
	"github.com/teranos/janus/registry"
	"github.com/teranos/janus/surface"
	"github.com/teranos/janus/wire"
)

const (
	journalQueueSize = 256
	syncQueueSize    = 64
	syncTimeout      = 10 * time.Second
)

// Config holds host settings.
type Config struct {
	Channel        string
	DestinationURL string
	QueryTimeout   time.Duration
	// Listen installs the native event listener when the host starts.
	Listen bool
}

// Deps are the collaborators a host drives. Factory and SDK are required.
type Deps struct {
	Factory surface.Factory
	SDK     consent.NativeSDK
	Journal *journal.Store
	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger
}

// Host owns every surface and the canonical consent copy. All state lives
// on its loop; the exported methods are safe from any goroutine.
type Host struct {
	loop       *loop.Loop
	registry   *registry.Registry
	reconciler *consent.Reconciler
	sdk        consent.NativeSDK
	syncer     consent.SurfaceSyncer
	metrics    *metrics.Metrics
	logger     *zap.SugaredLogger
	cfg        Config
	sessionID  string

	destination atomic.Value // string

	journal      *journal.Store
	journalQueue chan journal.Entry
	journalDone  chan struct{}

	// surface consent pushed to the native SDK, in the order it arrived
	syncQueue chan syncRequest
	syncDone  chan struct{}

	subsMu  sync.Mutex
	subs    map[int]chan struct{}
	nextSub int

	started   atomic.Bool
	closeOnce sync.Once
}

// New wires a host. Call Run to start it.
func New(cfg Config, deps Deps) *Host {
	log := deps.Logger
	if log == nil {
		log = logger.ComponentLogger("host")
	}

	h := &Host{
		loop:      loop.New(log.Named("loop")),
		sdk:       deps.SDK,
		metrics:   deps.Metrics,
		logger:    log,
		cfg:       cfg,
		sessionID: uuid.NewString(),
		journal:   deps.Journal,
		subs:      make(map[int]chan struct{}),
	}
	h.destination.Store(cfg.DestinationURL)
	if syncer, ok := deps.SDK.(consent.SurfaceSyncer); ok {
		h.syncer = syncer
		h.syncQueue = make(chan syncRequest, syncQueueSize)
		h.syncDone = make(chan struct{})
	}

	h.reconciler = consent.NewReconciler(deps.SDK, consent.Options{
		Post:      h.loop.Post,
		OnChange:  h.notify,
		OnEvent:   h.onCanonicalEvent,
		OnRefresh: h.onCanonicalRefresh,
		Logger:    log.Named("consent"),
	})

	h.registry = registry.New(h.loop, deps.Factory, registry.Options{
		Channel:          cfg.Channel,
		Destination:      h.Destination,
		QueryTimeout:     cfg.QueryTimeout,
		Logger:           log.Named("registry"),
		Metrics:          deps.Metrics,
		OnChange:         h.notify,
		OnEvent:          h.onSurfaceEvent,
		OnConsentChanged: h.onSurfaceConsent,
		OnRemoved:        h.onRemoved,
	})

	if h.journal != nil {
		h.journalQueue = make(chan journal.Entry, journalQueueSize)
		h.journalDone = make(chan struct{})
	}
	return h
}

// Run starts the loop and the journal writer, then performs the initial
// canonical pull. It returns once the host is ready.
func (h *Host) Run(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return errors.New("host already running")
	}
	// the loop outlives ctx so Close can still tear surfaces down
	h.loop.Start(context.WithoutCancel(ctx))
	if h.journal != nil {
		go h.writeJournal()
	}
	if h.syncer != nil {
		go h.runSync()
	}

	return h.loop.Do(ctx, func() {
		if h.cfg.Listen {
			h.reconciler.StartListening()
		}
		h.reconciler.Refresh()
		h.logger.Infow("Host started",
			logger.FieldSessionID, h.sessionID,
			logger.FieldChannel, h.cfg.Channel,
			logger.FieldURL, h.Destination())
	})
}

// Close removes every surface and stops the host. Safe to call more than once.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		started := h.started.Load()
		if started {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := h.registry.RemoveAll(ctx); err != nil && !errors.Is(err, loop.ErrStopped) {
				h.logger.Warnw("Failed to remove surfaces on shutdown", logger.FieldError, err)
			}
			_ = h.loop.Do(ctx, h.reconciler.StopListening)
		}
		h.reconciler.Close()
		h.loop.Stop()

		// the writers only exist once Run has started them
		if h.journalQueue != nil {
			close(h.journalQueue)
			if started {
				<-h.journalDone
			}
		}
		if h.syncQueue != nil {
			close(h.syncQueue)
			if started {
				<-h.syncDone
			}
		}

		h.subsMu.Lock()
		for id, ch := range h.subs {
			close(ch)
			delete(h.subs, id)
		}
		h.subsMu.Unlock()
	})
}

// Done is closed when the loop has stopped.
func (h *Host) Done() <-chan struct{} {
	return h.loop.Done()
}

// SessionID identifies this host run in the journal.
func (h *Host) SessionID() string {
	return h.sessionID
}

// Metrics returns the collectors the host reports to, or nil.
func (h *Host) Metrics() *metrics.Metrics {
	return h.metrics
}

// Destination returns the URL new surfaces load.
func (h *Host) Destination() string {
	return h.destination.Load().(string)
}

// SetDestination changes the URL future surfaces load. Existing surfaces
// keep their page.
func (h *Host) SetDestination(url string) {
	h.destination.Store(url)
	h.logger.Infow("Destination changed", logger.FieldURL, url)
	h.notify()
}

// CreateSurface adds a surface.
func (h *Host) CreateSurface(ctx context.Context, autoSync bool) (bridge.SurfaceID, error) {
	return h.registry.CreateSurface(ctx, autoSync)
}

// RemoveSurface removes one surface. Unknown ids are a no-op.
func (h *Host) RemoveSurface(ctx context.Context, id bridge.SurfaceID) error {
	return h.registry.RemoveSurface(ctx, id)
}

// RemoveAll removes every surface.
func (h *Host) RemoveAll(ctx context.Context) error {
	return h.registry.RemoveAll(ctx)
}

// ToggleExpanded flips a surface's expanded flag.
func (h *Host) ToggleExpanded(ctx context.Context, id bridge.SurfaceID) error {
	return h.registry.ToggleExpanded(ctx, id)
}

// Select marks a surface as the one whose log is shown.
func (h *Host) Select(ctx context.Context, id bridge.SurfaceID) error {
	return h.registry.Select(ctx, id)
}

// RefreshSurfaceNow queries a surface's consent.
func (h *Host) RefreshSurfaceNow(ctx context.Context, id bridge.SurfaceID) error {
	return h.registry.RefreshNow(ctx, id)
}

// SetListening installs or removes the native event listener.
func (h *Host) SetListening(ctx context.Context, enabled bool) error {
	return h.loop.Do(ctx, func() {
		if enabled {
			h.reconciler.StartListening()
		} else {
			h.reconciler.StopListening()
		}
	})
}

// ClearEventLog empties the canonical event log.
func (h *Host) ClearEventLog(ctx context.Context) error {
	return h.loop.Do(ctx, h.reconciler.ClearEventLog)
}

// RefreshCanonical pulls the canonical snapshot.
func (h *Host) RefreshCanonical(ctx context.Context) error {
	return h.loop.Do(ctx, h.reconciler.Refresh)
}

// ClearLocalCaches clears native consent with its metadata, then the
// canonical copy, the canonical log and every surface's log and consent.
func (h *Host) ClearLocalCaches(ctx context.Context) error {
	if err := h.sdk.ClearConsent(ctx, true); err != nil {
		return errors.Wrap(err, "failed to clear native consent")
	}
	return h.loop.Do(ctx, func() {
		h.reconciler.ResetSnapshot()
		h.reconciler.ClearEventLog()
		h.reconciler.ForgetAll()
		h.registry.ClearCachesNow()
		h.logger.Infow("Local caches cleared")
	})
}

// ShowModal asks the surface's page to open the consent modal and reports
// whether the page had a library to do it.
func (h *Host) ShowModal(ctx context.Context, id bridge.SurfaceID) (bool, error) {
	raw, err := h.registry.EvaluateOn(ctx, id, inject.ShowModalSnippet())
	if err != nil {
		return false, err
	}
	var shown bool
	if err := json.Unmarshal(raw, &shown); err != nil {
		return false, errors.Wrapf(err, "unexpected show-modal result %s", string(raw))
	}
	return shown, nil
}

// SurfaceEvents returns a surface's event log. Unknown ids return ErrUnknownSurface.
func (h *Host) SurfaceEvents(ctx context.Context, id bridge.SurfaceID) ([]string, error) {
	rec, err := h.registry.Record(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Events == nil {
		return []string{}, nil
	}
	return rec.Events, nil
}

// Journal lists journaled events of this session.
func (h *Host) Journal(ctx context.Context, f journal.Filter) ([]journal.Entry, error) {
	if h.journal == nil {
		return nil, errors.Wrap(errors.ErrServiceUnavailable, "journal is disabled")
	}
	if f.SessionID == "" {
		f.SessionID = h.sessionID
	}
	return h.journal.List(ctx, f)
}

// SurfaceView is one surface as observers see it.
type SurfaceView struct {
	ID          bridge.SurfaceID `json:"id"`
	EventCount  int              `json:"event_count"`
	Expanded    bool             `json:"expanded"`
	Selected    bool             `json:"selected"`
	AutoSync    bool             `json:"auto_sync"`
	Anomalies   int              `json:"anomalies"`
	Events      []string         `json:"events"`
	Consent     map[string]bool  `json:"consent"`
	FidesString string           `json:"fides_string"`
}

// State is everything a UI renders. Surfaces are ordered by id.
type State struct {
	SessionID      string            `json:"session_id"`
	Destination    string            `json:"destination"`
	Surfaces       []SurfaceView     `json:"surfaces"`
	Selected       *bridge.SurfaceID `json:"selected,omitempty"`
	Canonical      consent.Snapshot  `json:"canonical"`
	CanonicalLog   []string          `json:"canonical_log"`
	Listening      bool              `json:"listening"`
	Refreshing     bool              `json:"refreshing"`
	CanonicalError string            `json:"canonical_error,omitempty"`
}

// State returns a consistent copy of the host state.
func (h *Host) State(ctx context.Context) (State, error) {
	var st State
	err := h.loop.Do(ctx, func() {
		st = h.snapshot()
	})
	return st, err
}

func (h *Host) snapshot() State {
	reg := h.registry.Snapshot()
	canon := h.reconciler.State()

	st := State{
		SessionID:      h.sessionID,
		Destination:    h.Destination(),
		Surfaces:       make([]SurfaceView, 0, len(reg.Surfaces)),
		Selected:       reg.Selected,
		Canonical:      canon.Snapshot,
		CanonicalLog:   canon.Log,
		Listening:      canon.Listening,
		Refreshing:     canon.Refreshing,
		CanonicalError: canon.LastError,
	}
	if st.CanonicalLog == nil {
		st.CanonicalLog = []string{}
	}
	for _, rec := range reg.Surfaces {
		events := rec.Events
		if events == nil {
			events = []string{}
		}
		st.Surfaces = append(st.Surfaces, SurfaceView{
			ID:          rec.ID,
			EventCount:  rec.EventCount,
			Expanded:    rec.Expanded,
			Selected:    reg.Selected != nil && *reg.Selected == rec.ID,
			AutoSync:    rec.AutoSync,
			Anomalies:   rec.Anomalies,
			Events:      events,
			Consent:     rec.Consent,
			FidesString: rec.FidesString,
		})
	}
	return st
}

// Subscribe returns a channel that receives a value whenever state may have
// changed. Notifications coalesce; a slow reader sees one pending signal.
// Call the returned func to unsubscribe.
func (h *Host) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.subsMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	h.subsMu.Unlock()

	return ch, func() {
		h.subsMu.Lock()
		defer h.subsMu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

func (h *Host) notify() {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (h *Host) onSurfaceEvent(id bridge.SurfaceID, name wire.EventName, description string) {
	sid := int(id)
	h.enqueueJournal(journal.Entry{
		SurfaceID:   &sid,
		Source:      journal.SourceSurface,
		EventType:   string(name),
		Description: description,
	})
}

func (h *Host) onSurfaceConsent(id bridge.SurfaceID, values map[string]bool, fidesString string, autoSync bool) {
	h.reconciler.OnSurfaceConsentChanged(id, values)
	if !autoSync || h.syncQueue == nil {
		return
	}

	select {
	case h.syncQueue <- syncRequest{id: id, values: values, fidesString: fidesString}:
	default:
		logger.SurfaceLogger(h.logger, int(id)).Warnw("Sync queue full, dropping surface consent")
	}
}

type syncRequest struct {
	id          bridge.SurfaceID
	values      map[string]bool
	fidesString string
}

func (h *Host) runSync() {
	defer close(h.syncDone)
	for req := range h.syncQueue {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		err := h.syncer.SyncFromSurface(ctx, req.values, req.fidesString)
		cancel()
		if err != nil {
			logger.SurfaceLogger(h.logger, int(req.id)).Warnw("Surface consent sync failed", logger.FieldError, err)
		}
	}
}

func (h *Host) onRemoved(ids []bridge.SurfaceID) {
	for _, id := range ids {
		h.reconciler.Forget(id)
	}
}

func (h *Host) onCanonicalEvent(ev consent.NativeEvent, description string) {
	if h.metrics != nil {
		h.metrics.IncrementCanonicalEvent(string(ev.Kind))
	}
	h.enqueueJournal(journal.Entry{
		Source:      journal.SourceCanonical,
		EventType:   string(ev.Kind),
		Description: description,
	})
}

func (h *Host) onCanonicalRefresh(err error) {
	if h.metrics != nil {
		h.metrics.ObserveCanonicalRefresh(err)
	}
}

// enqueueJournal hands e to the writer without blocking the loop. Entries
// are dropped when the writer falls behind.
func (h *Host) enqueueJournal(e journal.Entry) {
	if h.journalQueue == nil {
		return
	}
	e.SessionID = h.sessionID
	e.CreatedAt = time.Now().UTC()
	select {
	case h.journalQueue <- e:
	default:
		h.logger.Warnw("Journal queue full, dropping entry", logger.FieldEventType, e.EventType)
		if h.metrics != nil {
			h.metrics.IncrementJournalFailures()
		}
	}
}

func (h *Host) writeJournal() {
	defer close(h.journalDone)
	for e := range h.journalQueue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := h.journal.Append(ctx, e)
		cancel()
		if db.IsClosed(err) {
			h.logger.Debugw("Journal closed, dropping entry", logger.FieldEventType, e.EventType)
			continue
		}
		if err != nil {
			h.logger.Warnw("Journal write failed", logger.FieldError, err)
			if h.metrics != nil {
				h.metrics.IncrementJournalFailures()
			}
		}
	}
}
