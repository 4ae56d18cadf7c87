// Package bridge connects one surface to the host: it installs the listener
// bundle, decodes what the page posts, keeps the surface's Record current and
// asks the page for its consent values when they may have changed.
package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/inject"
	"github.com/teranos/janus/logger"
	"github.com/teranos/janus/surface"
	"github.com/teranos/janus/wire"
)

// Options configures a Bridge. Post is required; callbacks may be nil.
// Every callback runs on the loop behind Post.
type Options struct {
	Channel string

	// Post schedules fn on the owner loop and reports whether it was accepted.
	Post func(fn func()) bool

	OnEventCountChanged func(id SurfaceID, count int)
	OnConsentChanged    func(id SurfaceID, consent map[string]bool, fidesString string)
	OnEvent             func(id SurfaceID, name wire.EventName, description string)
	OnAnomaly           func(id SurfaceID, err error)
	OnQueryFailure      func(id SurfaceID, err error)

	// OnQuery runs before each consent query is issued. Any goroutine.
	OnQuery func(id SurfaceID)

	// QueryTimeout bounds one consent query. Zero leaves queries unbounded;
	// Release still abandons them.
	QueryTimeout time.Duration
	Logger       *zap.SugaredLogger
}

// Bridge is the per-surface protocol endpoint.
type Bridge struct {
	id      SurfaceID
	surface surface.Surface
	record  *Record
	opts    Options
	logger  *zap.SugaredLogger

	ctx      context.Context
	cancel   context.CancelFunc
	released atomic.Bool
}

// New creates a bridge and its Record. Nothing is attached until Register.
func New(id SurfaceID, s surface.Surface, opts Options) *Bridge {
	if opts.Channel == "" {
		opts.Channel = "janusEventTracker"
	}
	if opts.Logger == nil {
		opts.Logger = logger.ComponentLogger("bridge")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		id:      id,
		surface: s,
		record: &Record{
			ID:      id,
			Surface: s,
			Consent: map[string]bool{},
		},
		opts:   opts,
		logger: logger.SurfaceLogger(opts.Logger, int(id)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the surface id.
func (b *Bridge) ID() SurfaceID { return b.id }

// Surface returns the bridged surface.
func (b *Bridge) Surface() surface.Surface { return b.surface }

// Record returns the live record. Loop only.
func (b *Bridge) Record() *Record { return b.record }

// Released reports whether Release has been called.
func (b *Bridge) Released() bool { return b.released.Load() }

// Register attaches the message channel and installs the listener bundle.
func (b *Bridge) Register(ctx context.Context) error {
	if b.released.Load() {
		return errors.ErrReleased
	}
	if err := b.surface.AddMessageHandler(ctx, b.opts.Channel, b.receive); err != nil {
		return errors.Wrapf(err, "failed to attach channel %s", b.opts.Channel)
	}
	if err := b.surface.AddUserScript(ctx, inject.ListenerBundle(b.opts.Channel)); err != nil {
		b.surface.RemoveMessageHandler(b.opts.Channel)
		return errors.Wrap(err, "failed to install listener bundle")
	}
	b.logger.Debugw("Bridge registered", logger.FieldChannel, b.opts.Channel)
	return nil
}

// receive is the surface handler. It copies the body and hands it to the loop.
func (b *Bridge) receive(body []byte) {
	if b.released.Load() {
		return
	}
	raw := append([]byte(nil), body...)
	b.opts.Post(func() { b.HandleInbound(raw) })
}

// HandleInbound processes one message from the page. Loop only.
func (b *Bridge) HandleInbound(raw []byte) {
	if b.released.Load() {
		return
	}

	ev, err := wire.Decode(raw)
	if err != nil {
		b.record.Anomalies++
		b.logger.Warnw("Dropping malformed bridge message",
			logger.FieldError, err,
			logger.FieldSize, len(raw))
		if b.opts.OnAnomaly != nil {
			b.opts.OnAnomaly(b.id, err)
		}
		return
	}

	switch e := ev.(type) {
	case wire.ConsentValuesReport:
		b.logger.Debugw("Consent values reported", logger.FieldPurposes, len(e.Consent))
		b.applyConsent(e.Consent, e.FidesString)

	case wire.LifecycleEvent:
		if e.Detail.HasConsent() {
			fidesString := b.record.FidesString
			if e.Detail.FidesString != nil {
				fidesString = *e.Detail.FidesString
			}
			b.applyConsent(e.Detail.Consent, fidesString)
		}

		description := e.Describe()
		b.record.Events = append(b.record.Events, description)
		b.record.EventCount = len(b.record.Events)
		b.logger.Debugw("FidesJS event", logger.FieldEventType, e.Name, logger.FieldCount, b.record.EventCount)

		if b.opts.OnEvent != nil {
			b.opts.OnEvent(b.id, e.Name, description)
		}
		if b.opts.OnEventCountChanged != nil {
			b.opts.OnEventCountChanged(b.id, b.record.EventCount)
		}

		if wire.RefreshesConsent(e.Name) {
			b.RefreshConsentNow()
		}
	}
}

// RefreshConsentNow queries the page off the loop and applies the result on
// the loop if the bridge is still live. Safe from any goroutine.
func (b *Bridge) RefreshConsentNow() {
	if b.released.Load() {
		return
	}
	go func() {
		report, err := b.Query(b.ctx)
		b.opts.Post(func() {
			if b.released.Load() {
				return
			}
			if err != nil {
				b.logger.Warnw("Consent query failed", logger.FieldError, err)
				if b.opts.OnQueryFailure != nil {
					b.opts.OnQueryFailure(b.id, err)
				}
				return
			}
			b.applyConsent(report.Consent, report.FidesString)
		})
	}()
}

// Query runs the consent query snippet and decodes its result.
// Failures are marked ErrQueryFailure.
func (b *Bridge) Query(ctx context.Context) (wire.ConsentValuesReport, error) {
	if b.opts.OnQuery != nil {
		b.opts.OnQuery(b.id)
	}

	if b.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.QueryTimeout)
		defer cancel()
	}

	raw, err := b.surface.Evaluate(ctx, inject.QuerySnippet())
	if err != nil {
		return wire.ConsentValuesReport{}, errors.QueryFailure(err, "evaluate consent query")
	}
	report, err := inject.DecodeQueryResult(raw)
	if err != nil {
		return wire.ConsentValuesReport{}, errors.QueryFailure(err, "decode consent query")
	}
	return report, nil
}

// ClearEvents empties the event log. Loop only.
func (b *Bridge) ClearEvents() {
	b.record.Events = nil
	b.record.EventCount = 0
	if b.opts.OnEventCountChanged != nil {
		b.opts.OnEventCountChanged(b.id, 0)
	}
}

// ClearConsent empties the cached consent map and string. No consent change
// is reported. Loop only.
func (b *Bridge) ClearConsent() {
	b.record.Consent = map[string]bool{}
	b.record.FidesString = ""
}

func (b *Bridge) applyConsent(consent map[string]bool, fidesString string) {
	b.record.Consent = copyConsent(consent)
	b.record.FidesString = fidesString
	if b.opts.OnConsentChanged != nil {
		b.opts.OnConsentChanged(b.id, copyConsent(consent), fidesString)
	}
}

// Release detaches the channel and abandons in-flight queries. After it
// returns no inbound message or query result is applied. Idempotent.
func (b *Bridge) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	b.surface.RemoveMessageHandler(b.opts.Channel)
	b.cancel()
	b.logger.Debugw("Bridge released")
}
