// Package surfacetest provides an in-memory surface.Surface for tests.
package surfacetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/surface"
	"github.com/teranos/janus/wire"
)

// Surface records what the bridge does to it and lets tests post messages
// as the page would.
type Surface struct {
	mu          sync.Mutex
	handlers    map[string]surface.Handler
	scripts     []string
	loads       []string
	evaluations []string
	closed      int
	closeErr    error
	closeHook   func(ctx context.Context)
	closeCtxErr []error
	deadlines   []bool

	// page state answered by the query snippet
	consent     map[string]bool
	fidesString string
	evalErr     error
	evalHook    func(expr string)
	results     map[string]json.RawMessage
}

var _ surface.Surface = (*Surface)(nil)

// New returns an empty fake surface.
func New() *Surface {
	return &Surface{handlers: make(map[string]surface.Handler)}
}

// AddMessageHandler implements surface.Surface.
func (s *Surface) AddMessageHandler(_ context.Context, name string, h surface.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
	return nil
}

// RemoveMessageHandler implements surface.Surface.
func (s *Surface) RemoveMessageHandler(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, name)
}

// AddUserScript implements surface.Surface.
func (s *Surface) AddUserScript(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, source)
	return nil
}

// Evaluate answers every expression with the page consent state, mirroring
// the query snippet. SetEvalError makes it fail instead.
func (s *Surface) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	_, bounded := ctx.Deadline()
	s.mu.Lock()
	s.evaluations = append(s.evaluations, expr)
	s.deadlines = append(s.deadlines, bounded)
	err := s.evalErr
	hook := s.evalHook
	consent := make(map[string]bool, len(s.consent))
	for k, v := range s.consent {
		consent[k] = v
	}
	fidesString := s.fidesString
	result, fixed := s.results[expr]
	s.mu.Unlock()

	if hook != nil {
		hook(expr)
	}
	if err != nil {
		return nil, err
	}
	if fixed {
		return result, nil
	}
	return json.Marshal(map[string]interface{}{
		"consent":      consent,
		"fides_string": fidesString,
	})
}

// Load implements surface.Surface.
func (s *Surface) Load(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads = append(s.loads, url)
	return nil
}

// Close implements surface.Surface. The hook set by OnClose runs first; the
// context error seen after it is recorded for CloseContextErrors.
func (s *Surface) Close(ctx context.Context) error {
	s.mu.Lock()
	hook := s.closeHook
	s.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	s.closeCtxErr = append(s.closeCtxErr, ctx.Err())
	s.handlers = make(map[string]surface.Handler)
	return s.closeErr
}

// SetCloseError makes Close return err (nil to clear).
func (s *Surface) SetCloseError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr = err
}

// OnClose installs a hook run at the start of every Close.
func (s *Surface) OnClose(hook func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeHook = hook
}

// CloseContextErrors returns ctx.Err() as observed by each Close call.
func (s *Surface) CloseContextErrors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.closeCtxErr...)
}

// EvaluationDeadlines reports, per Evaluate call, whether its context
// carried a deadline.
func (s *Surface) EvaluationDeadlines() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.deadlines...)
}

// Post delivers raw as if the page posted it on channel. It reports whether
// a handler was attached.
func (s *Surface) Post(channel string, raw []byte) bool {
	s.mu.Lock()
	h := s.handlers[channel]
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h(raw)
	return true
}

// Emit encodes ev and posts it on channel.
func (s *Surface) Emit(channel string, ev wire.InboundEvent) bool {
	raw, err := wire.Encode(ev)
	if err != nil {
		panic(err)
	}
	return s.Post(channel, raw)
}

// SetPageConsent sets what the query snippet returns.
func (s *Surface) SetPageConsent(consent map[string]bool, fidesString string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent = consent
	s.fidesString = fidesString
}

// SetEvalError makes every evaluation fail with err (nil to clear).
func (s *Surface) SetEvalError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evalErr = err
}

// SetEvalResult makes Evaluate answer expr with raw instead of the page
// consent state.
func (s *Surface) SetEvalResult(expr string, raw json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		s.results = make(map[string]json.RawMessage)
	}
	s.results[expr] = raw
}

// OnEvaluate runs hook before each evaluation returns.
func (s *Surface) OnEvaluate(hook func(expr string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evalHook = hook
}

// HasHandler reports whether channel is attached.
func (s *Surface) HasHandler(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[channel] != nil
}

// Scripts returns the injected user scripts.
func (s *Surface) Scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scripts...)
}

// Loads returns every URL passed to Load.
func (s *Surface) Loads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loads...)
}

// Evaluations returns how many expressions were evaluated.
func (s *Surface) Evaluations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.evaluations)
}

// EvaluatedExpressions returns every evaluated expression in order.
func (s *Surface) EvaluatedExpressions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.evaluations...)
}

// Closed returns how many times Close was called.
func (s *Surface) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Factory hands out fake surfaces and keeps them for inspection.
type Factory struct {
	mu       sync.Mutex
	surfaces []*Surface
	err      error
}

var _ surface.Factory = (*Factory)(nil)

// ErrFactory is returned by a Factory set to fail.
var ErrFactory = errors.New("surface factory failure")

// NewSurface implements surface.Factory.
func (f *Factory) NewSurface(context.Context) (surface.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := New()
	f.surfaces = append(f.surfaces, s)
	return s, nil
}

// Fail makes subsequent NewSurface calls return err (nil to clear).
func (f *Factory) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Surfaces returns every surface created so far, oldest first.
func (f *Factory) Surfaces() []*Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Surface(nil), f.surfaces...)
}

// Last returns the most recently created surface, or nil.
func (f *Factory) Last() *Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.surfaces) == 0 {
		return nil
	}
	return f.surfaces[len(f.surfaces)-1]
}
