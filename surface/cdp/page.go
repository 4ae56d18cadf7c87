package cdp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/logger"
	"github.com/teranos/janus/surface"
)

// Page is one attached page target.
type Page struct {
	browser   *Browser
	targetID  string
	sessionID string

	mu       sync.Mutex
	handlers map[string]surface.Handler
	queue    []delivery
	wake     chan struct{}
	gone     bool

	done      chan struct{}
	closeOnce sync.Once
}

type delivery struct {
	name    string
	payload []byte
}

var _ surface.Surface = (*Page)(nil)

func newPage(b *Browser, targetID, sessionID string) *Page {
	p := &Page{
		browser:   b,
		targetID:  targetID,
		sessionID: sessionID,
		handlers:  make(map[string]surface.Handler),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// TargetID returns the DevTools target id.
func (p *Page) TargetID() string { return p.targetID }

// AddMessageHandler installs a Runtime binding named name.
func (p *Page) AddMessageHandler(ctx context.Context, name string, h surface.Handler) error {
	p.mu.Lock()
	p.handlers[name] = h
	p.mu.Unlock()

	if err := p.browser.call(ctx, p.sessionID, "Runtime.addBinding", map[string]interface{}{"name": name}, nil); err != nil {
		p.mu.Lock()
		delete(p.handlers, name)
		p.mu.Unlock()
		return err
	}
	return nil
}

// RemoveMessageHandler stops delivery for name and removes the binding in the background.
func (p *Page) RemoveMessageHandler(name string) {
	p.mu.Lock()
	_, ok := p.handlers[name]
	delete(p.handlers, name)
	gone := p.gone
	p.mu.Unlock()

	if !ok || gone {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := p.browser.call(ctx, p.sessionID, "Runtime.removeBinding", map[string]interface{}{"name": name}, nil); err != nil {
			p.browser.logger.Debugw("Failed to remove binding",
				logger.FieldChannel, name,
				logger.FieldSessionID, p.sessionID,
				logger.FieldError, err)
		}
	}()
}

// AddUserScript registers source for every new document, in every frame.
func (p *Page) AddUserScript(ctx context.Context, source string) error {
	return p.browser.call(ctx, p.sessionID, "Page.addScriptToEvaluateOnNewDocument", map[string]interface{}{
		"source": source,
	}, nil)
}

// Evaluate runs expr with returnByValue. An expression that throws is an error;
// undefined evaluates to null.
func (p *Page) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	var res evaluateResult
	if err := p.browser.call(ctx, p.sessionID, "Runtime.evaluate", map[string]interface{}{
		"expression":    expr,
		"returnByValue": true,
	}, &res); err != nil {
		return nil, err
	}
	if res.ExceptionDetails != nil {
		return nil, errors.Newf("evaluation threw: %s", res.ExceptionDetails.message())
	}
	if len(res.Result.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return res.Result.Value, nil
}

// Load navigates the page.
func (p *Page) Load(ctx context.Context, url string) error {
	var res navigateResult
	if err := p.browser.call(ctx, p.sessionID, "Page.navigate", map[string]interface{}{"url": url}, &res); err != nil {
		return err
	}
	if res.ErrorText != "" {
		return errors.Newf("navigation to %s failed: %s", url, res.ErrorText)
	}
	return nil
}

// Close closes the target. Later calls return nil.
func (p *Page) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		gone := p.gone
		p.mu.Unlock()

		if !gone {
			err = p.browser.call(ctx, "", "Target.closeTarget", map[string]interface{}{"targetId": p.targetID}, nil)
			if errors.Is(err, ErrBrowserClosed) {
				err = nil
			}
		}
		p.browser.forget(p.sessionID)
		p.detached()
	})
	return err
}

func (p *Page) handleEvent(msg *message) {
	if msg.Method != "Runtime.bindingCalled" {
		return
	}
	var params bindingCalledParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		p.browser.logger.Debugw("Malformed bindingCalled", logger.FieldError, err)
		return
	}

	p.mu.Lock()
	if p.gone {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, delivery{name: params.Name, payload: []byte(params.Payload)})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers queued binding calls in arrival order so a slow handler
// never stalls the shared read pump.
func (p *Page) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if p.gone || len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			d := p.queue[0]
			p.queue = p.queue[1:]
			h := p.handlers[d.name]
			p.mu.Unlock()

			if h != nil {
				h(d.payload)
			}
		}
	}
}

// detached marks the page unusable and stops delivery.
func (p *Page) detached() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone {
		return
	}
	p.gone = true
	p.queue = nil
	p.handlers = make(map[string]surface.Handler)
	close(p.done)
}
