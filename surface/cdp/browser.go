// Package cdp implements surface.Surface on top of the Chrome DevTools
// Protocol. One Browser holds a single websocket to the browser endpoint and
// multiplexes every page session over it in flatten mode.
//
// Mapping onto the surface contract:
//
//	AddMessageHandler  Runtime.addBinding + Runtime.bindingCalled
//	AddUserScript      Page.addScriptToEvaluateOnNewDocument
//	Evaluate           Runtime.evaluate{returnByValue}
//	Load               Page.navigate
//	Close              Target.closeTarget
package cdp

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/logger"
	"github.com/teranos/janus/surface"
)

const (
	// Time allowed to write a command to the browser
	writeWait = 10 * time.Second

	// Page responses carry whole evaluation results
	maxMessageSize = 8 * 1024 * 1024

	defaultDialTimeout = 10 * time.Second
)

// ErrBrowserClosed is returned for commands issued after the connection is gone.
var ErrBrowserClosed = errors.New("devtools connection closed")

// Options configures Dial.
type Options struct {
	DialTimeout time.Duration
	Logger      *zap.SugaredLogger
	// Trace logs every frame at debug level.
	Trace bool
}

// Browser is a DevTools connection. It implements surface.Factory.
type Browser struct {
	conn   *websocket.Conn
	logger *zap.SugaredLogger
	trace  bool

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]chan *message
	sessions map[string]*Page
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

var _ surface.Factory = (*Browser)(nil)

// Dial connects to a browser-level DevTools websocket URL
// (ws://host:port/devtools/browser/<id>).
func Dial(ctx context.Context, url string, opts Options) (*Browser, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.ComponentLogger("cdp")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.DialTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial devtools at %s", url)
	}
	conn.SetReadLimit(maxMessageSize)

	b := &Browser{
		conn:     conn,
		logger:   opts.Logger,
		trace:    opts.Trace,
		pending:  make(map[int64]chan *message),
		sessions: make(map[string]*Page),
		done:     make(chan struct{}),
	}
	go b.readPump()

	b.logger.Infow("DevTools connected", logger.FieldURL, url)
	return b, nil
}

// NewSurface opens a blank page target and attaches to it.
func (b *Browser) NewSurface(ctx context.Context) (surface.Surface, error) {
	return b.NewPage(ctx)
}

// NewPage opens a blank page target, attaches a flattened session and enables
// the Page and Runtime domains.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	var created createTargetResult
	if err := b.call(ctx, "", "Target.createTarget", map[string]interface{}{"url": "about:blank"}, &created); err != nil {
		return nil, err
	}

	var attached attachToTargetResult
	if err := b.call(ctx, "", "Target.attachToTarget", map[string]interface{}{
		"targetId": created.TargetID,
		"flatten":  true,
	}, &attached); err != nil {
		b.closeTarget(created.TargetID)
		return nil, err
	}

	p := newPage(b, created.TargetID, attached.SessionID)
	b.mu.Lock()
	b.sessions[attached.SessionID] = p
	b.mu.Unlock()

	for _, method := range []string{"Page.enable", "Runtime.enable"} {
		if err := b.call(ctx, p.sessionID, method, nil, nil); err != nil {
			p.Close(context.Background())
			return nil, err
		}
	}

	b.logger.Debugw("Page attached",
		logger.FieldTargetID, created.TargetID,
		logger.FieldSessionID, attached.SessionID)
	return p, nil
}

// Close drops the connection. Pending commands fail with ErrBrowserClosed.
func (b *Browser) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.writeMu.Lock()
		b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		b.writeMu.Unlock()
		err = b.conn.Close()
		<-b.done
	})
	return err
}

// Done is closed when the connection ends.
func (b *Browser) Done() <-chan struct{} {
	return b.done
}

// call sends a command and waits for its response. out may be nil.
func (b *Browser) call(ctx context.Context, sessionID, method string, params interface{}, out interface{}) error {
	id := b.nextID.Add(1)
	ch := make(chan *message, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.Wrapf(ErrBrowserClosed, "%s", method)
	}
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := b.write(request{ID: id, Method: method, Params: params, SessionID: sessionID}); err != nil {
		return errors.Wrapf(err, "failed to send %s", method)
	}

	select {
	case msg := <-ch:
		if msg == nil {
			return errors.Wrapf(ErrBrowserClosed, "%s", method)
		}
		if msg.Error != nil {
			return errors.Wrapf(msg.Error, "%s failed", method)
		}
		if out != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, out); err != nil {
				return errors.Wrapf(err, "failed to decode %s result", method)
			}
		}
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%s", method)
	}
}

func (b *Browser) write(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if b.trace {
		b.logger.Debugw("CDP send", "frame", string(data))
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump is the only reader. It delivers responses by id and routes events
// to pages by session id.
func (b *Browser) readPump() {
	defer b.shutdown()

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Warnw("DevTools connection lost", logger.FieldError, err)
			}
			return
		}
		if b.trace {
			b.logger.Debugw("CDP recv", "frame", string(data))
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Warnw("Malformed DevTools frame", logger.FieldError, err, logger.FieldSize, len(data))
			continue
		}

		if msg.ID != 0 {
			b.mu.Lock()
			ch := b.pending[msg.ID]
			b.mu.Unlock()
			if ch != nil {
				ch <- &msg
			}
			continue
		}

		b.routeEvent(&msg)
	}
}

func (b *Browser) routeEvent(msg *message) {
	if msg.Method == "Target.detachedFromTarget" {
		var params detachedFromTargetParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			b.mu.Lock()
			p := b.sessions[params.SessionID]
			delete(b.sessions, params.SessionID)
			b.mu.Unlock()
			if p != nil {
				p.detached()
			}
		}
		return
	}

	if msg.SessionID == "" {
		return
	}
	b.mu.Lock()
	p := b.sessions[msg.SessionID]
	b.mu.Unlock()
	if p != nil {
		p.handleEvent(msg)
	}
}

// shutdown fails every pending command and detaches every page.
func (b *Browser) shutdown() {
	b.mu.Lock()
	b.closed = true
	pending := b.pending
	b.pending = make(map[int64]chan *message)
	sessions := b.sessions
	b.sessions = make(map[string]*Page)
	b.mu.Unlock()

	for _, ch := range pending {
		select {
		case ch <- nil:
		default:
		}
	}
	for _, p := range sessions {
		p.detached()
	}
	close(b.done)
}

// closeTarget is best effort; used on failed page setup.
func (b *Browser) closeTarget(targetID string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := b.call(ctx, "", "Target.closeTarget", map[string]interface{}{"targetId": targetID}, nil); err != nil {
		b.logger.Debugw("Failed to close target", logger.FieldTargetID, targetID, logger.FieldError, err)
	}
}

func (b *Browser) forget(sessionID string) {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
}
