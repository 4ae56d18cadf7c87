package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBrowser speaks just enough DevTools protocol for one page.
type fakeBrowser struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	calls    []request
	evaluate func(expr string) interface{}
	failing  map[string]string
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	f := &fakeBrowser{t: t, failing: map[string]string{}}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		f.serve(conn)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBrowser) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/devtools/browser/fake"
}

func (f *fakeBrowser) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			Params    json.RawMessage `json:"params"`
			SessionID string          `json:"sessionId"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		f.mu.Lock()
		f.calls = append(f.calls, request{ID: req.ID, Method: req.Method, SessionID: req.SessionID, Params: req.Params})
		failure, fails := f.failing[req.Method]
		f.mu.Unlock()

		resp := map[string]interface{}{"id": req.ID}
		if fails {
			resp["error"] = map[string]interface{}{"code": -32000, "message": failure}
		} else {
			resp["result"] = f.result(req.Method, req.Params)
		}
		f.send(resp)
	}
}

func (f *fakeBrowser) result(method string, params json.RawMessage) interface{} {
	switch method {
	case "Target.createTarget":
		return map[string]string{"targetId": "T1"}
	case "Target.attachToTarget":
		return map[string]string{"sessionId": "S1"}
	case "Page.navigate":
		return map[string]string{"frameId": "F1"}
	case "Runtime.evaluate":
		var p struct {
			Expression string `json:"expression"`
		}
		json.Unmarshal(params, &p)
		f.mu.Lock()
		eval := f.evaluate
		f.mu.Unlock()
		if eval == nil {
			return map[string]interface{}{"result": map[string]string{"type": "undefined"}}
		}
		return eval(p.Expression)
	default:
		return map[string]interface{}{}
	}
}

func (f *fakeBrowser) send(v interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := json.Marshal(v)
	f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *fakeBrowser) bindingCalled(sessionID, name, payload string) {
	f.send(map[string]interface{}{
		"method":    "Runtime.bindingCalled",
		"sessionId": sessionID,
		"params":    map[string]interface{}{"name": name, "payload": payload, "executionContextId": 1},
	})
}

func (f *fakeBrowser) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

func (f *fakeBrowser) lastCall(method string) request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return f.calls[i]
		}
	}
	return request{}
}

func dialFake(t *testing.T, f *fakeBrowser) *Browser {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := Dial(ctx, f.url(), Options{Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewPageAttachesFlattenedSession(t *testing.T) {
	f := newFakeBrowser(t)
	b := dialFake(t, f)

	p, err := b.NewPage(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "T1", p.TargetID())
	assert.Equal(t, []string{"Target.createTarget", "Target.attachToTarget", "Page.enable", "Runtime.enable"}, f.methods())

	attach := f.lastCall("Target.attachToTarget")
	params, _ := json.Marshal(attach.Params)
	assert.JSONEq(t, `{"targetId":"T1","flatten":true}`, string(params))
	assert.Equal(t, "S1", f.lastCall("Runtime.enable").SessionID)
}

func TestBindingCallsDeliveredInOrder(t *testing.T) {
	f := newFakeBrowser(t)
	b := dialFake(t, f)
	p, err := b.NewPage(testCtx(t))
	require.NoError(t, err)

	var mu sync.Mutex
	var got []string
	require.NoError(t, p.AddMessageHandler(testCtx(t), "janusEventTracker", func(body []byte) {
		mu.Lock()
		got = append(got, string(body))
		mu.Unlock()
	}))

	for _, payload := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		f.bindingCalled("S1", "janusEventTracker", payload)
	}
	f.bindingCalled("S1", "otherChannel", `{"n":99}`)
	f.bindingCalled("S2", "janusEventTracker", `{"n":100}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, got)
	mu.Unlock()
}

func TestRemoveMessageHandlerStopsDelivery(t *testing.T) {
	f := newFakeBrowser(t)
	b := dialFake(t, f)
	p, err := b.NewPage(testCtx(t))
	require.NoError(t, err)

	calls := make(chan string, 10)
	require.NoError(t, p.AddMessageHandler(testCtx(t), "ch", func(body []byte) { calls <- string(body) }))
	p.RemoveMessageHandler("ch")
	f.bindingCalled("S1", "ch", "late")

	select {
	case body := <-calls:
		t.Fatalf("handler called after removal with %q", body)
	case <-time.After(200 * time.Millisecond):
	}
	require.Eventually(t, func() bool { return f.lastCall("Runtime.removeBinding").Method != "" }, 2*time.Second, 10*time.Millisecond)
}

func TestEvaluate(t *testing.T) {
	f := newFakeBrowser(t)
	b := dialFake(t, f)
	p, err := b.NewPage(testCtx(t))
	require.NoError(t, err)

	f.mu.Lock()
	f.evaluate = func(expr string) interface{} {
		switch expr {
		case "query":
			return map[string]interface{}{"result": map[string]interface{}{
				"type":  "object",
				"value": map[string]interface{}{"consent": map[string]bool{"analytics": true}, "fides_string": "abc"},
			}}
		case "throw":
			return map[string]interface{}{
				"result":           map[string]string{"type": "object"},
				"exceptionDetails": map[string]interface{}{"text": "Uncaught", "exception": map[string]string{"type": "object", "description": "ReferenceError: Fides is not defined"}},
			}
		}
		return map[string]interface{}{"result": map[string]string{"type": "undefined"}}
	}
	f.mu.Unlock()

	raw, err := p.Evaluate(testCtx(t), "query")
	require.NoError(t, err)
	assert.JSONEq(t, `{"consent":{"analytics":true},"fides_string":"abc"}`, string(raw))

	_, err = p.Evaluate(testCtx(t), "throw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ReferenceError")

	raw, err = p.Evaluate(testCtx(t), "undefined")
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

func TestProtocolErrorsSurface(t *testing.T) {
	f := newFakeBrowser(t)
	b := dialFake(t, f)
	p, err := b.NewPage(testCtx(t))
	require.NoError(t, err)

	f.mu.Lock()
	f.failing["Page.addScriptToEvaluateOnNewDocument"] = "Page domain disabled"
	f.mu.Unlock()

	err = p.AddUserScript(testCtx(t), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Page domain disabled")

	require.NoError(t, p.Load(testCtx(t), "https://ethyca.com"))
	nav, _ := json.Marshal(f.lastCall("Page.navigate").Params)
	assert.JSONEq(t, `{"url":"https://ethyca.com"}`, string(nav))
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFakeBrowser(t)
	b := dialFake(t, f)
	p, err := b.NewPage(testCtx(t))
	require.NoError(t, err)

	require.NoError(t, p.Close(testCtx(t)))
	require.NoError(t, p.Close(testCtx(t)))

	closes := 0
	for _, m := range f.methods() {
		if m == "Target.closeTarget" {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
}

func TestBrowserCloseFailsPendingCalls(t *testing.T) {
	f := newFakeBrowser(t)
	b := dialFake(t, f)
	p, err := b.NewPage(testCtx(t))
	require.NoError(t, err)

	require.NoError(t, b.Close())
	<-b.Done()

	_, err = p.Evaluate(testCtx(t), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBrowserClosed)
	assert.NoError(t, p.Close(testCtx(t)))
}
