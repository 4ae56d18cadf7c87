package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// HTTPConfig configures shipping of log entries to a remote collector.
type HTTPConfig struct {
	Endpoint      string
	Token         string
	Source        string        // defaults to "janus"
	ConsoleErrors bool          // print shipping failures to stderr
	BatchSize     int           // defaults to 20
	FlushInterval time.Duration // defaults to 2s
	Client        *http.Client  // defaults to a client with a 10s timeout
}

// httpLog is a single entry in the collector payload.
type httpLog struct {
	LogLevel string            `json:"log_level"`
	Message  string            `json:"message"`
	Data     string            `json:"data,omitempty"`
	Error    *httpLogErrorInfo `json:"error,omitempty"`
}

type httpLogErrorInfo struct {
	Description string `json:"description"`
	Type        string `json:"type"`
}

type httpLogWrapper struct {
	Log httpLog `json:"log"`
}

// httpPayload is the body posted to the collector.
type httpPayload struct {
	Logs   []httpLogWrapper `json:"logs"`
	Source string           `json:"source"`
}

// HTTPCore is a zap core that batches entries and posts them to a collector.
// Add it next to the console core with Tee.
type HTTPCore struct {
	zapcore.LevelEnabler
	fields  []zapcore.Field
	shipper *httpShipper
}

// NewHTTPCore creates the core and starts its background flusher.
// Call Close to flush and stop it.
func NewHTTPCore(level zapcore.LevelEnabler, cfg HTTPConfig) *HTTPCore {
	if cfg.Source == "" {
		cfg.Source = "janus"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}

	s := &httpShipper{
		cfg:   cfg,
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		flush: make(chan chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()

	return &HTTPCore{LevelEnabler: level, shipper: s}
}

// With adds structured context to the core (zap interface)
func (c *HTTPCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &HTTPCore{LevelEnabler: c.LevelEnabler, fields: merged, shipper: c.shipper}
}

// Check determines if the logger should log at this level (zap interface)
func (c *HTTPCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

// Write converts the entry and queues it for the next batch (zap interface)
func (c *HTTPCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if !c.Enabled(entry.Level) {
		return nil
	}
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)
	c.shipper.append(toHTTPLog(entry, all))
	return nil
}

// Sync posts everything queued so far (zap interface)
func (c *HTTPCore) Sync() error {
	c.shipper.syncNow()
	return nil
}

// Close flushes pending entries and stops the background flusher.
func (c *HTTPCore) Close() {
	c.shipper.close()
}

// levelString maps zap levels onto the collector's level names.
func levelString(l zapcore.Level) string {
	switch l {
	case zapcore.DebugLevel:
		return "DEBUG"
	case zapcore.InfoLevel:
		return "INFO"
	case zapcore.WarnLevel:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func toHTTPLog(entry zapcore.Entry, fields []zapcore.Field) httpLog {
	out := httpLog{
		LogLevel: levelString(entry.Level),
		Message:  entry.Message,
	}
	if entry.LoggerName != "" {
		out.Message = entry.LoggerName + ": " + entry.Message
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		if f.Type == zapcore.ErrorType {
			if err, ok := f.Interface.(error); ok && err != nil {
				out.Error = &httpLogErrorInfo{Description: err.Error(), Type: fmt.Sprintf("%T", err)}
				continue
			}
		}
		f.AddTo(enc)
	}

	if len(enc.Fields) > 0 {
		metadata := make(map[string]string, len(enc.Fields))
		for k, v := range enc.Fields {
			metadata[k] = fmt.Sprint(v)
		}
		if data, err := json.Marshal(metadata); err == nil {
			out.Data = string(data)
		} else {
			out.Data = fmt.Sprint(metadata)
		}
	}
	return out
}

// httpShipper owns the pending batch and the posting goroutine.
type httpShipper struct {
	cfg     HTTPConfig
	mu      sync.Mutex
	pending []httpLogWrapper
	kick    chan struct{}
	flush   chan chan struct{}
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func (s *httpShipper) append(l httpLog) {
	s.mu.Lock()
	s.pending = append(s.pending, httpLogWrapper{Log: l})
	full := len(s.pending) >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

func (s *httpShipper) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			s.post()
			return
		case <-ticker.C:
			s.post()
		case <-s.kick:
			s.post()
		case ack := <-s.flush:
			s.post()
			close(ack)
		}
	}
}

func (s *httpShipper) syncNow() {
	ack := make(chan struct{})
	select {
	case s.flush <- ack:
		<-ack
	case <-s.done:
	}
}

func (s *httpShipper) close() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// post sends the pending batch. Failures drop the batch; they are reported
// on stderr only when ConsoleErrors is set, never through zap.
func (s *httpShipper) post() {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	body, err := json.Marshal(httpPayload{Logs: batch, Source: s.cfg.Source})
	if err != nil {
		s.report("failed to serialize log batch: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		s.report("invalid endpoint %q: %v", s.cfg.Endpoint, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		s.report("network error: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.report("HTTP error - status code %d: %s", resp.StatusCode, respBody)
	}
}

func (s *httpShipper) report(format string, args ...interface{}) {
	if s.cfg.ConsoleErrors {
		fmt.Fprintf(os.Stderr, "HTTPCore: "+format+"\n", args...)
	}
}
