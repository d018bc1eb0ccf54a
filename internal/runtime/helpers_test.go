package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/internal/runtime/envelope"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

// recordingLogger keeps every entry, including those of loggers derived
// through With.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	fields  loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (r *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg, err: err, fields: merged})
}

func (r *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{mu: r.mu, entries: r.entries, fields: merged}
}

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	r.record("debug", msg, nil, fields)
}

func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	r.record("info", msg, nil, fields)
}

func (r *recordingLogger) Warn(msg string, fields loggingpkg.LogFields) {
	r.record("warn", msg, nil, fields)
}

func (r *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.record("error", msg, err, fields)
}

func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	r.record("trace", msg, nil, fields)
}

func (r *recordingLogger) byLevel(level string) []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []logEntry
	for _, e := range *r.entries {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingLogger) has(level, msg string) bool {
	for _, e := range r.byLevel(level) {
		if e.msg == msg {
			return true
		}
	}
	return false
}

// fakeClock never advances on its own; tests move it with set.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2012, 1, 14, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) set(offset time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = time.Date(2012, 1, 14, 0, 0, 0, 0, time.UTC).Add(offset)
}

func (f *fakeClock) clock() clock {
	return clock{
		now: func() time.Time {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.now
		},
		sleep: func(ctx context.Context, d time.Duration) error {
			f.mu.Lock()
			f.sleeps = append(f.sleeps, d)
			f.mu.Unlock()
			return ctx.Err()
		},
	}
}

func (f *fakeClock) recordedSleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

// stubConnector serves scripted batches, then empty ones.
type stubConnector struct {
	mu       sync.Mutex
	batches  [][][]byte
	sent     [][]byte
	started  int
	closed   bool
	startErr error
	pullErr  error
	sendErr  error
	pulls    int
	onStart  func()
}

func (s *stubConnector) OnStart(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	if s.onStart != nil {
		s.onStart()
	}
	return s.startErr
}

func (s *stubConnector) GetMessages(_ context.Context, maxChunkSize int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls++
	if s.pullErr != nil {
		return nil, s.pullErr
	}
	if len(s.batches) == 0 || maxChunkSize <= 0 {
		return [][]byte{}, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

func (s *stubConnector) SendMessages(_ context.Context, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), message...))
	return nil
}

func (s *stubConnector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubConnector) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, string(m))
	}
	return out
}

func (s *stubConnector) pullCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

func (s *stubConnector) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// stubType hands out the connectors of conns in build order.
func stubType(name string, conns ...*stubConnector) connector.Type {
	var mu sync.Mutex
	next := 0
	return connector.Type{
		Name: name,
		New: func(context.Context, connector.Settings, string, connector.QueueSettings, watermill.LoggerAdapter) (connector.Connector, error) {
			mu.Lock()
			defer mu.Unlock()
			if next >= len(conns) {
				return nil, fmt.Errorf("no stub connector left for %s", name)
			}
			c := conns[next]
			next++
			return c, nil
		},
	}
}

func connectorSettings(name string) connector.Config {
	return connector.Config{ConnectorName: name}
}

func queueSettings(name string, frequency time.Duration, chunk int) connector.QueueConfig {
	return connector.QueueConfig{ConnectorName: name, Frequency: frequency, MaxChunkSize: chunk}
}

func noopCallback(context.Context, envelope.Message) error { return nil }

func raw(payloads ...string) [][]byte {
	out := make([][]byte, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, []byte(p))
	}
	return out
}
