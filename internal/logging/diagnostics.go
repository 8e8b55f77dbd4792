package logging

import (
	"context"
	"sync"
)

// DiagnosticSink receives the human-readable messages folio emits in debug
// mode: missing variables, unregistered assets, failed embeds.
type DiagnosticSink interface {
	Diagnose(ctx context.Context, msg string, fields ...interface{})
}

// LoggerSink forwards diagnostics to a Logger at debug level.
type LoggerSink struct {
	Logger Logger
}

// Diagnose implements DiagnosticSink.
func (s LoggerSink) Diagnose(ctx context.Context, msg string, fields ...interface{}) {
	if s.Logger == nil {
		return
	}
	s.Logger.Debug(ctx, msg, fields...)
}

// MemorySink keeps diagnostics in memory. Tests use it to assert on what a
// render reported.
type MemorySink struct {
	mu       sync.Mutex
	messages []string
}

// Diagnose implements DiagnosticSink.
func (s *MemorySink) Diagnose(_ context.Context, msg string, _ ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages returns a copy of the recorded messages.
func (s *MemorySink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}

// MultiSink fans diagnostics out to several sinks.
type MultiSink []DiagnosticSink

// Diagnose implements DiagnosticSink.
func (m MultiSink) Diagnose(ctx context.Context, msg string, fields ...interface{}) {
	for _, s := range m {
		if s != nil {
			s.Diagnose(ctx, msg, fields...)
		}
	}
}
