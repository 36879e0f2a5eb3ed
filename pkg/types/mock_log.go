package types

import "sync"

type MockLogger struct{}

func (m *MockLogger) Debug(msg string, fields ...interface{})  {}
func (m *MockLogger) Info(msg string, fields ...interface{})   {}
func (m *MockLogger) Warn(msg string, fields ...interface{})   {}
func (m *MockLogger) Error(msg string, fields ...interface{})  {}
func (m *MockLogger) Fatalf(msg string, fields ...interface{}) {}

// RecordingLogger keeps every message it receives, keyed by level.
// It is safe for concurrent use.
type RecordingLogger struct {
	mu      sync.Mutex
	entries map[string][]string
}

func (r *RecordingLogger) record(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string][]string)
	}
	r.entries[level] = append(r.entries[level], msg)
}

// Messages returns a copy of the messages logged at the given level.
func (r *RecordingLogger) Messages(level string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries[level]...)
}

func (r *RecordingLogger) Debug(msg string, fields ...interface{})  { r.record("debug", msg) }
func (r *RecordingLogger) Info(msg string, fields ...interface{})   { r.record("info", msg) }
func (r *RecordingLogger) Warn(msg string, fields ...interface{})   { r.record("warn", msg) }
func (r *RecordingLogger) Error(msg string, fields ...interface{})  { r.record("error", msg) }
func (r *RecordingLogger) Fatalf(msg string, fields ...interface{}) { r.record("fatal", msg) }
