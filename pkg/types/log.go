package types

// Logger is the structured logger threaded through contexts by internal/log.
// Fields are zap.Field values; anything else is dropped.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	// Fatalf logs msg and exits the process.
	Fatalf(msg string, fields ...interface{})
}
