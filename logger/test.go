package logger

import "sync"

// TestLogEntry captures a single emitted log line.
type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

// TestLogger records entries so tests can assert on them. Children
// created with With or WithPrefix record into the same backing slice.
// Fatal records but does not exit.
type TestLogger struct {
	mu       *sync.Mutex
	entries  *[]TestLogEntry
	metadata map[string]interface{}
	level    LogLevel
}

var _ Logger = (*TestLogger)(nil)

// Logs returns a copy of everything recorded so far.
func (c *TestLogger) Logs() []TestLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TestLogEntry, len(*c.entries))
	copy(out, *c.entries)
	return out
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{}, len(c.metadata)+len(metadata))
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	return &TestLogger{mu: c.mu, entries: c.entries, metadata: kv, level: c.level}
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c.With(map[string]interface{}{"prefix": prefix})
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.level
}

func (c *TestLogger) log(severity string, msg string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.entries = append(*c.entries, TestLogEntry{
		Severity:  severity,
		Message:   msg,
		Arguments: args,
		Metadata:  c.metadata,
	})
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.log("TRACE", msg, args...)
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.log("DEBUG", msg, args...)
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.log("INFO", msg, args...)
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.log("WARNING", msg, args...)
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.log("ERROR", msg, args...)
}

func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.log("FATAL", msg, args...)
}

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	entries := make([]TestLogEntry, 0)
	return &TestLogger{
		mu:      &sync.Mutex{},
		entries: &entries,
		level:   LevelTrace,
	}
}
