package common

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestLogLevel is the level used by package tests. Raise it to DebugLevel to
// follow the protocol when a test fails.
const TestLogLevel = logrus.InfoLevel

// This can be used as the destination for a logger and it'll
// map them into calls to testing.T.Log, so that you only see
// the logging for failed tests. Output is dropped once the test has finished,
// since links and keepalives may still log from background goroutines.
type testLoggerAdapter struct {
	t      testing.TB
	prefix string

	mu   sync.RWMutex
	done bool
}

func (a *testLoggerAdapter) Write(d []byte) (int, error) {
	n := len(d)

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.done {
		return n, nil
	}

	if n > 0 && d[n-1] == '\n' {
		d = d[:n-1]
	}
	if a.prefix != "" {
		a.t.Log(a.prefix + ": " + string(d))
		return n, nil
	}
	a.t.Log(string(d))
	return n, nil
}

func (a *testLoggerAdapter) finish() {
	a.mu.Lock()
	a.done = true
	a.mu.Unlock()
}

// NewTestLogger returns a logrus Logger that writes to t.Log.
func NewTestLogger(t testing.TB, level logrus.Level) *logrus.Logger {
	adapter := &testLoggerAdapter{t: t}
	t.Cleanup(adapter.finish)

	logger := logrus.New()
	logger.Out = adapter
	logger.Level = level
	return logger
}

// NewTestEntry returns a logrus Entry, with prefix set to "test", that writes
// to t.Log.
func NewTestEntry(t testing.TB, level logrus.Level) *logrus.Entry {
	return NewTestLogger(t, level).WithField("prefix", "test")
}
