package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/systmms/secrets-replicator/internal/logging"
)

// TestLogger captures structured log entries for validation in tests.
//
// Example usage:
//
//	logs := NewTestLogger(t)
//	orch := replicate.New(source, writers, source, replicate.WithLogger(logs.Logger))
//	orch.Replicate(ctx, "app/db")
//	logs.AssertNotContains(t, "hunter2")
type TestLogger struct {
	*logging.Logger
	observed *observer.ObservedLogs
}

// NewTestLogger captures every level including debug
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()

	core, observed := observer.New(zapcore.DebugLevel)
	return &TestLogger{
		Logger:   logging.FromZap(zap.New(core)),
		observed: observed,
	}
}

// Entries returns the captured entries in order
func (l *TestLogger) Entries() []observer.LoggedEntry {
	return l.observed.AllUntimed()
}

// Messages returns the captured messages together with their string fields,
// one line per entry.
func (l *TestLogger) Messages() []string {
	entries := l.observed.AllUntimed()
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		var b strings.Builder
		b.WriteString(e.Message)
		for key, value := range e.ContextMap() {
			b.WriteString(" ")
			b.WriteString(key)
			b.WriteString("=")
			b.WriteString(toString(value))
		}
		lines = append(lines, b.String())
	}
	return lines
}

// Output joins Messages with newlines
func (l *TestLogger) Output() string {
	return strings.Join(l.Messages(), "\n")
}

// AssertContains asserts that some entry contains substr.
func (l *TestLogger) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, l.Output(), substr, "Expected log output to contain %q", substr)
}

// AssertNotContains asserts that no entry contains substr. This is the
// primary assertion for secret values.
func (l *TestLogger) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, l.Output(), substr, "Expected log output to NOT contain %q", substr)
}

// AssertLevelCount asserts how many entries were logged at level.
func (l *TestLogger) AssertLevelCount(t *testing.T, level zapcore.Level, count int) {
	t.Helper()
	actual := l.observed.FilterLevelExact(level).Len()
	assert.Equal(t, count, actual, "Expected %d %s log entries, got %d", count, level, actual)
}

func toString(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case interface{ String() string }:
		return value.String()
	case error:
		return value.Error()
	}
	return fmt.Sprint(v)
}
