package testutils

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// MockHandler records log calls and implements slog.Handler.
type MockHandler struct {
	IgnoreBelow slog.Level
	HandleCalls []slog.Record

	mu sync.Mutex
}

// NewMockHandler returns a new MockHandler.
// Records at or below ignoreBelow are not handled.
func NewMockHandler(ignoreBelow slog.Level) *MockHandler {
	return &MockHandler{IgnoreBelow: ignoreBelow}
}

// AssertLevels asserts that the number of records per level matches levels.
func (h *MockHandler) AssertLevels(t *testing.T, levels map[slog.Level]uint) bool {
	t.Helper()

	have := h.GetLevels()
	if levels == nil {
		return assert.Empty(t, have, "No record should have been logged")
	}
	return assert.Equal(t, levels, have, "Logged levels do not match")
}

// GetLevels returns the number of records per level.
func (h *MockHandler) GetLevels() map[slog.Level]uint {
	h.mu.Lock()
	defer h.mu.Unlock()

	levels := make(map[slog.Level]uint)
	for _, r := range h.HandleCalls {
		levels[r.Level]++
	}
	return levels
}

// HasMessage reports whether a record at level contains msg.
func (h *MockHandler) HasMessage(level slog.Level, msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, r := range h.HandleCalls {
		if r.Level == level && strings.Contains(r.Message, msg) {
			return true
		}
	}
	return false
}

// OutputLogs outputs the collected records in a readable format.
func (h *MockHandler) OutputLogs(t *testing.T) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, call := range h.HandleCalls {
		t.Logf("Logged %v %s:", call.Level, call.Message)
		call.Attrs(func(attr slog.Attr) bool {
			t.Log(attr.String())
			return true
		})
	}
}

// Enabled implements Handler.Enabled.
func (h *MockHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level > h.IgnoreBelow
}

// Handle implements Handler.Handle.
func (h *MockHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.HandleCalls = append(h.HandleCalls, record)
	return nil
}

// WithAttrs implements Handler.WithAttrs.
func (h *MockHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

// WithGroup implements Handler.WithGroup.
func (h *MockHandler) WithGroup(name string) slog.Handler {
	return h
}
