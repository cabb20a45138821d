package gateway

import (
	"context"
	"sync"
)

// MockCompleter is a Completer for testing. It counts calls so tests can
// verify that blocked requests never reach the model.
type MockCompleter struct {
	Response string
	Err      error

	mu         sync.Mutex
	calls      int
	lastSystem string
	lastUser   string
}

// Complete returns the configured response or error and records the call.
func (m *MockCompleter) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.lastSystem = systemPrompt
	m.lastUser = userMessage
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", &UpstreamError{Err: err}
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// Calls returns how many times Complete was invoked.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastUser returns the user message of the most recent call.
func (m *MockCompleter) LastUser() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUser
}

// LastSystem returns the system prompt of the most recent call.
func (m *MockCompleter) LastSystem() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSystem
}

// Compile-time interface satisfaction check.
var _ Completer = (*MockCompleter)(nil)
