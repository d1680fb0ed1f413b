// Package mock provides a scripted chat provider for tests and offline runs.
package mock

import (
	"context"
	"sync"

	"github.com/GoCodeAlone/agency/provider"
)

const defaultResponse = "Task acknowledged. Working on it."

// Call records the input of one Chat invocation.
type Call struct {
	Messages []provider.Message
	Tools    []provider.ToolDef
}

// MockProvider implements provider.Provider for testing. It cycles through scripted
// responses and can fail a number of calls before answering.
type MockProvider struct {
	mu        sync.Mutex
	responses []provider.Response
	idx       int
	failures  []error
	calls     []Call
}

// New creates a MockProvider that cycles through the given text responses.
func New(responses ...string) *MockProvider {
	m := &MockProvider{}
	for _, r := range responses {
		m.responses = append(m.responses, provider.Response{Content: r})
	}
	return m
}

// NewScript creates a MockProvider that cycles through full responses, including
// tool calls.
func NewScript(responses ...provider.Response) *MockProvider {
	return &MockProvider{responses: responses}
}

// FailWith makes the next len(errs) calls return errs in order.
func (m *MockProvider) FailWith(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
	return m
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string { return "mock" }

// Chat returns the next scripted response.
func (m *MockProvider) Chat(_ context.Context, messages []provider.Message, tools []provider.ToolDef) (*provider.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Messages: append([]provider.Message(nil), messages...), Tools: tools})

	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return nil, err
	}
	if len(m.responses) == 0 {
		return &provider.Response{Content: defaultResponse}, nil
	}
	resp := m.responses[m.idx%len(m.responses)]
	m.idx++
	return &resp, nil
}

// Calls returns every recorded Chat input.
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}
