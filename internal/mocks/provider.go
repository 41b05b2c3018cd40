package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/gradeflow/internal/generation"
)

// Outcome is one scripted provider response.
type Outcome struct {
	Completion *generation.Completion
	Err        error
}

// MockProvider implements generation.Provider for testing
type MockProvider struct {
	// CompleteFn allows test cases to mock the Complete behavior
	CompleteFn func(ctx context.Context, req generation.Request) (*generation.Completion, error)

	// Outcomes are returned in order when CompleteFn is nil. The last outcome
	// repeats once the script runs out.
	Outcomes []Outcome

	// Call tracking for verification
	CompleteCalls struct {
		// mu protects the call tracking state for concurrent test cases
		mu sync.Mutex

		// Count tracks how many times Complete was called
		Count int

		// Requests contains all requests passed to Complete calls
		Requests []generation.Request
	}
}

var _ generation.Provider = (*MockProvider)(nil)

// Complete implements the generation.Provider interface
func (m *MockProvider) Complete(ctx context.Context, req generation.Request) (*generation.Completion, error) {
	m.CompleteCalls.mu.Lock()
	call := m.CompleteCalls.Count
	m.CompleteCalls.Count++
	m.CompleteCalls.Requests = append(m.CompleteCalls.Requests, req)
	m.CompleteCalls.mu.Unlock()

	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, req)
	}
	if len(m.Outcomes) == 0 {
		return &generation.Completion{Content: "{}", Provider: "mock", Model: req.Model}, nil
	}
	if call >= len(m.Outcomes) {
		call = len(m.Outcomes) - 1
	}
	out := m.Outcomes[call]
	if out.Completion != nil {
		c := *out.Completion
		return &c, out.Err
	}
	return nil, out.Err
}

// Calls returns the number of Complete calls so far.
func (m *MockProvider) Calls() int {
	m.CompleteCalls.mu.Lock()
	defer m.CompleteCalls.mu.Unlock()
	return m.CompleteCalls.Count
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []generation.Request {
	m.CompleteCalls.mu.Lock()
	defer m.CompleteCalls.mu.Unlock()
	return append([]generation.Request(nil), m.CompleteCalls.Requests...)
}

// NewMockProviderWithContent creates a MockProvider that always answers content.
func NewMockProviderWithContent(content string) *MockProvider {
	return &MockProvider{
		Outcomes: []Outcome{{Completion: &generation.Completion{Content: content, Provider: "mock", Model: "mock-model"}}},
	}
}

// MockProviderThatFails creates a MockProvider whose every call fails with
// the given HTTP status.
func MockProviderThatFails(status int) *MockProvider {
	return &MockProvider{
		Outcomes: []Outcome{{Err: &generation.ProviderError{Provider: "mock", Status: status, Err: errProviderDown}}},
	}
}

// Reset resets the call tracking state
func (m *MockProvider) Reset() {
	m.CompleteCalls.mu.Lock()
	defer m.CompleteCalls.mu.Unlock()

	m.CompleteCalls.Count = 0
	m.CompleteCalls.Requests = nil
}
