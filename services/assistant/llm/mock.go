package llm

import (
	"context"
	"sync"

	"github.com/quillan-ai/quillan/services/assistant/agent"
)

// MockAdapter is a scripted adapter for tests and the "mock" provider.
//
// Responses are returned in order; when the script runs out, the last
// response repeats. Every Send records the turns it received so tests
// can assert the full history was rendered.
//
// Thread Safety: MockAdapter is safe for concurrent use.
type MockAdapter struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     [][]agent.Turn
	idx       int
}

// NewMockAdapter creates a mock that replays the given responses.
func NewMockAdapter(responses ...string) *MockAdapter {
	return &MockAdapter{responses: responses}
}

// FailWith queues an error to be returned before scripted responses
// resume. Errors are consumed first, in order.
func (m *MockAdapter) FailWith(errs ...error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
	return m
}

// ProviderName implements agent.LLMAdapter.
func (m *MockAdapter) ProviderName() string {
	return "mock"
}

// Send implements agent.LLMAdapter.
func (m *MockAdapter) Send(ctx context.Context, turns []agent.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]agent.Turn, len(turns))
	copy(snapshot, turns)
	m.calls = append(m.calls, snapshot)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}

	if len(m.responses) == 0 {
		return "", nil
	}
	resp := m.responses[min(m.idx, len(m.responses)-1)]
	m.idx++
	return resp, nil
}

// Calls returns the turn lists passed to Send, in order.
func (m *MockAdapter) Calls() [][]agent.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]agent.Turn, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Send was invoked.
func (m *MockAdapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
