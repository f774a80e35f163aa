// Package testutil provides test doubles for the llm package.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/semdilemma/llm"
)

// MockLLMClient is a thread-safe scripted llm.Completer.
//
// Resolution order for each call: Handler if set, then Err, then the next
// entry of Responses, then an empty response.
//
//	mock := &MockLLMClient{
//	    Responses: []*llm.Response{
//	        {Content: "not json"},
//	        {Content: `{"verdicts": []}`},
//	    },
//	}
//
// Concurrent callers whose order is not deterministic should use Handler and
// branch on the request instead.
type MockLLMClient struct {
	mu sync.Mutex

	Responses []*llm.Response
	Err       error
	Handler   func(ctx context.Context, req llm.Request) (*llm.Response, error)

	requests        []llm.Request
	capturedContext context.Context
	responseIndex   int
}

var _ llm.Completer = (*MockLLMClient)(nil)

// Complete implements llm.Completer.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.capturedContext = ctx
	m.requests = append(m.requests, req)
	handler := m.Handler
	m.mu.Unlock()

	// The handler runs unlocked so it may block on ctx.
	if handler != nil {
		return handler(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	}
	return &llm.Response{Content: "", Model: "test-model"}, nil
}

// GetCapturedContext returns the last context passed to Complete.
func (m *MockLLMClient) GetCapturedContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturedContext
}

// GetCallCount returns the number of times Complete was called.
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received, in arrival order.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// Reset clears recorded calls and rewinds Responses.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responseIndex = 0
	m.capturedContext = nil
}
