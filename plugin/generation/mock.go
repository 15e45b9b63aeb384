package generation

import (
	"context"
	"fmt"
	"sync"
)

// MockService is a deterministic implementation of Service for testing.
// It returns canned lines and can be primed to fail a number of times.
type MockService struct {
	mu sync.Mutex

	// Lines are returned in order; once exhausted, a numbered fallback line
	// is produced.
	Lines []string
	// FailTimes makes the next n calls return Err before succeeding.
	FailTimes int
	// Err is the error returned while FailTimes > 0.
	Err error

	calls    int
	requests []Request
}

// NewMockService creates a mock with no canned lines.
func NewMockService() *MockService {
	return &MockService{}
}

// Generate returns the next canned line or a deterministic fallback.
func (m *MockService) Generate(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.FailTimes > 0 {
		m.FailTimes--
		if m.Err != nil {
			return "", m.Err
		}
		return "", fmt.Errorf("mock generation failure")
	}

	m.calls++
	if len(m.Lines) >= m.calls {
		return m.Lines[m.calls-1], nil
	}
	return fmt.Sprintf("canned line %d", m.calls), nil
}

// Calls returns the number of successful generations.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request seen, including failed ones.
func (m *MockService) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent request, or a zero Request.
func (m *MockService) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return Request{}
	}
	return m.requests[len(m.requests)-1]
}
