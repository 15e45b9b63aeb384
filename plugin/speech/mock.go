package speech

import (
	"context"
	"fmt"
	"sync"
)

// MockService is a deterministic implementation of Service for testing.
type MockService struct {
	mu sync.Mutex

	// Err makes every call fail when set.
	Err error
	// FailTimes makes the next n calls fail before succeeding.
	FailTimes int

	calls  int
	voices []string
}

// NewMockService creates a mock synthesis service.
func NewMockService() *MockService {
	return &MockService{}
}

// Synthesize returns a deterministic artifact reference.
func (m *MockService) Synthesize(_ context.Context, text string, voice string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if text == "" {
		return "", nil
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.FailTimes > 0 {
		m.FailTimes--
		return "", fmt.Errorf("mock synthesis failure")
	}

	m.calls++
	m.voices = append(m.voices, voice)
	return fmt.Sprintf("turn-%d.mp3", m.calls), nil
}

// Calls returns the number of successful syntheses.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Voices returns the voice selectors seen by successful calls.
func (m *MockService) Voices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.voices))
	copy(out, m.voices)
	return out
}
