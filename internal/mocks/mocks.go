// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/browser"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// -- Actuator Mock --

// MockActuator mocks browser.Actuator.
type MockActuator struct {
	mock.Mock
}

var _ browser.Actuator = (*MockActuator)(nil)

func (m *MockActuator) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockActuator) Click(ctx context.Context, xPct, yPct float64) error {
	return m.Called(ctx, xPct, yPct).Error(0)
}

func (m *MockActuator) Type(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockActuator) Scroll(ctx context.Context, dir browser.Direction, amount int) error {
	return m.Called(ctx, dir, amount).Error(0)
}

func (m *MockActuator) PressKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockActuator) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockActuator) ViewportSize(ctx context.Context) (browser.Viewport, error) {
	args := m.Called(ctx)
	return args.Get(0).(browser.Viewport), args.Error(1)
}

func (m *MockActuator) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockActuator) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// -- Perception Mock --

// MockPerception mocks the cognition-backed perceiver (Observe and Locate).
type MockPerception struct {
	mock.Mock
}

func (m *MockPerception) Observe(ctx context.Context) (schemas.Observation, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Observation), args.Error(1)
}

func (m *MockPerception) Locate(ctx context.Context, description string) (schemas.Locator, error) {
	args := m.Called(ctx, description)
	return args.Get(0).(schemas.Locator), args.Error(1)
}

// -- Observation Sequence --

// ObservationSequence replays a fixed list of observations. Once exhausted it
// keeps returning the last one.
type ObservationSequence struct {
	mu    sync.Mutex
	items []schemas.Observation
	calls int
}

// NewObservationSequence creates a sequence over obs.
func NewObservationSequence(obs ...schemas.Observation) *ObservationSequence {
	return &ObservationSequence{items: obs}
}

func (s *ObservationSequence) Observe(ctx context.Context) (schemas.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return schemas.Observation{}, err
	}
	if len(s.items) == 0 {
		return schemas.Observation{}, nil
	}
	i := s.calls
	if i >= len(s.items) {
		i = len(s.items) - 1
	}
	s.calls++
	return s.items[i], nil
}

// Calls reports how many observations were served.
func (s *ObservationSequence) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
