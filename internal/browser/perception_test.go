package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/llmutil"
)

type stubActuator struct {
	Actuator
	shot     []byte
	shotErr  error
	url      string
	title    string
	titleErr error
}

func (s *stubActuator) Screenshot(context.Context) ([]byte, error) { return s.shot, s.shotErr }
func (s *stubActuator) CurrentURL(context.Context) (string, error) { return s.url, nil }
func (s *stubActuator) Title(context.Context) (string, error)      { return s.title, s.titleErr }

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func TestPerceiver_Observe(t *testing.T) {
	act := &stubActuator{shot: []byte("png"), url: "https://jobs.example.com", title: "Apply"}
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierFast &&
			len(req.Images) == 1 && string(req.Images[0].Data) == "png" &&
			req.Options.ForceJSONFormat
	})).Return("```json\n"+`{
		"description": "A job application form",
		"ui_state": "FORM",
		"elements": [
			{"description": "email field", "kind": "input", "x": 40, "y": 30},
			{"description": "submit button", "kind": "widget", "x": 50, "y": 120},
			{"description": "", "kind": "link"}
		]
	}`+"\n```", nil)

	p := NewPerceiver(act, llm, zaptest.NewLogger(t))
	obs, err := p.Observe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://jobs.example.com", obs.URL)
	assert.Equal(t, "Apply", obs.Title)
	assert.Equal(t, schemas.UIStateForm, obs.UIState)
	assert.False(t, obs.Timestamp.IsZero())
	require.Len(t, obs.Elements, 2, "elements without a description are dropped")

	assert.True(t, obs.Elements[0].HasCoordinates())
	assert.Equal(t, schemas.ElementText, obs.Elements[1].Kind, "unknown kinds are coerced")
	assert.Nil(t, obs.Elements[1].Y, "out-of-range coordinates are dropped")
	llm.AssertExpectations(t)
}

func TestPerceiver_ObserveToleratesMissingTitle(t *testing.T) {
	act := &stubActuator{shot: []byte("png"), titleErr: errors.New("navigating")}
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.Anything).Return(`{"description": "blank", "ui_state": "weird"}`, nil)

	obs, err := NewPerceiver(act, llm, zaptest.NewLogger(t)).Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemas.UIStateUnknown, obs.UIState)
}

func TestPerceiver_ObserveErrors(t *testing.T) {
	t.Run("screenshot", func(t *testing.T) {
		act := &stubActuator{shotErr: errors.New("target closed")}
		_, err := NewPerceiver(act, new(mockLLM), zaptest.NewLogger(t)).Observe(context.Background())
		assert.ErrorContains(t, err, "target closed")
	})

	t.Run("no JSON", func(t *testing.T) {
		llm := new(mockLLM)
		llm.On("Generate", mock.Anything, mock.Anything).Return("I cannot see anything.", nil)
		_, err := NewPerceiver(&stubActuator{}, llm, zaptest.NewLogger(t)).Observe(context.Background())
		assert.ErrorIs(t, err, llmutil.ErrNoJSON)
	})
}

func TestPerceiver_Locate(t *testing.T) {
	llm := new(mockLLM)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.UserPrompt == "Find: apply button"
	})).Return(`{"found": true, "x": 72.5, "y": 88}`, nil)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.UserPrompt == "Find: unicorn"
	})).Return(`{"found": false}`, nil)

	p := NewPerceiver(&stubActuator{shot: []byte("png")}, llm, zaptest.NewLogger(t))

	loc, err := p.Locate(context.Background(), "apply button")
	require.NoError(t, err)
	assert.Equal(t, schemas.Locator{X: 72.5, Y: 88}, loc)

	_, err = p.Locate(context.Background(), "unicorn")
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.ErrorContains(t, err, "element not found")
}
