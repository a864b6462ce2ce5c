package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/humanio"
)

type echoParams struct {
	Message string `json:"message"`
}

func (p echoParams) Validate() error {
	if p.Message == "" {
		return errors.New("message is required")
	}
	return nil
}

func newTestRegistry(t *testing.T, tools ...Tool) *Registry {
	t.Helper()
	r := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(tools...))
	return r
}

func action(t *testing.T, tool string, params any) schemas.NextAction {
	t.Helper()
	a, err := schemas.NewAction(tool, params, "")
	require.NoError(t, err)
	return a
}

func TestRegistry_Dispatch(t *testing.T) {
	echo := Define("echo", "Echo a message.", `{"message": string}`, func(_ context.Context, p echoParams) (any, error) {
		return p.Message, nil
	})
	boom := Define("boom", "Always fails.", `{}`, func(_ context.Context, _ WaitForChallengeParams) (any, error) {
		return nil, errors.New("element could not be found")
	})
	crash := Define("crash", "Panics.", `{}`, func(_ context.Context, _ WaitForChallengeParams) (any, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	})
	declined := Define("declined", "Operator quits.", `{}`, func(_ context.Context, _ WaitForChallengeParams) (any, error) {
		return nil, humanio.ErrDeclined
	})
	unanswered := Define("unanswered", "Operator never gives a valid answer.", `{}`, func(_ context.Context, _ WaitForChallengeParams) (any, error) {
		return nil, fmt.Errorf("%w after 3 attempts", humanio.ErrNoValidAnswer)
	})
	r := newTestRegistry(t, echo, boom, crash, declined, unanswered)
	ctx := context.Background()

	tests := []struct {
		name     string
		action   schemas.NextAction
		success  bool
		code     ErrorCode
		errorHas string
	}{
		{"success", action(t, "echo", map[string]string{"message": "hi"}), true, "", ""},
		{"unknown tool", schemas.NextAction{Tool: "teleport"}, false, ErrCodeUnknownTool, "teleport"},
		{"tool names are exact", schemas.NextAction{Tool: "Echo"}, false, ErrCodeUnknownTool, ""},
		{"unknown field", action(t, "echo", map[string]string{"message": "hi", "volume": "11"}), false, ErrCodeInvalidParameters, ""},
		{"failed validation", action(t, "echo", map[string]string{}), false, ErrCodeInvalidParameters, "message is required"},
		{"missing params", schemas.NextAction{Tool: "echo"}, false, ErrCodeInvalidParameters, ""},
		{"malformed params", schemas.NextAction{Tool: "echo", Params: []byte(`{"message":`)}, false, ErrCodeInvalidParameters, ""},
		{"execution failure", schemas.NextAction{Tool: "boom"}, false, ErrCodeExecutionFailure, "could not be found"},
		{"panic", schemas.NextAction{Tool: "crash"}, false, ErrCodeToolPanic, "panicked"},
		{"declined", schemas.NextAction{Tool: "declined"}, false, ErrCodeOperatorDeclined, ""},
		{"retries exhausted", schemas.NextAction{Tool: "unanswered"}, false, ErrCodeOperatorDeclined, "no valid answer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Dispatch(ctx, tt.action)
			assert.Equal(t, tt.success, res.Success)
			assert.Equal(t, string(tt.code), res.ErrorCode)
			if tt.errorHas != "" {
				assert.Contains(t, res.Error, tt.errorHas)
			}
		})
	}

	res := r.Dispatch(ctx, action(t, "echo", map[string]string{"message": "hi"}))
	assert.Equal(t, "hi", res.Data)
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	tool := Define("echo", "", "", func(_ context.Context, p echoParams) (any, error) { return nil, nil })
	r := newTestRegistry(t, tool)
	assert.ErrorContains(t, r.Register(tool), "already registered")
	assert.Error(t, r.Register(Define("", "", "", func(_ context.Context, p echoParams) (any, error) { return nil, nil })))
}

func TestRegistry_Catalogue(t *testing.T) {
	r := newTestRegistry(t,
		Define("zeta", "last", "{}", func(_ context.Context, p echoParams) (any, error) { return nil, nil }),
		Define("alpha", "first", `{"message": string}`, func(_ context.Context, p echoParams) (any, error) { return nil, nil }),
	)
	got := r.Catalogue()
	require.Len(t, got, 2)
	assert.Equal(t, Spec{Name: "alpha", Description: "first", Params: `{"message": string}`}, got[0])
	assert.Equal(t, "zeta", got[1].Name)
}
