// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/agent"
	"github.com/xkilldash9x/waypoint/internal/mocks"
)

// -- Mock Implementations for Testing --

// mockRunner replays results keyed by goal and records the goals it ran.
type mockRunner struct {
	mu      sync.Mutex
	results map[string]agent.Result
	errs    map[string]error
	goals   []string
}

func (m *mockRunner) Run(_ context.Context, goal string) (agent.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goals = append(m.goals, goal)
	if err := m.errs[goal]; err != nil {
		return agent.Result{}, err
	}
	if res, ok := m.results[goal]; ok {
		return res, nil
	}
	return agent.Result{Success: true, Iterations: 1}, nil
}

// mockEpisodes is an in-memory EpisodeStore.
type mockEpisodes struct {
	similar  []schemas.Episode
	appended []schemas.Episode
}

func (m *mockEpisodes) SimilarEpisodes(string, int) []schemas.Episode { return m.similar }

func (m *mockEpisodes) AppendEpisode(ep schemas.Episode) error {
	m.appended = append(m.appended, ep)
	return nil
}

func setup(t *testing.T) (*Orchestrator, *mockRunner, *mocks.MockLLMClient, *mockEpisodes) {
	t.Helper()
	runner := &mockRunner{results: map[string]agent.Result{}, errs: map[string]error{}}
	llm := new(mocks.MockLLMClient)
	eps := &mockEpisodes{}
	o, err := New(runner, llm, eps, zap.NewNop())
	require.NoError(t, err)
	return o, runner, llm, eps
}

func promptContains(s string) any {
	return mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return strings.Contains(req.SystemPrompt, s)
	})
}

const threeSubtasks = `{"subtasks": [
	{"id": "s1", "description": "Open job board", "goal": "Open the job board", "complexity": "low"},
	{"id": "s2", "description": "Search", "goal": "Search for Go roles", "depends_on": ["s1"]},
	{"id": "s3", "description": "Apply", "goal": "Apply to the first role", "complexity": "high"}
]}`

// -- Test Cases --

func TestNew(t *testing.T) {
	_, err := New(nil, new(mocks.MockLLMClient), &mockEpisodes{}, zap.NewNop())
	assert.Error(t, err)
}

func TestDecompose_UsesSuccessfulEpisodesAsExamples(t *testing.T) {
	o, _, llm, eps := setup(t)
	eps.similar = []schemas.Episode{
		{Task: "Apply to Rust jobs", Success: true, Approach: "navigate -> click -> answer_question"},
		{Task: "Apply to Java jobs", Success: false, Approach: "navigate"},
	}
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return strings.Contains(req.UserPrompt, "Apply to Rust jobs") && !strings.Contains(req.UserPrompt, "Java")
	})).Return(threeSubtasks, nil).Once()

	got, err := o.Decompose(context.Background(), "Apply to Go jobs")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"s1"}, got[1].DependsOn)
	assert.Equal(t, schemas.ComplexityMedium, got[1].Complexity)
	llm.AssertExpectations(t)
}

func TestExecute_AllSubtasksSucceed(t *testing.T) {
	o, runner, llm, eps := setup(t)
	llm.On("Generate", mock.Anything, promptContains("Split the goal")).Return(threeSubtasks, nil).Once()

	report, err := o.Execute(context.Background(), "Apply to Go jobs")
	require.NoError(t, err)
	assert.True(t, report.Success())
	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, []string{"Open the job board", "Search for Go roles", "Apply to the first role"}, runner.goals)

	require.Len(t, eps.appended, 1)
	summary := eps.appended[0]
	assert.True(t, summary.Success)
	assert.Equal(t, "Apply to Go jobs", summary.Task)
	assert.Equal(t, "completed 3/3 subtasks", summary.Learnings[0])
	llm.AssertExpectations(t)
}

func TestExecute_ContinuesWhenDecisionSaysSo(t *testing.T) {
	o, runner, llm, eps := setup(t)
	runner.results["Search for Go roles"] = agent.Result{Reason: agent.ReasonMaxIterations}
	llm.On("Generate", mock.Anything, promptContains("Split the goal")).Return(threeSubtasks, nil).Once()
	llm.On("Generate", mock.Anything, promptContains("A subtask just failed")).
		Return(`{"continue": true, "reason": "can apply from the board directly"}`, nil).Once()

	report, err := o.Execute(context.Background(), "Apply to Go jobs")
	require.NoError(t, err)
	assert.False(t, report.Success())
	assert.False(t, report.Stopped)
	assert.Equal(t, 2, report.Completed)
	assert.Len(t, runner.goals, 3)

	summary := eps.appended[0]
	assert.False(t, summary.Success)
	assert.Contains(t, summary.Learnings, "Search: "+agent.ReasonMaxIterations)
	llm.AssertExpectations(t)
}

func TestExecute_StopsWhenDecisionFails(t *testing.T) {
	o, runner, llm, eps := setup(t)
	runner.errs["Open the job board"] = errors.New("iteration 1: failed to parse thought")
	llm.On("Generate", mock.Anything, promptContains("Split the goal")).Return(threeSubtasks, nil).Once()
	llm.On("Generate", mock.Anything, promptContains("A subtask just failed")).Return("", errors.New("rate limited")).Once()

	report, err := o.Execute(context.Background(), "Apply to Go jobs")
	require.NoError(t, err)
	assert.True(t, report.Stopped)
	assert.Contains(t, report.StopReason, "rate limited")
	assert.Equal(t, []string{"Open the job board"}, runner.goals)
	assert.Equal(t, "completed 0/3 subtasks", eps.appended[0].Learnings[0])
}

func TestExecute_StopsOnUnreadableDecision(t *testing.T) {
	o, runner, llm, _ := setup(t)
	runner.results["Open the job board"] = agent.Result{Reason: agent.ReasonMaxIterations}
	llm.On("Generate", mock.Anything, promptContains("Split the goal")).Return(threeSubtasks, nil).Once()
	llm.On("Generate", mock.Anything, promptContains("A subtask just failed")).Return("keep going I guess", nil).Once()

	report, err := o.Execute(context.Background(), "Apply to Go jobs")
	require.NoError(t, err)
	assert.True(t, report.Stopped)
	assert.Len(t, runner.goals, 1)
}

func TestExecute_OperatorDeclineStopsImmediately(t *testing.T) {
	o, runner, llm, eps := setup(t)
	runner.results["Open the job board"] = agent.Result{Reason: agent.ReasonOperatorDeclined}
	llm.On("Generate", mock.Anything, promptContains("Split the goal")).Return(threeSubtasks, nil).Once()

	report, err := o.Execute(context.Background(), "Apply to Go jobs")
	require.NoError(t, err)
	assert.True(t, report.Stopped)
	assert.Equal(t, agent.ReasonOperatorDeclined, report.StopReason)
	assert.Equal(t, []string{"Open the job board"}, runner.goals)
	llm.AssertNotCalled(t, "Generate", mock.Anything, promptContains("A subtask just failed"))
	llm.AssertExpectations(t)

	require.Len(t, eps.appended, 1)
	assert.False(t, eps.appended[0].Success)
	assert.Contains(t, eps.appended[0].Learnings, "stopped: "+agent.ReasonOperatorDeclined)
}

func TestExecute_FallsBackToSingleSubtask(t *testing.T) {
	for name, response := range map[string]string{
		"unparseable": "I cannot plan this.",
		"empty list":  `{"subtasks": []}`,
	} {
		t.Run(name, func(t *testing.T) {
			o, runner, llm, eps := setup(t)
			llm.On("Generate", mock.Anything, promptContains("Split the goal")).Return(response, nil).Once()

			report, err := o.Execute(context.Background(), "Update my profile photo")
			require.NoError(t, err)
			assert.True(t, report.FellBack)
			assert.Equal(t, 1, report.Total)
			assert.Equal(t, []string{"Update my profile photo"}, runner.goals)
			assert.True(t, eps.appended[0].Success)
		})
	}
}

func TestExecute_CancelledContext(t *testing.T) {
	o, runner, llm, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Execute(ctx, "goal")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.goals)
	llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestNormalizeSubtasks(t *testing.T) {
	got := normalizeSubtasks([]schemas.Subtask{
		{ID: "a", Description: "  Log in "},
		{ID: "a", Goal: "Open settings", Complexity: "extreme"},
		{ID: "b"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "Log in", got[0].Goal)
	assert.NotEqual(t, "a", got[1].ID, "duplicate IDs are replaced")
	assert.Equal(t, "Open settings", got[1].Description)
	assert.Equal(t, schemas.ComplexityMedium, got[1].Complexity)
}
