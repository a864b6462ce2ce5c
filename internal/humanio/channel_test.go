package humanio

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsk(t *testing.T) {
	ch := NewScriptedChannel("", "  click the blue button  ")
	answer, err := ch.Ask(context.Background(), "What should I do?")
	require.NoError(t, err)
	assert.Equal(t, "click the blue button", answer)
	assert.Contains(t, ch.Transcript(), "Invalid answer")
}

func TestAsk_Quit(t *testing.T) {
	ch := NewScriptedChannel("QUIT")
	_, err := ch.Ask(context.Background(), "What should I do?")
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestAsk_NoInput(t *testing.T) {
	ch := NewScriptedChannel()
	_, err := ch.Ask(context.Background(), "anyone?")
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestAsk_LastLineWithoutNewline(t *testing.T) {
	var out bytes.Buffer
	ch := NewChannel(strings.NewReader("final answer"), &out, 3)
	answer, err := ch.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "final answer", answer)
}

func TestConfirm(t *testing.T) {
	ch := NewScriptedChannel("yes", "N", "", "maybe", "y")
	ctx := context.Background()

	ok, err := ch.Confirm(ctx, "Proceed?", false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ch.Confirm(ctx, "Proceed?", true)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ch.Confirm(ctx, "Proceed?", true)
	require.NoError(t, err)
	assert.True(t, ok, "empty answer selects the default")

	ok, err = ch.Confirm(ctx, "Proceed?", false)
	require.NoError(t, err)
	assert.True(t, ok, "malformed input is retried")

	assert.Contains(t, ch.Transcript(), "[Y/n]")
	assert.Contains(t, ch.Transcript(), "[y/N]")
}

func TestConfirm_RetriesExhausted(t *testing.T) {
	ch := NewScriptedChannel("a", "b", "c", "y")
	_, err := ch.Confirm(context.Background(), "Proceed?", false)
	assert.ErrorIs(t, err, ErrNoValidAnswer)
	assert.ErrorContains(t, err, "no valid answer after 3 attempts")
}

func TestChoose(t *testing.T) {
	ch := NewScriptedChannel("2", "remote", "7", "Hybrid")
	ctx := context.Background()
	options := []string{"Onsite", "Remote", "Hybrid"}

	got, err := ch.Choose(ctx, "Work mode?", options)
	require.NoError(t, err)
	assert.Equal(t, "Remote", got)

	got, err = ch.Choose(ctx, "Work mode?", options)
	require.NoError(t, err)
	assert.Equal(t, "Remote", got, "text match is case-insensitive and returns the canonical option")

	got, err = ch.Choose(ctx, "Work mode?", options)
	require.NoError(t, err)
	assert.Equal(t, "Hybrid", got, "out-of-range number is retried")

	assert.Contains(t, ch.Transcript(), "  3) Hybrid")

	_, err = ch.Choose(ctx, "Nothing?", nil)
	assert.Error(t, err)
}

func TestAskBatch(t *testing.T) {
	ch := NewScriptedChannel("Ada", "Lovelace", "quit")
	answers, err := ch.AskBatch(context.Background(), []string{"First name?", "Last name?", "Phone?"})
	assert.ErrorIs(t, err, ErrDeclined)
	assert.Equal(t, []string{"Ada", "Lovelace"}, answers, "answers collected before quitting are returned")
	assert.Contains(t, ch.Transcript(), "(2/3) Last name?")
}

func TestNotify(t *testing.T) {
	ch := NewScriptedChannel()
	ch.Notify("Task complete")
	assert.Contains(t, ch.Transcript(), "[waypoint] Task complete")
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScriptedChannel("x").Ask(ctx, "q")
	assert.ErrorIs(t, err, context.Canceled)
}
