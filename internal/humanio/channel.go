// Package humanio is the line-oriented operator console the agent escalates to.
package humanio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrDeclined is returned when the operator answers "quit".
	ErrDeclined = errors.New("operator declined")
	// ErrNoInput is returned when the input stream is exhausted.
	ErrNoInput = errors.New("no operator input available")
	// ErrNoValidAnswer is returned when every validation retry is used up.
	ErrNoValidAnswer = errors.New("no valid answer")
)

const quitWord = "quit"

// Channel is how the agent talks to the human operator.
type Channel interface {
	// Ask requests a non-empty free-text answer.
	Ask(ctx context.Context, question string) (string, error)
	// Confirm asks a yes/no question. An empty answer selects def.
	Confirm(ctx context.Context, question string, def bool) (bool, error)
	// Choose asks for one of options, by number or by text.
	Choose(ctx context.Context, question string, options []string) (string, error)
	// AskBatch asks several free-text questions in order.
	AskBatch(ctx context.Context, questions []string) ([]string, error)
	// Notify prints an informational message.
	Notify(message string)
}

// TerminalChannel implements Channel over a reader and a writer. All prompts
// are serialized.
type TerminalChannel struct {
	mu         sync.Mutex
	reader     *bufio.Reader
	writer     io.Writer
	maxRetries int
}

var _ Channel = (*TerminalChannel)(nil)

// NewTerminalChannel creates a channel on stdin and stdout.
func NewTerminalChannel(maxRetries int) *TerminalChannel {
	return NewChannel(os.Stdin, os.Stdout, maxRetries)
}

// NewChannel creates a channel on arbitrary streams.
func NewChannel(r io.Reader, w io.Writer, maxRetries int) *TerminalChannel {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &TerminalChannel{reader: bufio.NewReader(r), writer: w, maxRetries: maxRetries}
}

// readLine prints prompt and reads one trimmed line. "quit" maps to ErrDeclined.
func (c *TerminalChannel) readLine(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(c.writer, prompt)
	line, err := c.reader.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", ErrNoInput
		}
		return "", fmt.Errorf("failed to read operator input: %w", err)
	}
	line = strings.TrimSpace(line)
	if strings.EqualFold(line, quitWord) {
		return "", ErrDeclined
	}
	return line, nil
}

// prompt repeats readLine until parse accepts the answer or retries run out.
func prompt[T any](ctx context.Context, c *TerminalChannel, text string, parse func(string) (T, bool)) (T, error) {
	var zero T
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		line, err := c.readLine(ctx, text)
		if err != nil {
			return zero, err
		}
		if v, ok := parse(line); ok {
			return v, nil
		}
		if attempt < c.maxRetries {
			fmt.Fprintln(c.writer, "  Invalid answer, please try again.")
		}
	}
	return zero, fmt.Errorf("%w after %d attempts", ErrNoValidAnswer, c.maxRetries)
}

func (c *TerminalChannel) Ask(ctx context.Context, question string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ask(ctx, question)
}

func (c *TerminalChannel) ask(ctx context.Context, question string) (string, error) {
	return prompt(ctx, c, fmt.Sprintf("\n%s\n> ", question), func(s string) (string, bool) {
		return s, s != ""
	})
}

func (c *TerminalChannel) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	return prompt(ctx, c, fmt.Sprintf("\n%s [%s] ", question, hint), func(s string) (bool, bool) {
		switch strings.ToLower(s) {
		case "":
			return def, true
		case "y", "yes":
			return true, true
		case "n", "no":
			return false, true
		}
		return false, false
	})
}

func (c *TerminalChannel) Choose(ctx context.Context, question string, options []string) (string, error) {
	if len(options) == 0 {
		return "", errors.New("no options to choose from")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", question)
	for i, opt := range options {
		fmt.Fprintf(&b, "  %d) %s\n", i+1, opt)
	}
	b.WriteString("> ")

	return prompt(ctx, c, b.String(), func(s string) (string, bool) {
		if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= len(options) {
			return options[n-1], true
		}
		for _, opt := range options {
			if strings.EqualFold(s, opt) {
				return opt, true
			}
		}
		return "", false
	})
}

func (c *TerminalChannel) AskBatch(ctx context.Context, questions []string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	answers := make([]string, 0, len(questions))
	for i, q := range questions {
		a, err := c.ask(ctx, fmt.Sprintf("(%d/%d) %s", i+1, len(questions), q))
		if err != nil {
			return answers, err
		}
		answers = append(answers, a)
	}
	return answers, nil
}

func (c *TerminalChannel) Notify(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.writer, "\n[waypoint] %s\n", message)
}

// ScriptedChannel replays canned operator input and records everything the
// agent printed. Used by tests and non-interactive runs.
type ScriptedChannel struct {
	*TerminalChannel
	out *syncBuffer
}

// NewScriptedChannel creates a channel answering with lines in order.
func NewScriptedChannel(lines ...string) *ScriptedChannel {
	var in strings.Builder
	for _, l := range lines {
		in.WriteString(l)
		in.WriteByte('\n')
	}
	out := &syncBuffer{}
	return &ScriptedChannel{TerminalChannel: NewChannel(strings.NewReader(in.String()), out, 3), out: out}
}

// Transcript returns everything written to the operator so far.
func (s *ScriptedChannel) Transcript() string {
	return s.out.String()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
