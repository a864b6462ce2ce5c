// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// ErrNoJSON is returned when a model response contains no JSON object or array.
var ErrNoJSON = errors.New("no JSON found in model response")

var (
	// Regex definitions use \x60 for backticks because Go raw strings cannot contain them.

	// fencedBlockRegex extracts the body of the first markdown code block.
	fencedBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(.*?)\\s*\x60\x60\x60")
)

// ExtractJSON locates the single JSON object or array inside a free-text model
// response. A fenced code block wins. Otherwise the response is scanned for
// balanced object or array spans, in order of their opening character; the
// first span that is valid JSON is returned, or failing that the first
// balanced span so the decoder can report what is wrong with it. It returns
// ErrNoJSON when no balanced span exists.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)

	if matches := fencedBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		if body := strings.TrimSpace(matches[1]); startsJSON(body) {
			return body, nil
		}
	}

	first := ""
	for i := 0; i < len(response); i++ {
		if response[i] != '{' && response[i] != '[' {
			continue
		}
		end := balancedEnd(response, i)
		if end < 0 {
			continue
		}
		span := response[i : end+1]
		if json.Valid([]byte(span)) {
			return span, nil
		}
		if first == "" {
			first = span
		}
	}
	if first != "" {
		return first, nil
	}
	return "", ErrNoJSON
}

// balancedEnd returns the index of the bracket closing the one at start, or -1.
// Brackets inside string literals are ignored.
func balancedEnd(s string, start int) int {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseJSONResponse extracts and decodes a model response into T. Extraction
// failures wrap ErrNoJSON; decoding failures include a truncated snippet.
func ParseJSONResponse[T any](response string) (*T, error) {
	raw, err := ExtractJSON(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w (response: %s)", err, truncateString(response, 200))
	}

	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(raw, 500))
	}
	return &result, nil
}

func startsJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// truncateString truncates a string to a maximum length, respecting rune boundaries.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
