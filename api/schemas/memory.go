package schemas

import (
	"time"
)

// Locator is a resolved reference to an element. Coordinates are viewport
// percentages; Selector is an optional CSS selector when one is known.
type Locator struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Selector string  `json:"selector,omitempty"`
}

// CachedSelector tracks how reliably a description has resolved to a locator.
type CachedSelector struct {
	Description   string    `json:"description"`
	Locator       Locator   `json:"locator"`
	SuccessCount  int       `json:"success_count"`
	FailureCount  int       `json:"failure_count"`
	LastUsed      time.Time `json:"last_used"`
	LastValidated time.Time `json:"last_validated"`
}

// Attempts is the total number of recorded resolutions.
func (c CachedSelector) Attempts() int {
	return c.SuccessCount + c.FailureCount
}

// SuccessRate returns the observed ratio of successful resolutions, or 1 when
// nothing has been recorded yet.
func (c CachedSelector) SuccessRate() float64 {
	n := c.Attempts()
	if n == 0 {
		return 1
	}
	return float64(c.SuccessCount) / float64(n)
}

// Episode is a durable record of one completed goal attempt.
type Episode struct {
	ID        string        `json:"id"`
	Task      string        `json:"task"`
	Success   bool          `json:"success"`
	Approach  string        `json:"approach"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Learnings []string      `json:"learnings,omitempty"`
}

// ActionRecord is a compact entry in the rolling action log.
type ActionRecord struct {
	Tool      string    `json:"tool"`
	Success   bool      `json:"success"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryStats aggregates memory health for the reasoning prompt.
type MemoryStats struct {
	SelectorCount           int     `json:"selector_count"`
	MeanSelectorSuccessRate float64 `json:"mean_selector_success_rate"`
	EpisodeCount            int     `json:"episode_count"`
	EpisodeSuccessRate      float64 `json:"episode_success_rate"`
	ShortTermSize           int     `json:"short_term_size"`
	ActionLogSize           int     `json:"action_log_size"`
}
