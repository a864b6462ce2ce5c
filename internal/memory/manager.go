// Package memory holds everything the agent remembers between and within tasks:
// the selector reliability cache, the long-term episode log, the short-term
// action buffer, and a rolling log of executed actions.
package memory

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/config"
	"github.com/xkilldash9x/waypoint/internal/keywords"
)

// selectorDocument is the on-disk shape of the selector cache.
type selectorDocument struct {
	Version   int                      `json:"version"`
	Selectors []schemas.CachedSelector `json:"selectors"`
}

// episodeDocument is the on-disk shape of the episode log.
type episodeDocument struct {
	Version  int               `json:"version"`
	Episodes []schemas.Episode `json:"episodes"`
}

const documentVersion = 1

// Manager owns the agent's memory. It is constructed once per process and
// passed to the components that need it.
type Manager struct {
	logger *zap.Logger
	cfg    config.MemoryConfig
	now    func() time.Time

	mu            sync.Mutex
	selectors     map[string]*schemas.CachedSelector
	pendingWrites int
	episodes      *boundedFIFO[schemas.Episode]
	shortTerm     *boundedFIFO[schemas.MemoryEntry]
	actionLog     *boundedFIFO[schemas.ActionRecord]

	selectorPath string
	episodePath  string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager rooted at cfg.Dir and loads any previously
// persisted selectors and episodes.
func NewManager(cfg config.MemoryConfig, logger *zap.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		logger:       logger.Named("memory"),
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
		selectors:    make(map[string]*schemas.CachedSelector),
		episodes:     newBoundedFIFO[schemas.Episode](cfg.EpisodeCapacity),
		shortTerm:    newBoundedFIFO[schemas.MemoryEntry](cfg.ShortTermCapacity),
		actionLog:    newBoundedFIFO[schemas.ActionRecord](cfg.ActionLogSize),
		selectorPath: filepath.Join(cfg.Dir, selectorsFile),
		episodePath:  filepath.Join(cfg.Dir, episodesFile),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	var sel selectorDocument
	if err := readDocument(m.selectorPath, &sel); err != nil {
		return fmt.Errorf("failed to load selector cache: %w", err)
	}
	for i := range sel.Selectors {
		s := sel.Selectors[i]
		m.selectors[s.Description] = &s
	}

	var eps episodeDocument
	if err := readDocument(m.episodePath, &eps); err != nil {
		return fmt.Errorf("failed to load episode log: %w", err)
	}
	m.episodes.replace(eps.Episodes)

	m.logger.Debug("Memory loaded",
		zap.Int("selectors", len(m.selectors)),
		zap.Int("episodes", m.episodes.len()))
	return nil
}

// -- Selector cache --

// LookupSelector returns the cached selector for description after applying
// the staleness and reliability rules. Entries that fail either rule are
// evicted and reported as a miss.
func (m *Manager) LookupSelector(description string) (schemas.CachedSelector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.selectors[description]
	if !ok {
		return schemas.CachedSelector{}, false
	}

	now := m.now()
	switch {
	case now.Sub(entry.LastValidated) > m.cfg.SelectorValidity:
		m.evictLocked(description, "stale")
		return schemas.CachedSelector{}, false
	case entry.Attempts() >= m.cfg.LookupMinAttempts && entry.SuccessRate() < m.cfg.LookupMinSuccessRate:
		m.evictLocked(description, "unreliable")
		return schemas.CachedSelector{}, false
	}

	entry.LastUsed = now
	return *entry, true
}

// RecordSuccess records a successful resolution of description to locator,
// creating the entry on first success.
func (m *Manager) RecordSuccess(description string, locator schemas.Locator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, ok := m.selectors[description]
	if !ok {
		entry = &schemas.CachedSelector{Description: description}
		m.selectors[description] = entry
	}
	entry.Locator = locator
	entry.SuccessCount++
	entry.LastUsed = now
	entry.LastValidated = now

	if !ok {
		m.enforceCapacityLocked()
	}
	return m.noteWriteLocked()
}

// RecordFailure records a failed resolution. Unknown descriptions are ignored;
// entries are only created by a success.
func (m *Manager) RecordFailure(description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.selectors[description]
	if !ok {
		return nil
	}
	entry.FailureCount++
	entry.LastUsed = m.now()

	if entry.Attempts() >= m.cfg.FailureMinAttempts && entry.SuccessRate() < m.cfg.FailureMinSuccessRate {
		m.evictLocked(description, "failing")
	}
	return m.noteWriteLocked()
}

// Flush writes the selector cache to disk immediately.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushSelectorsLocked()
}

func (m *Manager) evictLocked(description, reason string) {
	delete(m.selectors, description)
	m.logger.Debug("Evicted cached selector", zap.String("description", description), zap.String("reason", reason))
}

// enforceCapacityLocked drops least recently used entries beyond the configured capacity.
func (m *Manager) enforceCapacityLocked() {
	for len(m.selectors) > m.cfg.SelectorCapacity {
		var oldest *schemas.CachedSelector
		for _, s := range m.selectors {
			if oldest == nil || s.LastUsed.Before(oldest.LastUsed) {
				oldest = s
			}
		}
		m.evictLocked(oldest.Description, "capacity")
	}
}

// noteWriteLocked counts a cache mutation and flushes every FlushEvery writes.
func (m *Manager) noteWriteLocked() error {
	m.pendingWrites++
	if m.pendingWrites < m.cfg.FlushEvery {
		return nil
	}
	return m.flushSelectorsLocked()
}

func (m *Manager) flushSelectorsLocked() error {
	doc := selectorDocument{Version: documentVersion, Selectors: make([]schemas.CachedSelector, 0, len(m.selectors))}
	for _, s := range m.selectors {
		doc.Selectors = append(doc.Selectors, *s)
	}
	sort.Slice(doc.Selectors, func(i, j int) bool {
		return doc.Selectors[i].Description < doc.Selectors[j].Description
	})
	if err := writeDocument(m.selectorPath, doc); err != nil {
		return fmt.Errorf("failed to flush selector cache: %w", err)
	}
	m.pendingWrites = 0
	return nil
}

// -- Episodes --

// AppendEpisode adds ep to the bounded episode log and persists the whole log.
// Missing ID and Timestamp are filled in.
func (m *Manager) AppendEpisode(ep schemas.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = m.now()
	}
	if dropped := m.episodes.push(ep); dropped > 0 {
		m.logger.Debug("Episode log full, dropped oldest", zap.Int("dropped", dropped))
	}

	doc := episodeDocument{Version: documentVersion, Episodes: m.episodes.snapshot()}
	if err := writeDocument(m.episodePath, doc); err != nil {
		return fmt.Errorf("failed to persist episode log: %w", err)
	}
	return nil
}

// Episodes returns the episode log, oldest first.
func (m *Manager) Episodes() []schemas.Episode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.episodes.snapshot()
}

// SimilarEpisodes ranks past episodes by keyword overlap with task, best first.
// Episodes sharing no keyword are dropped. A limit of 0 returns all matches.
func (m *Manager) SimilarEpisodes(task string, limit int) []schemas.Episode {
	query := keywords.Tokenize(task)
	if len(query) == 0 {
		return nil
	}

	type scored struct {
		ep    schemas.Episode
		score int
	}
	var matches []scored
	for _, ep := range m.Episodes() {
		if s := keywords.Overlap(query, keywords.Tokenize(ep.Task)); s > 0 {
			matches = append(matches, scored{ep: ep, score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].ep.Timestamp.After(matches[j].ep.Timestamp)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]schemas.Episode, len(matches))
	for i, s := range matches {
		out[i] = s.ep
	}
	return out
}

// -- Short-term buffer and action log --

// Remember appends entry to the short-term buffer and a compact record of its
// action to the rolling action log.
func (m *Manager) Remember(entry schemas.MemoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}
	m.shortTerm.push(entry)

	if entry.Action == nil {
		return
	}
	rec := schemas.ActionRecord{
		Tool:      entry.Action.Tool,
		URL:       entry.Observation.URL,
		Timestamp: entry.Timestamp,
	}
	if entry.Result != nil {
		rec.Success = entry.Result.Success
		rec.Error = entry.Result.Error
	}
	m.actionLog.push(rec)
}

// Recent returns the newest n short-term entries, oldest first.
func (m *Manager) Recent(n int) []schemas.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shortTerm.last(n)
}

// ShortTerm returns the whole short-term buffer, oldest first.
func (m *Manager) ShortTerm() []schemas.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shortTerm.snapshot()
}

// ResetShortTerm clears the short-term buffer at the start of a new task.
func (m *Manager) ResetShortTerm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortTerm.replace(nil)
}

// ActionLog returns the rolling action log, oldest first.
func (m *Manager) ActionLog() []schemas.ActionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actionLog.snapshot()
}

// Stats aggregates memory health.
func (m *Manager) Stats() schemas.MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := schemas.MemoryStats{
		SelectorCount: len(m.selectors),
		EpisodeCount:  m.episodes.len(),
		ShortTermSize: m.shortTerm.len(),
		ActionLogSize: m.actionLog.len(),
	}
	if len(m.selectors) > 0 {
		var sum float64
		for _, s := range m.selectors {
			sum += s.SuccessRate()
		}
		stats.MeanSelectorSuccessRate = sum / float64(len(m.selectors))
	}
	if n := m.episodes.len(); n > 0 {
		ok := 0
		for _, ep := range m.episodes.items {
			if ep.Success {
				ok++
			}
		}
		stats.EpisodeSuccessRate = float64(ok) / float64(n)
	}
	return stats
}
