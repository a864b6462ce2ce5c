package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/config"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig(dir string) config.MemoryConfig {
	return config.MemoryConfig{
		Dir:                   dir,
		ShortTermCapacity:     3,
		ActionLogSize:         4,
		FlushEvery:            3,
		EpisodeCapacity:       100,
		SelectorCapacity:      50,
		SelectorValidity:      7 * 24 * time.Hour,
		LookupMinAttempts:     3,
		LookupMinSuccessRate:  0.5,
		FailureMinAttempts:    5,
		FailureMinSuccessRate: 0.3,
	}
}

func newTestManager(t *testing.T, cfg config.MemoryConfig) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager(cfg, zaptest.NewLogger(t), WithClock(clock.now))
	require.NoError(t, err)
	return m, clock
}

var loc = schemas.Locator{X: 50, Y: 20}

func TestLookupSelector_EvictsUnreliableEntries(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t.TempDir()))

	require.NoError(t, m.RecordSuccess("submit button", loc))
	require.NoError(t, m.RecordFailure("submit button"))
	require.NoError(t, m.RecordFailure("submit button"))

	_, ok := m.LookupSelector("submit button")
	assert.False(t, ok, "3 attempts at 1/3 success must not be returned")
	assert.NotContains(t, m.selectors, "submit button", "the entry is evicted, not just hidden")
}

func TestLookupSelector_KeepsEntriesAtThreshold(t *testing.T) {
	m, clock := newTestManager(t, testConfig(t.TempDir()))

	require.NoError(t, m.RecordSuccess("search box", loc))
	require.NoError(t, m.RecordSuccess("search box", loc))
	require.NoError(t, m.RecordFailure("search box"))
	require.NoError(t, m.RecordFailure("search box"))

	clock.advance(time.Minute)
	got, ok := m.LookupSelector("search box")
	require.True(t, ok, "a 0.5 success rate is not below the threshold")
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 2, got.FailureCount)
	assert.Equal(t, clock.t, got.LastUsed, "lookup refreshes LastUsed")
}

func TestLookupSelector_EvictsStaleEntries(t *testing.T) {
	m, clock := newTestManager(t, testConfig(t.TempDir()))
	require.NoError(t, m.RecordSuccess("login link", loc))

	clock.advance(7*24*time.Hour - time.Second)
	_, ok := m.LookupSelector("login link")
	require.True(t, ok)

	clock.advance(2 * time.Second)
	_, ok = m.LookupSelector("login link")
	assert.False(t, ok)
	assert.Empty(t, m.selectors)
}

func TestRecordFailure_EvictsFailingEntries(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t.TempDir()))
	require.NoError(t, m.RecordSuccess("next page", loc))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordFailure("next page"))
		assert.Contains(t, m.selectors, "next page", "fewer than 5 attempts keeps the entry after failure %d", i+1)
	}
	require.NoError(t, m.RecordFailure("next page"))
	assert.NotContains(t, m.selectors, "next page", "5 attempts at 0.2 success is evicted by the failure report")
}

func TestRecordFailure_UnknownDescriptionIsIgnored(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t.TempDir()))
	require.NoError(t, m.RecordFailure("never seen"))
	assert.Empty(t, m.selectors)
}

func TestRecordSuccess_CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.SelectorCapacity = 2
	m, clock := newTestManager(t, cfg)

	require.NoError(t, m.RecordSuccess("a", loc))
	clock.advance(time.Second)
	require.NoError(t, m.RecordSuccess("b", loc))
	clock.advance(time.Second)
	_, ok := m.LookupSelector("a")
	require.True(t, ok)
	clock.advance(time.Second)
	require.NoError(t, m.RecordSuccess("c", loc))

	assert.Len(t, m.selectors, 2)
	assert.Contains(t, m.selectors, "a")
	assert.Contains(t, m.selectors, "c")
}

func TestSelectorCache_FlushesEveryNthWrite(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestManager(t, testConfig(dir))
	path := filepath.Join(dir, selectorsFile)

	require.NoError(t, m.RecordSuccess("a", loc))
	require.NoError(t, m.RecordSuccess("b", loc))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no flush before the third write")

	require.NoError(t, m.RecordFailure("a"))
	_, err = os.Stat(path)
	assert.NoError(t, err, "third write triggers a flush")
}

func TestEpisodes_RingBuffer(t *testing.T) {
	m, clock := newTestManager(t, testConfig(t.TempDir()))

	for i := 1; i <= 101; i++ {
		clock.advance(time.Second)
		require.NoError(t, m.AppendEpisode(schemas.Episode{ID: fmt.Sprintf("ep-%d", i), Task: "task"}))
	}

	eps := m.Episodes()
	require.Len(t, eps, 100)
	assert.Equal(t, "ep-2", eps[0].ID, "the 101st append evicts episode #1")
	assert.Equal(t, "ep-101", eps[99].ID)
}

func TestAppendEpisode_FillsDefaults(t *testing.T) {
	m, clock := newTestManager(t, testConfig(t.TempDir()))
	require.NoError(t, m.AppendEpisode(schemas.Episode{Task: "x"}))

	eps := m.Episodes()
	require.Len(t, eps, 1)
	assert.NotEmpty(t, eps[0].ID)
	assert.Equal(t, clock.t, eps[0].Timestamp)
}

func TestShortTerm_FIFO(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t.TempDir()))

	for i := 0; i < 5; i++ {
		m.Remember(schemas.MemoryEntry{
			Observation: schemas.Observation{Title: fmt.Sprintf("page-%d", i)},
			Action:      &schemas.NextAction{Tool: "click"},
			Result:      &schemas.ToolResult{Success: i%2 == 0},
		})
		assert.LessOrEqual(t, len(m.ShortTerm()), 3)
	}

	st := m.ShortTerm()
	require.Len(t, st, 3)
	assert.Equal(t, "page-2", st[0].Observation.Title)
	assert.Equal(t, "page-4", st[2].Observation.Title)

	recent := m.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "page-3", recent[0].Observation.Title)

	assert.Len(t, m.ActionLog(), 4, "action log is bounded separately")

	m.ResetShortTerm()
	assert.Empty(t, m.ShortTerm())
	assert.Len(t, m.ActionLog(), 4, "resetting the buffer keeps the action log")
}

func TestRemember_NoActionSkipsActionLog(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t.TempDir()))
	m.Remember(schemas.MemoryEntry{})
	assert.Len(t, m.ShortTerm(), 1)
	assert.Empty(t, m.ActionLog())
}

func TestSimilarEpisodes(t *testing.T) {
	m, clock := newTestManager(t, testConfig(t.TempDir()))
	for _, task := range []string{
		"apply to golang backend job",
		"book a flight to Lisbon",
		"apply to senior golang backend job at Acme",
	} {
		clock.advance(time.Second)
		require.NoError(t, m.AppendEpisode(schemas.Episode{Task: task, Success: true}))
	}

	got := m.SimilarEpisodes("apply for a golang backend role", 0)
	require.Len(t, got, 2, "zero-overlap episodes are filtered")
	// Both share apply/golang/backend; the newer one wins the tie.
	assert.Equal(t, "apply to senior golang backend job at Acme", got[0].Task)

	assert.Len(t, m.SimilarEpisodes("apply for a golang backend role", 1), 1)
	assert.Empty(t, m.SimilarEpisodes("the", 0))
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t, testConfig(t.TempDir()))
	require.NoError(t, m.RecordSuccess("a", loc))
	require.NoError(t, m.RecordSuccess("b", loc))
	require.NoError(t, m.RecordFailure("b"))
	require.NoError(t, m.AppendEpisode(schemas.Episode{Task: "t1", Success: true}))
	require.NoError(t, m.AppendEpisode(schemas.Episode{Task: "t2", Success: false}))
	m.Remember(schemas.MemoryEntry{})

	stats := m.Stats()
	assert.Equal(t, 2, stats.SelectorCount)
	assert.InDelta(t, 0.75, stats.MeanSelectorSuccessRate, 1e-9)
	assert.Equal(t, 2, stats.EpisodeCount)
	assert.InDelta(t, 0.5, stats.EpisodeSuccessRate, 1e-9)
	assert.Equal(t, 1, stats.ShortTermSize)
}

func TestPersistence_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	m, clock := newTestManager(t, cfg)

	require.NoError(t, m.RecordSuccess("apply button", schemas.Locator{X: 12.5, Y: 88, Selector: "#apply"}))
	clock.advance(time.Hour)
	require.NoError(t, m.RecordSuccess("email field", schemas.Locator{X: 40, Y: 30}))
	require.NoError(t, m.RecordFailure("email field"))
	require.NoError(t, m.Flush())

	require.NoError(t, m.AppendEpisode(schemas.Episode{
		Task:      "fill the application",
		Success:   true,
		Approach:  "completed in 7 iterations",
		Duration:  95 * time.Second,
		Learnings: []string{"email field needs a click first"},
	}))
	require.NoError(t, m.AppendEpisode(schemas.Episode{Task: "second", Duration: time.Millisecond}))

	reloaded, err := NewManager(cfg, zaptest.NewLogger(t), WithClock(clock.now))
	require.NoError(t, err)

	sortSel := func(in map[string]*schemas.CachedSelector) []schemas.CachedSelector {
		out := make([]schemas.CachedSelector, 0, len(in))
		for _, s := range in {
			out = append(out, *s)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Description < out[j].Description })
		return out
	}

	if diff := cmp.Diff(sortSel(m.selectors), sortSel(reloaded.selectors)); diff != "" {
		t.Errorf("selector cache mismatch after reload (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(m.Episodes(), reloaded.Episodes()); diff != "" {
		t.Errorf("episode log mismatch after reload (-want +got):\n%s", diff)
	}
}

func TestNewManager_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, episodesFile), []byte("{not json"), 0o644))

	_, err := NewManager(testConfig(dir), zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "failed to load episode log")
}

func TestBoundedFIFO(t *testing.T) {
	b := newBoundedFIFO[int](2)
	assert.Equal(t, 0, b.push(1))
	assert.Equal(t, 0, b.push(2))
	assert.Equal(t, 1, b.push(3))
	assert.Equal(t, []int{2, 3}, b.snapshot())
	assert.Equal(t, []int{3}, b.last(1))
	assert.Equal(t, []int{2, 3}, b.last(10))
	assert.Nil(t, b.last(0))

	b.replace([]int{7, 8, 9})
	assert.Equal(t, []int{8, 9}, b.snapshot())
}
