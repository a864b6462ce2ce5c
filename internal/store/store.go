// Package store persists reusable answers and finds previously answered
// questions by keyword similarity.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/config"
	"github.com/xkilldash9x/waypoint/internal/keywords"
)

// ErrNotFound is returned when no answer exists for a question.
var ErrNotFound = errors.New("answer not found")

// Answer is one persisted question/answer pair.
type Answer struct {
	ID         int64
	Question   string
	Answer     string
	Keywords   string
	Provenance schemas.Provenance
	Confidence float64
	UsageCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Match is a stored answer together with its similarity to the query.
type Match struct {
	Answer Answer
	Score  float64
}

// Repository is the reuse store contract.
type Repository interface {
	// FindSimilar returns the best stored answer scoring at least threshold, or nil.
	FindSimilar(ctx context.Context, question string, threshold float64) (*Match, error)
	// Save upserts by question. Saving an existing question replaces the answer
	// and increments its usage count.
	Save(ctx context.Context, a Answer) error
	// MarkUsed increments the usage count of an existing question.
	MarkUsed(ctx context.Context, question string) error
	// Get returns the answer stored for question.
	Get(ctx context.Context, question string) (*Answer, error)
	Close() error
}

// questionKey is the uniqueness key for a question: lowercased with
// whitespace collapsed.
func questionKey(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

// bestMatch scores candidates against question by keyword Jaccard similarity.
func bestMatch(question string, candidates []Answer, threshold float64) *Match {
	query := keywords.Tokenize(question)
	if len(query) == 0 {
		return nil
	}
	var matches []Match
	for _, c := range candidates {
		score := keywords.Jaccard(query, keywords.Tokenize(c.Question))
		if score > 0 && score >= threshold {
			matches = append(matches, Match{Answer: c, Score: score})
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Answer.UsageCount > matches[j].Answer.UsageCount
	})
	return &matches[0]
}

// Open constructs the repository selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, tagLength int, logger *zap.Logger) (Repository, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath, tagLength, logger)
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		s, err := NewPostgresStore(ctx, pool, tagLength, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
