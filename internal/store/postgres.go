package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/keywords"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	pgSchema = `
        CREATE TABLE IF NOT EXISTS answers (
            id BIGSERIAL PRIMARY KEY,
            question_key TEXT NOT NULL UNIQUE,
            question TEXT NOT NULL,
            answer TEXT NOT NULL,
            keywords TEXT NOT NULL DEFAULT '',
            provenance TEXT NOT NULL,
            confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
            usage_count INTEGER NOT NULL DEFAULT 1,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );
    `
	pgUpsert = `
        INSERT INTO answers (question_key, question, answer, keywords, provenance, confidence, usage_count, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
        ON CONFLICT (question_key) DO UPDATE SET
            question = EXCLUDED.question,
            answer = EXCLUDED.answer,
            keywords = EXCLUDED.keywords,
            provenance = EXCLUDED.provenance,
            confidence = EXCLUDED.confidence,
            usage_count = answers.usage_count + 1,
            updated_at = EXCLUDED.updated_at;
    `
	pgMarkUsed = `
        UPDATE answers SET usage_count = usage_count + 1, updated_at = $2
        WHERE question_key = $1;
    `
	pgSelectAll = `
        SELECT id, question, answer, keywords, provenance, confidence, usage_count, created_at, updated_at
        FROM answers;
    `
	pgSelectOne = `
        SELECT id, question, answer, keywords, provenance, confidence, usage_count, created_at, updated_at
        FROM answers
        WHERE question_key = $1;
    `
)

// PostgresStore is the Repository for a shared PostgreSQL database.
type PostgresStore struct {
	pool      DBPool
	log       *zap.Logger
	tagLength int
	now       func() time.Time
}

var _ Repository = (*PostgresStore)(nil)

// NewPostgresStore verifies the connection and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool DBPool, tagLength int, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("failed to create answers table: %w", err)
	}
	return &PostgresStore{
		pool:      pool,
		log:       logger.Named("store"),
		tagLength: tagLength,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *PostgresStore) Save(ctx context.Context, a Answer) error {
	_, err := s.pool.Exec(ctx, pgUpsert,
		questionKey(a.Question), a.Question, a.Answer,
		keywords.Tag(a.Question, s.tagLength),
		string(a.Provenance), a.Confidence, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}
	s.log.Debug("Saved answer", zap.String("question", a.Question), zap.String("provenance", string(a.Provenance)))
	return nil
}

func (s *PostgresStore) MarkUsed(ctx context.Context, question string) error {
	tag, err := s.pool.Exec(ctx, pgMarkUsed, questionKey(question), s.now())
	if err != nil {
		return fmt.Errorf("failed to update usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, question)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, question string) (*Answer, error) {
	a, err := scanAnswer(s.pool.QueryRow(ctx, pgSelectOne, questionKey(question)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, question)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query answer: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) FindSimilar(ctx context.Context, question string, threshold float64) (*Match, error) {
	rows, err := s.pool.Query(ctx, pgSelectAll)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	defer rows.Close()

	var candidates []Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan answer row: %w", err)
		}
		candidates = append(candidates, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return bestMatch(question, candidates, threshold), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnswer(row rowScanner) (*Answer, error) {
	var a Answer
	var provenance string
	if err := row.Scan(&a.ID, &a.Question, &a.Answer, &a.Keywords, &provenance,
		&a.Confidence, &a.UsageCount, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Provenance = schemas.Provenance(provenance)
	return &a, nil
}
