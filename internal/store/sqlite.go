package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/keywords"
)

const (
	sqliteSchema = `CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_key TEXT NOT NULL UNIQUE,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT '',
		provenance TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	sqliteUpsert = `INSERT INTO answers (question_key, question, answer, keywords, provenance, confidence, usage_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(question_key) DO UPDATE SET
			question = excluded.question,
			answer = excluded.answer,
			keywords = excluded.keywords,
			provenance = excluded.provenance,
			confidence = excluded.confidence,
			usage_count = answers.usage_count + 1,
			updated_at = excluded.updated_at`
	sqliteMarkUsed   = `UPDATE answers SET usage_count = usage_count + 1, updated_at = ? WHERE question_key = ?`
	sqliteSelectCols = `SELECT id, question, answer, keywords, provenance, confidence, usage_count, created_at, updated_at FROM answers`
)

// SQLiteStore is the default, single-user Repository.
type SQLiteStore struct {
	db        *sql.DB
	log       *zap.Logger
	tagLength int
	now       func() time.Time
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string, tagLength int, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps writers serialized.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite init %q: %w", firstLine(stmt), err)
		}
	}
	return &SQLiteStore{
		db:        db,
		log:       logger.Named("store"),
		tagLength: tagLength,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, a Answer) error {
	now := s.now().UnixNano()
	_, err := s.db.ExecContext(ctx, sqliteUpsert,
		questionKey(a.Question), a.Question, a.Answer,
		keywords.Tag(a.Question, s.tagLength),
		string(a.Provenance), a.Confidence, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}
	s.log.Debug("Saved answer", zap.String("question", a.Question), zap.String("provenance", string(a.Provenance)))
	return nil
}

func (s *SQLiteStore) MarkUsed(ctx context.Context, question string) error {
	res, err := s.db.ExecContext(ctx, sqliteMarkUsed, s.now().UnixNano(), questionKey(question))
	if err != nil {
		return fmt.Errorf("failed to update usage: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, question)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, question string) (*Answer, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectCols+` WHERE question_key = ?`, questionKey(question))
	a, err := scanSQLiteAnswer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, question)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query answer: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) FindSimilar(ctx context.Context, question string, threshold float64) (*Match, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectCols)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	defer rows.Close()

	var candidates []Answer
	for rows.Next() {
		a, err := scanSQLiteAnswer(rows)
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

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// scanSQLiteAnswer decodes a row; timestamps are stored as unix nanoseconds.
func scanSQLiteAnswer(row rowScanner) (*Answer, error) {
	var a Answer
	var provenance string
	var created, updated int64
	if err := row.Scan(&a.ID, &a.Question, &a.Answer, &a.Keywords, &provenance,
		&a.Confidence, &a.UsageCount, &created, &updated); err != nil {
		return nil, err
	}
	a.Provenance = schemas.Provenance(provenance)
	a.CreatedAt = time.Unix(0, created).UTC()
	a.UpdatedAt = time.Unix(0, updated).UTC()
	return &a, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
