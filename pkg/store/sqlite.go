// Package store хранит итоги прогонов агента в SQLite.
//
// Итог записывается один раз после завершения прогона и читается
// GET /api/v1/write/{article_id}.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound — записи с таким article_id нет.
var ErrNotFound = errors.New("record not found")

// Record — сохранённый итог прогона.
type Record struct {
	ArticleID     string
	TraceID       string
	Topic         string
	Status        string
	FinalSummary  string
	Error         string
	ArtifactPaths map[string]string
	Iterations    int
	Duration      time.Duration
	CreatedAt     time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS run_outcome (
    article_id     TEXT PRIMARY KEY,
    trace_id       TEXT NOT NULL DEFAULT '',
    topic          TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    final_summary  TEXT NOT NULL DEFAULT '',
    error          TEXT NOT NULL DEFAULT '',
    artifact_paths TEXT NOT NULL DEFAULT '{}',
    iterations     INTEGER NOT NULL DEFAULT 0,
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_outcome_created ON run_outcome (created_at);
`

// SQLiteStore — хранилище итогов на go-sqlite3.
type SQLiteStore struct {
	db *sql.DB
}

// Open открывает (и при необходимости создаёт) базу по пути path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema exec failed: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close закрывает соединение.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save записывает итог. Повторная запись того же article_id заменяет предыдущую.
func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	if r.ArticleID == "" {
		return fmt.Errorf("article_id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.ArtifactPaths == nil {
		r.ArtifactPaths = map[string]string{}
	}

	paths, err := json.Marshal(r.ArtifactPaths)
	if err != nil {
		return fmt.Errorf("marshal artifact paths: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO run_outcome
    (article_id, trace_id, topic, status, final_summary, error, artifact_paths, iterations, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ArticleID, r.TraceID, r.Topic, r.Status, r.FinalSummary, r.Error,
		string(paths), r.Iterations, r.Duration.Milliseconds(), r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save run outcome %s: %w", r.ArticleID, err)
	}
	return nil
}

const selectColumns = `article_id, trace_id, topic, status, final_summary, error, artifact_paths, iterations, duration_ms, created_at`

// Get возвращает итог по article_id или ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, articleID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM run_outcome WHERE article_id = ?`, articleID)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get run outcome %s: %w", articleID, err)
	}
	return r, nil
}

// List возвращает последние limit итогов, новые первыми.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM run_outcome ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list run outcomes: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run outcome: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r          Record
		paths      string
		durationMs int64
	)
	if err := sc.Scan(&r.ArticleID, &r.TraceID, &r.Topic, &r.Status, &r.FinalSummary, &r.Error,
		&paths, &r.Iterations, &durationMs, &r.CreatedAt); err != nil {
		return Record{}, err
	}
	r.Duration = time.Duration(durationMs) * time.Millisecond
	if err := json.Unmarshal([]byte(paths), &r.ArtifactPaths); err != nil {
		return Record{}, fmt.Errorf("unmarshal artifact paths: %w", err)
	}
	return r, nil
}
