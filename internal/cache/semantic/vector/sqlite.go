package vector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

const createSQLiteTable = `
CREATE TABLE IF NOT EXISTS question_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	embedding TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore is a single-file Store for single-node deployments.
// Embeddings are stored as JSON arrays and compared in Go.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, dimension int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite vector store requires a path")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite vector store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createSQLiteTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite vector store: %w", err)
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &SQLiteStore{db: db, dimension: dimension}, nil
}

// Nearest implements Store.
func (s *SQLiteStore) Nearest(ctx context.Context, embedding []float32) (*Match, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dimension)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, answer, embedding, created_at, hit_count FROM question_cache ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("scan question_cache: %w", err)
	}
	defer rows.Close()

	var best *Match
	for rows.Next() {
		var (
			e       Entry
			raw     string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer, &raw, &created, &e.HitCount); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for id %d: %w", e.ID, err)
		}
		sim, err := CosineSimilarity(embedding, e.Embedding)
		if err != nil {
			return nil, fmt.Errorf("compare id %d: %w", e.ID, err)
		}
		if best == nil || sim > best.Similarity {
			e.CreatedAt = time.Unix(0, created).UTC()
			best = &Match{Entry: e, Similarity: sim}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question_cache: %w", err)
	}
	return best, nil
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, entry Entry) (int64, error) {
	if len(entry.Embedding) != s.dimension {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(entry.Embedding), s.dimension)
	}
	raw, err := json.Marshal(entry.Embedding)
	if err != nil {
		return 0, fmt.Errorf("encode embedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO question_cache (question, answer, embedding, created_at) VALUES (?, ?, ?, ?)`,
		entry.Question, entry.Answer, string(raw), time.Now().UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert cache entry: %w", err)
	}
	return res.LastInsertId()
}

// IncrementHits implements Store.
func (s *SQLiteStore) IncrementHits(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE question_cache SET hit_count = hit_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment hit count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment hit count: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// Aggregate implements Store.
func (s *SQLiteStore) Aggregate(ctx context.Context) (Aggregate, error) {
	var agg Aggregate
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0), COALESCE(AVG(hit_count), 0.0) FROM question_cache`).
		Scan(&agg.TotalCached, &agg.TotalHits, &agg.AvgHitsPerEntry)
	if err != nil {
		return Aggregate{}, fmt.Errorf("aggregate cache stats: %w", err)
	}
	return agg, nil
}

// Count implements Pruner.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM question_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}

// DeleteLowestValue implements Pruner.
func (s *SQLiteStore) DeleteLowestValue(ctx context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM question_cache WHERE id IN (
	SELECT id FROM question_cache ORDER BY hit_count ASC, created_at ASC, id ASC LIMIT ?
)`, n)
	if err != nil {
		return 0, fmt.Errorf("prune cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Pruner = (*SQLiteStore)(nil)
)
