package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DefaultDimension is the output size of text-embedding-ada-002.
const DefaultDimension = 1536

const (
	pgNearestQuery = `SELECT id, question, answer, created_at, hit_count,
	1 - (embedding <=> $1::vector) AS similarity
FROM question_cache
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1::vector
LIMIT 1`

	pgInsertQuery = `INSERT INTO question_cache (question, answer, embedding)
VALUES ($1, $2, $3::vector)
RETURNING id, created_at`

	pgIncrementQuery = `UPDATE question_cache SET hit_count = hit_count + 1 WHERE id = $1`

	pgAggregateQuery = `SELECT COUNT(*) AS total_cached,
	COALESCE(SUM(hit_count), 0) AS total_hits,
	COALESCE(AVG(hit_count), 0)::float8 AS avg_hits
FROM question_cache`

	pgCountQuery = `SELECT COUNT(*) FROM question_cache`

	pgPruneQuery = `DELETE FROM question_cache WHERE id IN (
	SELECT id FROM question_cache ORDER BY hit_count ASC, created_at ASC, id ASC LIMIT $1
)`
)

// PostgresStore implements Store on PostgreSQL with the pgvector extension.
// The *sqlx.DB is owned by the caller and shared with other stores.
type PostgresStore struct {
	db        *sqlx.DB
	dimension int
}

// NewPostgresStore creates a pgvector-backed store on an existing connection pool.
func NewPostgresStore(db *sqlx.DB, dimension int) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres vector store requires a database handle")
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &PostgresStore{db: db, dimension: dimension}, nil
}

// EnsureSchema creates the pgvector extension, the question_cache table and its
// ivfflat cosine index when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS question_cache (
	id SERIAL PRIMARY KEY,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	embedding vector(%d),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	hit_count INTEGER DEFAULT 0
)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_question_cache_embedding ON question_cache
	USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure question_cache schema: %w", err)
		}
	}
	return nil
}

type pgNearestRow struct {
	ID         int64     `db:"id"`
	Question   string    `db:"question"`
	Answer     string    `db:"answer"`
	CreatedAt  time.Time `db:"created_at"`
	HitCount   int64     `db:"hit_count"`
	Similarity float64   `db:"similarity"`
}

// Nearest implements Store.
func (s *PostgresStore) Nearest(ctx context.Context, embedding []float32) (*Match, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dimension)
	}

	var row pgNearestRow
	err := s.db.GetContext(ctx, &row, pgNearestQuery, FormatVector(embedding))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor query: %w", err)
	}

	return &Match{
		Entry: Entry{
			ID:        row.ID,
			Question:  row.Question,
			Answer:    row.Answer,
			CreatedAt: row.CreatedAt,
			HitCount:  row.HitCount,
		},
		Similarity: row.Similarity,
	}, nil
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, entry Entry) (int64, error) {
	if len(entry.Embedding) != s.dimension {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(entry.Embedding), s.dimension)
	}

	var (
		id        int64
		createdAt time.Time
	)
	err := s.db.QueryRowxContext(ctx, pgInsertQuery, entry.Question, entry.Answer, FormatVector(entry.Embedding)).
		Scan(&id, &createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert cache entry: %w", err)
	}
	return id, nil
}

// IncrementHits implements Store.
func (s *PostgresStore) IncrementHits(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, pgIncrementQuery, id)
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
func (s *PostgresStore) Aggregate(ctx context.Context) (Aggregate, error) {
	var row struct {
		TotalCached int64   `db:"total_cached"`
		TotalHits   int64   `db:"total_hits"`
		AvgHits     float64 `db:"avg_hits"`
	}
	if err := s.db.GetContext(ctx, &row, pgAggregateQuery); err != nil {
		return Aggregate{}, fmt.Errorf("aggregate cache stats: %w", err)
	}
	return Aggregate{
		TotalCached:     row.TotalCached,
		TotalHits:       row.TotalHits,
		AvgHitsPerEntry: row.AvgHits,
	}, nil
}

// Count implements Pruner.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, pgCountQuery); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}

// DeleteLowestValue implements Pruner.
func (s *PostgresStore) DeleteLowestValue(ctx context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, pgPruneQuery, n)
	if err != nil {
		return 0, fmt.Errorf("prune cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op: the connection pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Pruner = (*PostgresStore)(nil)
)
