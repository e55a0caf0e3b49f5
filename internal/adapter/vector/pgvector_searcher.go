// Package vector implements semantic retrieval over the incident knowledge
// base stored in Postgres with pgvector.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"incident-orchestrator/internal/domain"
)

// PGVectorSearcher encodes the query text and runs a cosine-distance KNN scan
// over the incident_chunks table. Extracted entity filters narrow the scan to
// matching hosts, services, or error codes.
type PGVectorSearcher struct {
	pool    *pgxpool.Pool
	encoder domain.VectorEncoder
	limit   int
	logger  *slog.Logger
}

// NewPGVectorSearcher builds a searcher returning at most limit chunks per
// query.
func NewPGVectorSearcher(pool *pgxpool.Pool, encoder domain.VectorEncoder, limit int, logger *slog.Logger) *PGVectorSearcher {
	if limit <= 0 {
		limit = 10
	}
	return &PGVectorSearcher{pool: pool, encoder: encoder, limit: limit, logger: logger}
}

func (s *PGVectorSearcher) Search(ctx context.Context, query string, filter *domain.SearchFilter) ([]domain.Document, error) {
	start := time.Now()

	vectors, err := s.encoder.Encode(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("encoder returned no vector for query")
	}

	sql, args := buildSearchQuery(pgv.NewVector(vectors[0]), filter, s.limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident chunks: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var (
			id       string
			title    string
			source   string
			content  string
			distance float64
		)
		if err := rows.Scan(&id, &title, &source, &content, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan incident chunk: %w", err)
		}
		docs = append(docs, domain.Document{
			Content: content,
			Metadata: map[string]any{
				"id":     id,
				"title":  title,
				"source": source,
				"score":  1.0 - distance,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	s.logger.Debug("vector_search_completed",
		slog.Int("hits", len(docs)),
		slog.Bool("filtered", filter != nil && !filter.Empty()),
		slog.Duration("elapsed", time.Since(start)))

	return docs, nil
}

// buildSearchQuery assembles the KNN statement with any entity filters as
// additional WHERE clauses. Placeholders are numbered after the embedding
// argument, which is always $1.
func buildSearchQuery(embedding pgv.Vector, filter *domain.SearchFilter, limit int) (string, []any) {
	sql := `
		SELECT id::text, COALESCE(title, ''), COALESCE(source, ''), content,
		       embedding <=> $1 AS distance
		FROM incident_chunks
	`
	args := []any{embedding}

	if filter != nil && !filter.Empty() {
		where := ""
		addClause := func(column, value string) {
			if value == "" {
				return
			}
			args = append(args, value)
			if where == "" {
				where = fmt.Sprintf("WHERE %s = $%d", column, len(args))
			} else {
				where += fmt.Sprintf(" AND %s = $%d", column, len(args))
			}
		}
		addClause("hostname", filter.Hostname)
		addClause("service", filter.Service)
		addClause("error_code", filter.ErrorCode)
		sql += where + "\n"
	}

	args = append(args, limit)
	sql += fmt.Sprintf("ORDER BY distance ASC\nLIMIT $%d", len(args))
	return sql, args
}

var _ domain.VectorSearcher = (*PGVectorSearcher)(nil)
