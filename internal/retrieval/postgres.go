package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

const productColumns = `id::text, title, COALESCE(brand, ''), COALESCE(description, ''),
       COALESCE(categories, ''), price, COALESCE(currency, '')`

// PostgresSource reads candidates from a products table with a pgvector
// embedding column and a tsvector column.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource opens a connection to the product database.
func NewPostgresSource(dsn string) (*PostgresSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open product database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping product database: %w", err)
	}
	slog.Debug("PostgresSource connected")
	return &PostgresSource{db: db}, nil
}

// NewPostgresSourceWithDB wraps an existing connection.
func NewPostgresSourceWithDB(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Close closes the database connection.
func (s *PostgresSource) Close() error {
	return s.db.Close()
}

// Candidates runs the dense and sparse queries and unions their rows.
func (s *PostgresSource) Candidates(ctx context.Context, q Query, denseK, sparseK int) ([]ScoredCandidate, error) {
	byID := make(map[string]*ScoredCandidate)
	var order []string

	add := func(p models.Product, score float64, dense bool) {
		c, ok := byID[p.ID]
		if !ok {
			c = &ScoredCandidate{Product: p}
			byID[p.ID] = c
			order = append(order, p.ID)
		}
		if dense {
			c.Dense, c.HasDense = score, true
		} else {
			c.Sparse, c.HasSparse = score, true
		}
	}

	if len(q.Embedding) > 0 && denseK > 0 {
		query, args := denseQuery(q, denseK)
		if err := s.scan(ctx, query, args, func(p models.Product, score float64) { add(p, score, true) }); err != nil {
			return nil, fmt.Errorf("dense search failed: %w", err)
		}
	}
	if strings.TrimSpace(q.Text) != "" && sparseK > 0 {
		query, args := sparseQuery(q, sparseK)
		if err := s.scan(ctx, query, args, func(p models.Product, score float64) { add(p, score, false) }); err != nil {
			return nil, fmt.Errorf("sparse search failed: %w", err)
		}
	}

	out := make([]ScoredCandidate, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (s *PostgresSource) scan(ctx context.Context, query string, args []any, fn func(models.Product, float64)) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p          models.Product
			categories string
			price      sql.NullFloat64
			score      float64
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Brand, &p.Description, &categories, &price, &p.Currency, &score); err != nil {
			return err
		}
		p.Categories = ParseCategories(categories)
		if price.Valid {
			v := price.Float64
			p.Price = &v
		}
		fn(p, score)
	}
	return rows.Err()
}

func denseQuery(q Query, limit int) (string, []any) {
	args := []any{pgvector.NewVector(q.Embedding)}
	where, args := filterClause(q.Filters, args)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s, 1 - (embedding <=> $1) AS score
FROM products
WHERE embedding IS NOT NULL%s
ORDER BY embedding <=> $1
LIMIT $%d`, productColumns, where, len(args))
	return query, args
}

func sparseQuery(q Query, limit int) (string, []any) {
	args := []any{q.Text}
	where, args := filterClause(q.Filters, args)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s, ts_rank_cd(tsv, plainto_tsquery('english', $1)) AS score
FROM products
WHERE tsv IS NOT NULL AND plainto_tsquery('english', $1) @@ tsv%s
ORDER BY score DESC
LIMIT $%d`, productColumns, where, len(args))
	return query, args
}

// filterClause renders the filter predicates, numbering placeholders after
// the arguments already bound.
func filterClause(f Filters, args []any) (string, []any) {
	var b strings.Builder
	add := func(expr string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, " AND "+expr, len(args))
	}
	if f.PriceMin != nil {
		add("price >= $%d", *f.PriceMin)
	}
	if f.PriceMax != nil {
		add("price <= $%d", *f.PriceMax)
	}
	if f.Currency != "" {
		add("currency = $%d", f.Currency)
	}
	if f.Brand != "" {
		add("brand ILIKE $%d", "%"+f.Brand+"%")
	}
	if f.Category != "" {
		add("categories ILIKE $%d", "%"+f.Category+"%")
	}
	return b.String(), args
}
