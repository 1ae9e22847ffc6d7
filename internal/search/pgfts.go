package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries active listings with plainto_tsquery and ts_rank when text is
// present, and plain filter browsing ordered by listed_at when it is not. Both
// paths apply the same predicate descriptors.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := []string{"l.status = 'active'"}
	var args []any
	hasText := strings.TrimSpace(q.Text) != ""
	if hasText {
		args = append(args, q.Text)
		where = append(where, fmt.Sprintf("l.fts @@ plainto_tsquery('english', $%d)", len(args)))
	}
	for _, pred := range q.Filters {
		if !pred.Valid() {
			continue
		}
		args = append(args, pred.Value)
		where = append(where, pred.SQLClause(len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	countSQL := fmt.Sprintf("SELECT count(*) FROM listings l WHERE %s", whereSQL)

	rankCol := "0"
	orderBy := "l.listed_at DESC NULLS LAST"
	snippetCol := "left(coalesce(l.description, ''), 160)"
	if hasText {
		rankCol = "ts_rank(l.fts, plainto_tsquery('english', $1))"
		orderBy = "rank DESC"
		snippetCol = "ts_headline('english', coalesce(l.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30')"
	}

	dataSQL := fmt.Sprintf(`
		SELECT l.id, l.address_line1, l.city, l.state, l.zip, l.price_cents, l.beds, l.baths,
			%s AS snippet, %s AS rank
		FROM listings l
		WHERE %s
		ORDER BY %s
		LIMIT %d OFFSET %d`, snippetCol, rankCol, whereSQL, orderBy, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.ID, &r.Address, &r.City, &r.State, &r.Zip, &r.PriceCents, &r.Beds, &r.Baths, &r.Snippet, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadActiveListings returns all active listings for full reindexing.
func (p *PgFTS) LoadActiveListings(ctx context.Context) ([]ListingRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, address_line1, city, state, zip, coalesce(description, ''), price_cents, beds, baths, sqft, status
		FROM listings
		WHERE status = 'active'
	`)
	if err != nil {
		return nil, fmt.Errorf("load listings: %w", err)
	}
	defer rows.Close()

	var records []ListingRecord
	for rows.Next() {
		var r ListingRecord
		if err := rows.Scan(&r.ID, &r.Address, &r.City, &r.State, &r.Zip, &r.Description, &r.PriceCents, &r.Beds, &r.Baths, &r.Sqft, &r.Status); err != nil {
			return nil, fmt.Errorf("scan listing record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
