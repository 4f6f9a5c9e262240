package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const headlineOpts = `'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>'`

// Search runs one UNION ALL over the visible tables, ranked with ts_rank.
// $1 is the query text and $2 the org id; $3 is the viewer profile id and is
// bound only when the ticket clause needs it.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('english', $1)"
	staff := q.Viewer.Staff
	subQueries := make([]string, 0, 3)
	args := []any{q.Text, q.OrgID}

	if q.includes(ResultPost) {
		where := "p.org_id = $2 AND p.fts @@ " + tsQuery
		if !staff {
			where += " AND p.status = 'published'"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, p.id, p.title AS title,
				ts_headline('english', p.excerpt || ' ' || p.plain_text, %[1]s, %[2]s) AS snippet,
				p.slug, p.status, ''::text AS customer_id,
				ts_rank(p.fts, %[1]s) AS rank
			FROM posts p
			WHERE %[3]s`, tsQuery, headlineOpts, where))
	}

	if q.includes(ResultProduct) {
		where := "pr.org_id = $2 AND pr.fts @@ " + tsQuery
		if !staff {
			where += " AND pr.active"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'product'::text AS type, pr.id, pr.name AS title,
				ts_headline('english', pr.description, %[1]s, %[2]s) AS snippet,
				pr.slug, CASE WHEN pr.active THEN 'active' ELSE 'inactive' END AS status, ''::text AS customer_id,
				ts_rank(pr.fts, %[1]s) AS rank
			FROM product pr
			WHERE %[3]s`, tsQuery, headlineOpts, where))
	}

	if q.includes(ResultTicket) {
		where := "t.org_id = $2 AND t.fts @@ " + tsQuery
		if !staff {
			where += " AND t.customer_id = $3"
			args = append(args, q.Viewer.ProfileID)
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'ticket'::text AS type, t.id, '#' || t.number || ' ' || t.subject AS title,
				ts_headline('english', t.body, %[1]s, %[2]s) AS snippet,
				''::text AS slug, t.status, t.customer_id,
				ts_rank(t.fts, %[1]s) AS rank
			FROM tickets t
			WHERE %[3]s`, tsQuery, headlineOpts, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, title, snippet, slug, status, customer_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, q.limit(), offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var (
			r   Result
			typ string
		)
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Slug, &r.Status, &r.CustomerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PostRecord, []ProductRecord, []TicketRecord, error) {
	postRows, err := p.db.QueryContext(ctx, `
		SELECT id, org_id, slug, title, excerpt, plain_text, status, tags::text
		FROM posts
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load posts: %w", err)
	}
	defer postRows.Close()

	posts := make([]PostRecord, 0)
	for postRows.Next() {
		var (
			r    PostRecord
			tags string
		)
		if err := postRows.Scan(&r.ID, &r.OrgID, &r.Slug, &r.Title, &r.Excerpt, &r.Body, &r.Status, &tags); err != nil {
			return nil, nil, nil, fmt.Errorf("scan post: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, nil, nil, fmt.Errorf("decode post tags: %w", err)
		}
		posts = append(posts, r)
	}
	if err := postRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate posts: %w", err)
	}

	productRows, err := p.db.QueryContext(ctx, `
		SELECT id, org_id, slug, name, description, active
		FROM product
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load products: %w", err)
	}
	defer productRows.Close()

	products := make([]ProductRecord, 0)
	for productRows.Next() {
		var r ProductRecord
		if err := productRows.Scan(&r.ID, &r.OrgID, &r.Slug, &r.Name, &r.Description, &r.Active); err != nil {
			return nil, nil, nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, r)
	}
	if err := productRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate products: %w", err)
	}

	ticketRows, err := p.db.QueryContext(ctx, `
		SELECT id, org_id, number, subject, body, status, customer_id
		FROM tickets
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load tickets: %w", err)
	}
	defer ticketRows.Close()

	tickets := make([]TicketRecord, 0)
	for ticketRows.Next() {
		var r TicketRecord
		if err := ticketRows.Scan(&r.ID, &r.OrgID, &r.Number, &r.Subject, &r.Body, &r.Status, &r.CustomerID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, r)
	}
	if err := ticketRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate tickets: %w", err)
	}

	return posts, products, tickets, nil
}
