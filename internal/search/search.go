// Package search provides org-scoped full-text search over posts, products
// and tickets. Meilisearch serves queries while healthy and Postgres
// full-text search takes over otherwise.
package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPost    ResultType = "post"
	ResultProduct ResultType = "product"
	ResultTicket  ResultType = "ticket"
)

func ParseResultType(s string) (ResultType, bool) {
	switch ResultType(s) {
	case "":
		return "", true
	case ResultPost, ResultProduct, ResultTicket:
		return ResultType(s), true
	}
	return "", false
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	Slug       string     `json:"slug,omitempty"`
	Status     string     `json:"status,omitempty"`
	CustomerID string     `json:"-"`
}

// Viewer decides which rows a query may return.
type Viewer struct {
	ProfileID string
	Staff     bool
}

// Anonymous reports whether the viewer is not signed in.
func (v Viewer) Anonymous() bool {
	return v.ProfileID == ""
}

// Query describes a search request. OrgID is mandatory.
type Query struct {
	OrgID      string
	Text       string
	FilterType ResultType // empty = all types
	Viewer     Viewer
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}

func (q Query) includes(t ResultType) bool {
	if q.FilterType != "" && q.FilterType != t {
		return false
	}
	if t == ResultTicket && q.Viewer.Anonymous() {
		return false
	}
	return true
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	Healthy() bool
	IndexPosts(posts []PostRecord) error
	IndexProducts(products []ProductRecord) error
	IndexTickets(tickets []TicketRecord) error
	Delete(t ResultType, id string) error
}

type PostRecord struct {
	ID      string   `json:"id"`
	OrgID   string   `json:"orgId"`
	Slug    string   `json:"slug"`
	Title   string   `json:"title"`
	Excerpt string   `json:"excerpt"`
	Body    string   `json:"body"`
	Status  string   `json:"status"`
	Tags    []string `json:"tags"`
}

type ProductRecord struct {
	ID          string `json:"id"`
	OrgID       string `json:"orgId"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

type TicketRecord struct {
	ID         string `json:"id"`
	OrgID      string `json:"orgId"`
	Number     int64  `json:"number"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Status     string `json:"status"`
	CustomerID string `json:"customerId"`
}
