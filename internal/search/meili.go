package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const (
	idxPosts    = "storefront_posts"
	idxProducts = "storefront_products"
	idxTickets  = "storefront_tickets"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     zerolog.Logger
}

// NewMeili creates a Meilisearch client and configures indexes. A failed
// first health check leaves it unhealthy; a background loop keeps probing.
func NewMeili(url, apiKey string, log zerolog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		log:    log.With().Str("component", "meilisearch").Logger(),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

type indexSpec struct {
	uid        string
	rtype      ResultType
	filterable []string
	searchable []string
}

var indexSpecs = []indexSpec{
	{uid: idxPosts, rtype: ResultPost, filterable: []string{"orgId", "status", "tags"}, searchable: []string{"title", "excerpt", "body", "tags"}},
	{uid: idxProducts, rtype: ResultProduct, filterable: []string{"orgId", "active"}, searchable: []string{"name", "description"}},
	{uid: idxTickets, rtype: ResultTicket, filterable: []string{"orgId", "status", "customerId"}, searchable: []string{"subject", "body"}},
}

func (m *Meili) configureIndexes() {
	for _, idx := range indexSpecs {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			m.log.Debug().Err(err).Str("index", idx.uid).Msg("create index (may already exist)")
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.log.Warn().Err(err).Str("index", idx.uid).Msg("update filterable attributes")
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			m.log.Warn().Err(err).Str("index", idx.uid).Msg("update searchable attributes")
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info().Msg("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the indexes the viewer may see and merges the hits.
func (m *Meili) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	queries := buildQueries(q)
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	results := make([]Result, 0)
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtype := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtype))
		}
	}
	return results, total, nil
}

func buildQueries(q Query) []*meili.SearchRequest {
	queries := make([]*meili.SearchRequest, 0, len(indexSpecs))
	for _, spec := range indexSpecs {
		if !q.includes(spec.rtype) {
			continue
		}
		filters := []string{"orgId = " + quoteFilter(q.OrgID)}
		if !q.Viewer.Staff {
			switch spec.rtype {
			case ResultPost:
				filters = append(filters, `status = "published"`)
			case ResultProduct:
				filters = append(filters, "active = true")
			case ResultTicket:
				filters = append(filters, "customerId = "+quoteFilter(q.Viewer.ProfileID))
			}
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              spec.uid,
			Query:                 q.Text,
			Limit:                 int64(q.limit()),
			Offset:                int64(q.Offset),
			Filter:                filters,
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		})
	}
	return queries
}

func quoteFilter(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

func indexToResultType(uid string) ResultType {
	for _, spec := range indexSpecs {
		if spec.uid == uid {
			return spec.rtype
		}
	}
	return ""
}

func hitToResult(hit meili.Hit, rtype ResultType) Result {
	r := Result{Type: rtype, ID: decodeString(hit, "id")}

	switch rtype {
	case ResultPost:
		r.Slug = decodeString(hit, "slug")
		r.Status = decodeString(hit, "status")
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "excerpt"), decodeString(hit, "excerpt"), truncate(decodeString(hit, "body"), 160))
	case ResultProduct:
		r.Slug = decodeString(hit, "slug")
		r.Status = "inactive"
		if decodeBool(hit, "active") {
			r.Status = "active"
		}
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultTicket:
		r.Status = decodeString(hit, "status")
		r.CustomerID = decodeString(hit, "customerId")
		subject := firstNonBlank(decodeFormattedString(hit, "subject"), decodeString(hit, "subject"))
		r.Title = "#" + strconv.FormatInt(decodeInt(hit, "number"), 10) + " " + subject
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "body"), truncate(decodeString(hit, "body"), 160))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	var b bool
	if raw, ok := hit[key]; ok {
		_ = json.Unmarshal(raw, &b)
	}
	return b
}

func decodeInt(hit meili.Hit, key string) int64 {
	var n int64
	if raw, ok := hit[key]; ok {
		_ = json.Unmarshal(raw, &n)
	}
	return n
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func (m *Meili) IndexPosts(posts []PostRecord) error {
	if len(posts) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPosts).AddDocuments(posts, nil)
	return err
}

func (m *Meili) IndexProducts(products []ProductRecord) error {
	if len(products) == 0 {
		return nil
	}
	_, err := m.client.Index(idxProducts).AddDocuments(products, nil)
	return err
}

func (m *Meili) IndexTickets(tickets []TicketRecord) error {
	if len(tickets) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTickets).AddDocuments(tickets, nil)
	return err
}

func (m *Meili) Delete(t ResultType, id string) error {
	for _, spec := range indexSpecs {
		if spec.rtype == t {
			_, err := m.client.Index(spec.uid).DeleteDocument(id, nil)
			return err
		}
	}
	return fmt.Errorf("unknown result type %q", t)
}
