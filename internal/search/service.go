package search

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const indexTimeout = 15 * time.Second

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	index    Indexer
	fallback Searcher
	loader   RecordLoader
	log      zerolog.Logger
}

// RecordLoader reads every searchable row for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]PostRecord, []ProductRecord, []TicketRecord, error)
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, log zerolog.Logger) *Service {
	s := &Service{log: log.With().Str("component", "search").Logger()}
	if meili != nil {
		s.primary = meili
		s.index = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS. The
// org filter and ticket visibility are re-checked on every hit.
func (s *Service) Search(ctx context.Context, q Query) Response {
	empty := Response{Results: []Result{}, Total: 0, Query: q.Text}
	if q.OrgID == "" {
		return empty
	}

	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: visibleResults(results, q.Viewer), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return empty
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search failed")
		return empty
	}
	return Response{Results: visibleResults(results, q.Viewer), Total: total, Query: q.Text}
}

func (s *Service) indexing() bool {
	return s.index != nil && s.index.Healthy()
}

// async runs fn in the background; callers never wait for the index.
func (s *Service) async(what, id string, fn func() error) {
	if !s.indexing() {
		return
	}
	go func() {
		if err := fn(); err != nil {
			s.log.Warn().Err(err).Str("id", id).Msgf("search: %s", what)
		}
	}()
}

func (s *Service) IndexPost(p PostRecord) {
	s.async("index post", p.ID, func() error { return s.index.IndexPosts([]PostRecord{p}) })
}

func (s *Service) IndexProduct(p ProductRecord) {
	s.async("index product", p.ID, func() error { return s.index.IndexProducts([]ProductRecord{p}) })
}

func (s *Service) IndexTicket(t TicketRecord) {
	s.async("index ticket", t.ID, func() error { return s.index.IndexTickets([]TicketRecord{t}) })
}

func (s *Service) Remove(t ResultType, id string) {
	s.async("delete "+string(t), id, func() error { return s.index.Delete(t, id) })
}

// ReindexAll pushes every row from Postgres into Meilisearch. It is a no-op
// when Meilisearch is missing or unhealthy.
func (s *Service) ReindexAll(ctx context.Context) error {
	if !s.indexing() || s.loader == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*indexTimeout)
	defer cancel()

	posts, products, tickets, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	if err := s.index.IndexPosts(posts); err != nil {
		return err
	}
	if err := s.index.IndexProducts(products); err != nil {
		return err
	}
	if err := s.index.IndexTickets(tickets); err != nil {
		return err
	}
	s.log.Info().Int("posts", len(posts)).Int("products", len(products)).Int("tickets", len(tickets)).Msg("search reindex complete")
	return nil
}

func visibleResults(results []Result, viewer Viewer) []Result {
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Type == ResultTicket {
			if viewer.Anonymous() {
				continue
			}
			if !viewer.Staff && r.CustomerID != viewer.ProfileID {
				continue
			}
		}
		if !viewer.Staff {
			if r.Type == ResultPost && r.Status != "published" {
				continue
			}
			if r.Type == ResultProduct && r.Status != "active" {
				continue
			}
		}
		filtered = append(filtered, r)
	}
	return filtered
}
