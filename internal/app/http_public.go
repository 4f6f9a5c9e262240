package app

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"storefront/api/internal/search"
)

func (s *HTTPServer) handlePublicOrg(w http.ResponseWriter, r *http.Request) {
	org, err := s.service.Org(r.Context(), mux.Vars(r)["org"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organization": map[string]any{"id": org.ID, "slug": org.Slug, "name": org.Name},
	})
}

func (s *HTTPServer) handlePublicProducts(w http.ResponseWriter, r *http.Request, orgID string) {
	items, err := s.service.Products(r.Context(), orgID, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": items})
}

func (s *HTTPServer) handlePublicProduct(w http.ResponseWriter, r *http.Request, orgID string) {
	item, err := s.service.Product(r.Context(), orgID, mux.Vars(r)["id"], false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": item})
}

func (s *HTTPServer) handlePublicPlans(w http.ResponseWriter, r *http.Request, orgID string) {
	items, err := s.service.Plans(r.Context(), orgID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": items})
}

func (s *HTTPServer) handlePublicComparison(w http.ResponseWriter, r *http.Request, orgID string) {
	table, err := s.service.Comparison(r.Context(), orgID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comparison": table})
}

func (s *HTTPServer) handlePublicPosts(w http.ResponseWriter, r *http.Request, orgID string) {
	items, err := s.service.Posts(r.Context(), orgID, false, PostFilterInput{
		Tag:    r.URL.Query().Get("tag"),
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": items})
}

func (s *HTTPServer) handlePublicPost(w http.ResponseWriter, r *http.Request, orgID string) {
	item, err := s.service.PublishedPost(r.Context(), orgID, mux.Vars(r)["slug"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": item})
}

func (s *HTTPServer) handlePublicCookieCategories(w http.ResponseWriter, r *http.Request, orgID string) {
	items, err := s.service.CookieCategories(r.Context(), orgID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": items})
}

func (s *HTTPServer) handlePublicSettings(w http.ResponseWriter, r *http.Request, orgID string) {
	settings, err := s.service.Settings(r.Context(), orgID, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *HTTPServer) handlePublicSearch(w http.ResponseWriter, r *http.Request, orgID string) {
	s.search(w, r, orgID, nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	s.search(w, r, session.OrgID, &session)
}

func (s *HTTPServer) search(w http.ResponseWriter, r *http.Request, orgID string, viewer *Session) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "QUERY_REQUIRED", "Query parameter q is required", nil)
		return
	}
	resultType, ok := search.ParseResultType(q.Get("type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_TYPE", "Unknown result type", map[string]any{"type": q.Get("type")})
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), orgID, viewer, text, resultType, queryInt(r, "limit", 20), queryInt(r, "offset", 0)))
}
