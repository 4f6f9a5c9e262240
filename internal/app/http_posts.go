package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"storefront/api/internal/rbac"
)

// handlePosts lists posts for signed-in members. Editors may filter by any
// status; everyone else only sees published posts.
func (s *HTTPServer) handlePosts(w http.ResponseWriter, r *http.Request, session Session) {
	q := r.URL.Query()
	items, err := s.service.Posts(r.Context(), session.OrgID, s.service.Can(session.Role, rbac.ActionPublish), PostFilterInput{
		Status: q.Get("status"),
		Tag:    q.Get("tag"),
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": items})
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request, session Session) {
	item, err := s.service.Post(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": item})
}

func (s *HTTPServer) handleCreatePost(w http.ResponseWriter, r *http.Request, session Session) {
	var body PostInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.CreatePost(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"post": item})
}

func (s *HTTPServer) handleUpdatePost(w http.ResponseWriter, r *http.Request, session Session) {
	var body PostInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.UpdatePost(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": item})
}

func (s *HTTPServer) handleSetPostStatus(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Status string `json:"status" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.SetPostStatus(r.Context(), session, mux.Vars(r)["id"], body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": item})
}

func (s *HTTPServer) handleDeletePost(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeletePost(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handlePostRevisions(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.PostRevisions(r.Context(), session, mux.Vars(r)["id"], queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": items})
}

func (s *HTTPServer) handlePostRevision(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	item, err := s.service.PostRevision(r.Context(), session, vars["id"], vars["hash"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleRestorePostRevision(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	item, err := s.service.RestorePostRevision(r.Context(), session, vars["id"], vars["hash"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": item})
}
