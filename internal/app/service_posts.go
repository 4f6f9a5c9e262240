package app

import (
	"context"
	"encoding/json"
	"strings"

	"storefront/api/internal/content"
	"storefront/api/internal/revisions"
	"storefront/api/internal/search"
	"storefront/api/internal/store"
	"storefront/api/internal/util"
)

const (
	PostDraft     = "draft"
	PostPublished = "published"
	PostArchived  = "archived"

	excerptLength = 240
)

type PostInput struct {
	Title         string          `json:"title" validate:"required,max=300"`
	Slug          string          `json:"slug" validate:"omitempty,max=200"`
	Excerpt       string          `json:"excerpt" validate:"max=1000"`
	Content       json.RawMessage `json:"content"`
	CoverImageURL string          `json:"coverImageUrl" validate:"omitempty,url"`
	Tags          []string        `json:"tags" validate:"max=20,dive,required,max=50"`
}

// apply copies the input onto p and derives the plain text, excerpt and slug
// from the editor document.
func (in PostInput) apply(p *store.Post) error {
	doc, err := content.Parse(in.Content)
	if err != nil {
		return validationError("Invalid content document", map[string]any{"content": err.Error()})
	}
	p.Title = strings.TrimSpace(in.Title)
	p.Slug = util.Slugify(in.Slug)
	if p.Slug == "" {
		p.Slug = util.Slugify(p.Title)
	}
	if p.Slug == "" {
		p.Slug = strings.ToLower(p.ID)
	}
	p.Content = in.Content
	if len(p.Content) == 0 {
		p.Content = json.RawMessage(`{"type":"doc","content":[]}`)
	}
	p.PlainText = content.PlainText(doc)
	p.Excerpt = strings.TrimSpace(in.Excerpt)
	if p.Excerpt == "" {
		p.Excerpt = content.Excerpt(doc, excerptLength)
	}
	p.CoverImageURL = in.CoverImageURL
	p.Tags = normalizeTags(in.Tags)
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

type PostFilterInput struct {
	Status string
	Tag    string
	Limit  int
	Offset int
}

// Posts lists posts newest first. Visitors and customers only get published
// posts whatever status they ask for.
func (s *Service) Posts(ctx context.Context, orgID string, staff bool, filter PostFilterInput) ([]map[string]any, error) {
	status := filter.Status
	if !staff {
		status = PostPublished
	}
	items, err := s.store.ListPosts(ctx, orgID, store.PostFilter{
		Status: status,
		Tag:    strings.ToLower(strings.TrimSpace(filter.Tag)),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		return nil, err
	}
	return mapSlice(items, postSummaryJSON), nil
}

// PublishedPost returns a published post with its rendered HTML.
func (s *Service) PublishedPost(ctx context.Context, orgID, slug string) (map[string]any, error) {
	item, err := s.store.GetPostBySlug(ctx, orgID, slug)
	if err != nil {
		return nil, err
	}
	if item.Status != PostPublished {
		return nil, errNotFound
	}
	return renderedPost(item), nil
}

func (s *Service) Post(ctx context.Context, session Session, postID string) (map[string]any, error) {
	item, err := s.store.GetPost(ctx, session.OrgID, postID)
	if err != nil {
		return nil, err
	}
	return renderedPost(item), nil
}

func renderedPost(item store.Post) map[string]any {
	out := postJSON(item)
	if doc, err := content.Parse(item.Content); err == nil {
		out["html"] = content.RenderHTML(doc)
	} else {
		out["html"] = ""
	}
	return out
}

func (s *Service) CreatePost(ctx context.Context, session Session, in PostInput) (map[string]any, error) {
	item := store.Post{
		ID:         util.NewID("pst"),
		OrgID:      session.OrgID,
		Status:     PostDraft,
		AuthorID:   session.ProfileID,
		AuthorName: session.Name,
	}
	if err := in.apply(&item); err != nil {
		return nil, err
	}
	if err := s.store.InsertPost(ctx, item); err != nil {
		return nil, err
	}
	s.commitRevision(session, item, "Create post")
	s.indexPost(item)

	created, err := s.store.GetPost(ctx, session.OrgID, item.ID)
	if err != nil {
		return nil, err
	}
	return postJSON(created), nil
}

func (s *Service) UpdatePost(ctx context.Context, session Session, postID string, in PostInput) (map[string]any, error) {
	return s.updatePost(ctx, session, postID, in, "Update post")
}

func (s *Service) updatePost(ctx context.Context, session Session, postID string, in PostInput, message string) (map[string]any, error) {
	item, err := s.store.GetPost(ctx, session.OrgID, postID)
	if err != nil {
		return nil, err
	}
	if err := in.apply(&item); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePost(ctx, item); err != nil {
		return nil, err
	}
	s.commitRevision(session, item, message)
	s.indexPost(item)
	return postJSON(item), nil
}

// SetPostStatus publishes, archives or returns a post to draft.
func (s *Service) SetPostStatus(ctx context.Context, session Session, postID, status string) (map[string]any, error) {
	switch status {
	case PostDraft, PostPublished, PostArchived:
	default:
		return nil, validationError("Invalid post status", map[string]any{"status": status})
	}
	ok, err := s.store.SetPostStatus(ctx, session.OrgID, postID, status, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotFound
	}
	item, err := s.store.GetPost(ctx, session.OrgID, postID)
	if err != nil {
		return nil, err
	}
	s.commitRevision(session, item, "Set status "+status)
	s.indexPost(item)
	return postJSON(item), nil
}

func (s *Service) DeletePost(ctx context.Context, session Session, postID string) error {
	ok, err := s.store.DeletePost(ctx, session.OrgID, postID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound
	}
	if s.search != nil {
		s.search.Remove(search.ResultPost, postID)
	}
	if s.revisions != nil {
		if err := s.revisions.Remove(session.OrgID, postID); err != nil {
			s.log.Warn().Err(err).Str("post_id", postID).Msg("remove post history")
		}
	}
	return nil
}

// PostRevisions lists the history of a post, newest first.
func (s *Service) PostRevisions(ctx context.Context, session Session, postID string, limit int) ([]map[string]any, error) {
	if s.revisions == nil {
		return nil, unavailable("REVISIONS_UNAVAILABLE", "Revision history is not configured")
	}
	if _, err := s.store.GetPost(ctx, session.OrgID, postID); err != nil {
		return nil, err
	}
	items, err := s.revisions.List(session.OrgID, postID, limit)
	if err != nil {
		return nil, err
	}
	return mapSlice(items, commitJSON), nil
}

func (s *Service) PostRevision(ctx context.Context, session Session, postID, hash string) (map[string]any, error) {
	if s.revisions == nil {
		return nil, unavailable("REVISIONS_UNAVAILABLE", "Revision history is not configured")
	}
	current, err := s.store.GetPost(ctx, session.OrgID, postID)
	if err != nil {
		return nil, err
	}
	snap, info, err := s.revisions.Get(session.OrgID, postID, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"commit":   commitJSON(info),
		"snapshot": snap,
		"changed":  revisions.ChangedFields(snap, revisions.SnapshotOf(current)),
	}, nil
}

// RestorePostRevision writes an old snapshot back as a new revision. The
// lifecycle status is left alone.
func (s *Service) RestorePostRevision(ctx context.Context, session Session, postID, hash string) (map[string]any, error) {
	if s.revisions == nil {
		return nil, unavailable("REVISIONS_UNAVAILABLE", "Revision history is not configured")
	}
	snap, info, err := s.revisions.Get(session.OrgID, postID, hash)
	if err != nil {
		return nil, err
	}
	return s.updatePost(ctx, session, postID, PostInput{
		Title:         snap.Title,
		Slug:          snap.Slug,
		Excerpt:       snap.Excerpt,
		Content:       snap.Content,
		CoverImageURL: snap.CoverImageURL,
		Tags:          snap.Tags,
	}, "Restore "+shortHash(info.Hash))
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

func (s *Service) commitRevision(session Session, item store.Post, message string) {
	if s.revisions == nil {
		return
	}
	if _, _, err := s.revisions.Commit(item.OrgID, item.ID, revisions.SnapshotOf(item), session.Name, message); err != nil {
		s.log.Warn().Err(err).Str("post_id", item.ID).Msg("commit post revision")
	}
}

func (s *Service) indexPost(item store.Post) {
	if s.search == nil {
		return
	}
	s.search.IndexPost(search.PostRecord{
		ID:      item.ID,
		OrgID:   item.OrgID,
		Slug:    item.Slug,
		Title:   item.Title,
		Excerpt: item.Excerpt,
		Body:    item.PlainText,
		Status:  item.Status,
		Tags:    item.Tags,
	})
}
