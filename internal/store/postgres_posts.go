package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const postColumns = `p.id, p.org_id, p.slug, p.title, p.excerpt, p.content::text, p.plain_text, p.status, p.cover_image_url,
	p.tags::text, p.author_id, COALESCE(pr.display_name, ''), p.published_at, p.created_at, p.updated_at`

const postFrom = `FROM posts p LEFT JOIN profiles pr ON pr.id = p.author_id`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var (
		p         Post
		content   string
		tags      string
		published sql.NullTime
	)
	err := row.Scan(
		&p.ID,
		&p.OrgID,
		&p.Slug,
		&p.Title,
		&p.Excerpt,
		&content,
		&p.PlainText,
		&p.Status,
		&p.CoverImageURL,
		&tags,
		&p.AuthorID,
		&p.AuthorName,
		&published,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Post{}, err
	}
	p.Content = json.RawMessage(content)
	p.Tags = make([]string, 0)
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
			return Post{}, fmt.Errorf("decode post tags: %w", err)
		}
	}
	if published.Valid {
		p.PublishedAt = &published.Time
	}
	return p, nil
}

func (s *PostgresStore) ListPosts(ctx context.Context, orgID string, filter PostFilter) ([]Post, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		`+postFrom+`
		WHERE p.org_id=$1
			AND ($2 = '' OR p.status=$2)
			AND ($3 = '' OR p.tags ? $3)
		ORDER BY COALESCE(p.published_at, p.updated_at) DESC
		LIMIT $4 OFFSET $5
	`, orgID, filter.Status, filter.Tag, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

// ListPublishedPosts spans every organization; it feeds search reindexing.
func (s *PostgresStore) ListPublishedPosts(ctx context.Context) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		`+postFrom+`
		WHERE p.status='published'
		ORDER BY p.org_id, p.published_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list published posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

func collectPosts(rows *sql.Rows) ([]Post, error) {
	items := make([]Post, 0)
	for rows.Next() {
		item, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, orgID, postID string) (Post, error) {
	return scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` `+postFrom+` WHERE p.org_id=$1 AND p.id=$2`, orgID, postID))
}

func (s *PostgresStore) GetPostBySlug(ctx context.Context, orgID, slug string) (Post, error) {
	return scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` `+postFrom+` WHERE p.org_id=$1 AND p.slug=$2`, orgID, slug))
}

func (s *PostgresStore) InsertPost(ctx context.Context, p Post) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, org_id, slug, title, excerpt, content, plain_text, status, cover_image_url, tags, author_id, published_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10::jsonb, $11, $12)
	`, p.ID, p.OrgID, p.Slug, p.Title, p.Excerpt, string(p.Content), p.PlainText, p.Status, p.CoverImageURL, encodeStrings(p.Tags), p.AuthorID, nullTime(p.PublishedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePost(ctx context.Context, p Post) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET slug=$3, title=$4, excerpt=$5, content=$6::jsonb, plain_text=$7, cover_image_url=$8, tags=$9::jsonb, updated_at=NOW()
		WHERE org_id=$1 AND id=$2
	`, p.OrgID, p.ID, p.Slug, p.Title, p.Excerpt, string(p.Content), p.PlainText, p.CoverImageURL, encodeStrings(p.Tags))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update post rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetPostStatus changes the lifecycle state. Publishing stamps published_at
// the first time only.
func (s *PostgresStore) SetPostStatus(ctx context.Context, orgID, postID, status string, at time.Time) (bool, error) {
	return s.execAffected(ctx, "set post status", `
		UPDATE posts
		SET status=$3,
			published_at=CASE WHEN $3='published' THEN COALESCE(published_at, $4) ELSE published_at END,
			updated_at=NOW()
		WHERE org_id=$1 AND id=$2
	`, orgID, postID, status, at)
}

func (s *PostgresStore) DeletePost(ctx context.Context, orgID, postID string) (bool, error) {
	return s.execAffected(ctx, "delete post", `DELETE FROM posts WHERE org_id=$1 AND id=$2`, orgID, postID)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(value *string) any {
	if value == nil || *value == "" {
		return nil
	}
	return *value
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
