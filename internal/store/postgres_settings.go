package store

import (
	"context"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) ListSettings(ctx context.Context, orgID string, publicOnly bool) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, key, value::text, public, updated_at
		FROM settings
		WHERE org_id=$1 AND (NOT $2::boolean OR public)
		ORDER BY key ASC
	`, orgID, publicOnly)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	items := make([]Setting, 0)
	for rows.Next() {
		var (
			item  Setting
			value string
		)
		if err := rows.Scan(&item.OrgID, &item.Key, &value, &item.Public, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		item.Value = json.RawMessage(value)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertSetting(ctx context.Context, item Setting) (Setting, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO settings (org_id, key, value, public)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (org_id, key) DO UPDATE SET value=EXCLUDED.value, public=EXCLUDED.public, updated_at=NOW()
		RETURNING value::text, updated_at
	`, item.OrgID, item.Key, string(item.Value), item.Public).Scan(&value, &item.UpdatedAt)
	if err != nil {
		return Setting{}, fmt.Errorf("upsert setting: %w", err)
	}
	item.Value = json.RawMessage(value)
	return item, nil
}

func (s *PostgresStore) DeleteSetting(ctx context.Context, orgID, key string) (bool, error) {
	return s.execAffected(ctx, "delete setting", `DELETE FROM settings WHERE org_id=$1 AND key=$2`, orgID, key)
}

func (s *PostgresStore) ListCookieCategories(ctx context.Context, orgID string) ([]CookieCategory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, key, name, description, required, default_enabled, sort_order
		FROM cookie_category
		WHERE org_id=$1
		ORDER BY sort_order ASC, key ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list cookie categories: %w", err)
	}
	defer rows.Close()

	items := make([]CookieCategory, 0)
	for rows.Next() {
		var item CookieCategory
		if err := rows.Scan(&item.ID, &item.OrgID, &item.Key, &item.Name, &item.Description, &item.Required, &item.DefaultEnabled, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan cookie category: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cookie categories: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertCookieCategory(ctx context.Context, item CookieCategory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cookie_category (id, org_id, key, name, description, required, default_enabled, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id, key) DO UPDATE
		SET name=EXCLUDED.name, description=EXCLUDED.description, required=EXCLUDED.required,
			default_enabled=EXCLUDED.default_enabled, sort_order=EXCLUDED.sort_order
	`, item.ID, item.OrgID, item.Key, item.Name, item.Description, item.Required, item.DefaultEnabled, item.SortOrder)
	if err != nil {
		return fmt.Errorf("upsert cookie category: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCookieCategory(ctx context.Context, orgID, key string) (bool, error) {
	return s.execAffected(ctx, "delete cookie category", `DELETE FROM cookie_category WHERE org_id=$1 AND key=$2`, orgID, key)
}
