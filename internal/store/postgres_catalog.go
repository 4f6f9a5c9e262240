package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const productColumns = `id, org_id, name, slug, description, price_cents, currency, stripe_price_id, image_url, active, bookable, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.Slug, &p.Description, &p.PriceCents, &p.Currency, &p.StripePriceID, &p.ImageURL, &p.Active, &p.Bookable, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) ListProducts(ctx context.Context, orgID string, activeOnly bool) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM product
		WHERE org_id=$1 AND (NOT $2::boolean OR active)
		ORDER BY name ASC
	`, orgID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	items := make([]Product, 0)
	for rows.Next() {
		item, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return items, nil
}

// ListAllActiveProducts spans every organization; it feeds search reindexing.
func (s *PostgresStore) ListAllActiveProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM product WHERE active ORDER BY org_id, name`)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	defer rows.Close()

	items := make([]Product, 0)
	for rows.Next() {
		item, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, orgID, productID string) (Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM product WHERE org_id=$1 AND id=$2`, orgID, productID))
}

func (s *PostgresStore) InsertProduct(ctx context.Context, p Product) (Product, error) {
	item, err := scanProduct(s.db.QueryRowContext(ctx, `
		INSERT INTO product (id, org_id, name, slug, description, price_cents, currency, stripe_price_id, image_url, active, bookable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+productColumns,
		p.ID, p.OrgID, p.Name, p.Slug, p.Description, p.PriceCents, p.Currency, p.StripePriceID, p.ImageURL, p.Active, p.Bookable))
	if isUniqueViolation(err) {
		return Product{}, ErrConflict
	}
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	item, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE product
		SET name=$3, slug=$4, description=$5, price_cents=$6, currency=$7, stripe_price_id=$8, image_url=$9, active=$10, bookable=$11, updated_at=NOW()
		WHERE org_id=$1 AND id=$2
		RETURNING `+productColumns,
		p.OrgID, p.ID, p.Name, p.Slug, p.Description, p.PriceCents, p.Currency, p.StripePriceID, p.ImageURL, p.Active, p.Bookable))
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, err
	}
	if isUniqueViolation(err) {
		return Product{}, ErrConflict
	}
	if err != nil {
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, orgID, productID string) (bool, error) {
	return s.execAffected(ctx, "delete product", `DELETE FROM product WHERE org_id=$1 AND id=$2`, orgID, productID)
}

func (s *PostgresStore) execAffected(ctx context.Context, op, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", op, err)
	}
	return affected > 0, nil
}

const planColumns = `id, org_id, name, interval, price_cents, currency, stripe_price_id, features::text, highlighted, sort_order, created_at`

func scanPlan(row interface{ Scan(...any) error }) (PricingPlan, error) {
	var p PricingPlan
	var features string
	if err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.Interval, &p.PriceCents, &p.Currency, &p.StripePriceID, &features, &p.Highlighted, &p.SortOrder, &p.CreatedAt); err != nil {
		return PricingPlan{}, err
	}
	p.Features = make([]string, 0)
	if features != "" {
		if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
			return PricingPlan{}, fmt.Errorf("decode plan features: %w", err)
		}
	}
	return p, nil
}

func encodeStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	raw, _ := json.Marshal(values)
	return string(raw)
}

func (s *PostgresStore) ListPricingPlans(ctx context.Context, orgID string) ([]PricingPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+`
		FROM pricingplan
		WHERE org_id=$1
		ORDER BY sort_order ASC, price_cents ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list pricing plans: %w", err)
	}
	defer rows.Close()

	items := make([]PricingPlan, 0)
	for rows.Next() {
		item, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pricing plan: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pricing plans: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPricingPlan(ctx context.Context, orgID, planID string) (PricingPlan, error) {
	return scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM pricingplan WHERE org_id=$1 AND id=$2`, orgID, planID))
}

func (s *PostgresStore) InsertPricingPlan(ctx context.Context, p PricingPlan) (PricingPlan, error) {
	item, err := scanPlan(s.db.QueryRowContext(ctx, `
		INSERT INTO pricingplan (id, org_id, name, interval, price_cents, currency, stripe_price_id, features, highlighted, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)
		RETURNING `+planColumns,
		p.ID, p.OrgID, p.Name, p.Interval, p.PriceCents, p.Currency, p.StripePriceID, encodeStrings(p.Features), p.Highlighted, p.SortOrder))
	if err != nil {
		return PricingPlan{}, fmt.Errorf("insert pricing plan: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdatePricingPlan(ctx context.Context, p PricingPlan) (PricingPlan, error) {
	item, err := scanPlan(s.db.QueryRowContext(ctx, `
		UPDATE pricingplan
		SET name=$3, interval=$4, price_cents=$5, currency=$6, stripe_price_id=$7, features=$8::jsonb, highlighted=$9, sort_order=$10
		WHERE org_id=$1 AND id=$2
		RETURNING `+planColumns,
		p.OrgID, p.ID, p.Name, p.Interval, p.PriceCents, p.Currency, p.StripePriceID, encodeStrings(p.Features), p.Highlighted, p.SortOrder))
	if errors.Is(err, sql.ErrNoRows) {
		return PricingPlan{}, err
	}
	if err != nil {
		return PricingPlan{}, fmt.Errorf("update pricing plan: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeletePricingPlan(ctx context.Context, orgID, planID string) (bool, error) {
	return s.execAffected(ctx, "delete pricing plan", `DELETE FROM pricingplan WHERE org_id=$1 AND id=$2`, orgID, planID)
}

func (s *PostgresStore) ListCompetitors(ctx context.Context, orgID string) ([]Competitor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, website, sort_order
		FROM competitors
		WHERE org_id=$1
		ORDER BY sort_order ASC, name ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list competitors: %w", err)
	}
	defer rows.Close()

	items := make([]Competitor, 0)
	for rows.Next() {
		var item Competitor
		if err := rows.Scan(&item.ID, &item.OrgID, &item.Name, &item.Website, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan competitor: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate competitors: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCompetitorPlans(ctx context.Context, orgID string) ([]CompetitorPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cp.id, cp.competitor_id, cp.name, cp.price_cents, cp.interval
		FROM competitor_plans cp
		JOIN competitors c ON c.id = cp.competitor_id
		WHERE c.org_id=$1
		ORDER BY cp.price_cents ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list competitor plans: %w", err)
	}
	defer rows.Close()

	items := make([]CompetitorPlan, 0)
	for rows.Next() {
		var item CompetitorPlan
		if err := rows.Scan(&item.ID, &item.CompetitorID, &item.Name, &item.PriceCents, &item.Interval); err != nil {
			return nil, fmt.Errorf("scan competitor plan: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate competitor plans: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCompetitorFeatures(ctx context.Context, orgID string) ([]CompetitorFeature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cf.competitor_id, cf.plan_id, cf.feature_key, cf.value
		FROM competitor_features cf
		JOIN competitors c ON c.id = cf.competitor_id
		WHERE c.org_id=$1
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list competitor features: %w", err)
	}
	defer rows.Close()

	items := make([]CompetitorFeature, 0)
	for rows.Next() {
		var item CompetitorFeature
		if err := rows.Scan(&item.CompetitorID, &item.PlanID, &item.FeatureKey, &item.Value); err != nil {
			return nil, fmt.Errorf("scan competitor feature: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate competitor features: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertCompetitor(ctx context.Context, c Competitor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO competitors (id, org_id, name, website, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, website=EXCLUDED.website, sort_order=EXCLUDED.sort_order
		WHERE competitors.org_id = EXCLUDED.org_id
	`, c.ID, c.OrgID, c.Name, c.Website, c.SortOrder)
	if err != nil {
		return fmt.Errorf("upsert competitor: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCompetitor(ctx context.Context, orgID, competitorID string) (bool, error) {
	return s.execAffected(ctx, "delete competitor", `DELETE FROM competitors WHERE org_id=$1 AND id=$2`, orgID, competitorID)
}

func (s *PostgresStore) UpsertCompetitorPlan(ctx context.Context, p CompetitorPlan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO competitor_plans (id, competitor_id, name, price_cents, interval)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, price_cents=EXCLUDED.price_cents, interval=EXCLUDED.interval
	`, p.ID, p.CompetitorID, p.Name, p.PriceCents, p.Interval)
	if err != nil {
		return fmt.Errorf("upsert competitor plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertCompetitorFeature(ctx context.Context, f CompetitorFeature) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO competitor_features (competitor_id, plan_id, feature_key, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (competitor_id, plan_id, feature_key) DO UPDATE SET value=EXCLUDED.value
	`, f.CompetitorID, f.PlanID, f.FeatureKey, f.Value)
	if err != nil {
		return fmt.Errorf("upsert competitor feature: %w", err)
	}
	return nil
}

const bookingColumns = `id, org_id, profile_id, product_id, starts_at, ends_at, status, notes, payment_intent_id, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.OrgID, &b.ProfileID, &b.ProductID, &b.StartsAt, &b.EndsAt, &b.Status, &b.Notes, &b.PaymentIntentID, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// CreateBooking inserts a booking unless it overlaps a non-cancelled booking
// of the same product. The product row is locked for the duration of the
// check so concurrent requests serialize.
func (s *PostgresStore) CreateBooking(ctx context.Context, b Booking) (Booking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Booking{}, fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var productID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM product WHERE org_id=$1 AND id=$2 FOR UPDATE`, b.OrgID, b.ProductID).Scan(&productID); err != nil {
		return Booking{}, err
	}

	var overlaps bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE product_id=$1 AND status <> 'cancelled' AND starts_at < $3 AND ends_at > $2
		)
	`, b.ProductID, b.StartsAt, b.EndsAt).Scan(&overlaps)
	if err != nil {
		return Booking{}, fmt.Errorf("check booking overlap: %w", err)
	}
	if overlaps {
		return Booking{}, ErrBookingConflict
	}

	item, err := scanBooking(tx.QueryRowContext(ctx, `
		INSERT INTO bookings (id, org_id, profile_id, product_id, starts_at, ends_at, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+bookingColumns,
		b.ID, b.OrgID, b.ProfileID, b.ProductID, b.StartsAt, b.EndsAt, b.Status, b.Notes))
	if err != nil {
		return Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Booking{}, fmt.Errorf("commit booking: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetBooking(ctx context.Context, orgID, bookingID string) (Booking, error) {
	return scanBooking(s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE org_id=$1 AND id=$2`, orgID, bookingID))
}

// ListBookings returns bookings of an organization; profileID narrows the
// list to a single customer when non-empty.
func (s *PostgresStore) ListBookings(ctx context.Context, orgID, profileID string, from time.Time) ([]Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE org_id=$1 AND ($2 = '' OR profile_id=$2) AND ends_at >= $3
		ORDER BY starts_at ASC
	`, orgID, profileID, from)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	items := make([]Booking, 0)
	for rows.Next() {
		item, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateBookingStatus(ctx context.Context, orgID, bookingID, status string) (bool, error) {
	return s.execAffected(ctx, "update booking status", `
		UPDATE bookings SET status=$3, updated_at=NOW() WHERE org_id=$1 AND id=$2
	`, orgID, bookingID, status)
}

// ConfirmBookingByPaymentIntent moves a pending booking to confirmed.
func (s *PostgresStore) ConfirmBookingByPaymentIntent(ctx context.Context, paymentIntentID string) (bool, error) {
	return s.execAffected(ctx, "confirm booking", `
		UPDATE bookings SET status='confirmed', updated_at=NOW()
		WHERE payment_intent_id=$1 AND status='pending'
	`, paymentIntentID)
}
