package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const orderColumns = `id, org_id, profile_id, kind, reference_id, amount_cents, currency, status, provider_session_id, provider_payment_id, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrgID, &o.ProfileID, &o.Kind, &o.ReferenceID, &o.AmountCents, &o.Currency, &o.Status, &o.ProviderSessionID, &o.ProviderPaymentID, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

const insertOrderSQL = `
	INSERT INTO orders (id, org_id, profile_id, kind, reference_id, amount_cents, currency, status, provider_session_id, provider_payment_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func orderArgs(o Order) []any {
	return []any{o.ID, o.OrgID, o.ProfileID, o.Kind, o.ReferenceID, o.AmountCents, o.Currency, o.Status, o.ProviderSessionID, o.ProviderPaymentID}
}

func (s *PostgresStore) InsertOrder(ctx context.Context, o Order) error {
	if _, err := s.db.ExecContext(ctx, insertOrderSQL, orderArgs(o)...); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// InsertBookingOrder records a deposit order and points the booking at its
// payment intent in one transaction. A booking never carries an intent that
// has no order.
func (s *PostgresStore) InsertBookingOrder(ctx context.Context, o Order, bookingID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin booking order tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertOrderSQL, orderArgs(o)...); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE bookings SET payment_intent_id=$3, updated_at=NOW() WHERE org_id=$1 AND id=$2
	`, o.OrgID, bookingID, o.ProviderPaymentID)
	if err != nil {
		return fmt.Errorf("set booking payment intent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set booking payment intent rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit booking order: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, orgID, profileID string) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE org_id=$1 AND ($2 = '' OR profile_id=$2)
		ORDER BY created_at DESC
	`, orgID, profileID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	items := make([]Order, 0)
	for rows.Next() {
		item, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return items, nil
}

// MarkOrderBySession settles the order created for a checkout session.
func (s *PostgresStore) MarkOrderBySession(ctx context.Context, sessionID, status, paymentID string) (Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status=$2, provider_payment_id=COALESCE(NULLIF($3, ''), provider_payment_id), updated_at=NOW()
		WHERE provider_session_id=$1
		RETURNING `+orderColumns,
		sessionID, status, paymentID))
}

func (s *PostgresStore) MarkOrderByPayment(ctx context.Context, paymentID, status string) (Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, `
		UPDATE orders SET status=$2, updated_at=NOW()
		WHERE provider_payment_id=$1
		RETURNING `+orderColumns,
		paymentID, status))
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, org_id, profile_id, plan_id, provider_subscription_id, status, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_subscription_id) DO UPDATE
		SET status=EXCLUDED.status, current_period_end=EXCLUDED.current_period_end, updated_at=NOW()
	`, sub.ID, sub.OrgID, sub.ProfileID, sub.PlanID, sub.ProviderSubscriptionID, sub.Status, nullTime(sub.CurrentPeriodEnd))
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// UpdateSubscriptionStatus returns sql.ErrNoRows for subscriptions this
// system never recorded.
func (s *PostgresStore) UpdateSubscriptionStatus(ctx context.Context, providerSubscriptionID, status string, periodEnd *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status=$2, current_period_end=COALESCE($3, current_period_end), updated_at=NOW()
		WHERE provider_subscription_id=$1
	`, providerSubscriptionID, status, nullTime(periodEnd))
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subscription rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, orgID, profileID string) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, profile_id, plan_id, provider_subscription_id, status, current_period_end, updated_at
		FROM subscriptions
		WHERE org_id=$1 AND profile_id=$2
		ORDER BY updated_at DESC
	`, orgID, profileID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	items := make([]Subscription, 0)
	for rows.Next() {
		var (
			item Subscription
			end  sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.OrgID, &item.ProfileID, &item.PlanID, &item.ProviderSubscriptionID, &item.Status, &end, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if end.Valid {
			item.CurrentPeriodEnd = &end.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return items, nil
}

// RecordPaymentEvent returns false when the event id was already processed.
func (s *PostgresStore) RecordPaymentEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	return s.execAffected(ctx, "record payment event", `
		INSERT INTO payment_events (event_id, event_type) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
}

// ForgetPaymentEvent undoes RecordPaymentEvent so a failed delivery can be
// processed again when the provider retries it.
func (s *PostgresStore) ForgetPaymentEvent(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM payment_events WHERE event_id=$1`, eventID); err != nil {
		return fmt.Errorf("forget payment event: %w", err)
	}
	return nil
}
