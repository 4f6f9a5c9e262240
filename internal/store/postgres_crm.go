package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const caseColumns = `c.id, c.org_id, c.customer_id, c.title, c.status, c.priority, c.owner_id, c.notes,
	c.created_at, c.updated_at, c.closed_at,
	COALESCE((SELECT json_agg(ct.ticket_id ORDER BY ct.ticket_id) FROM case_tickets ct WHERE ct.case_id = c.id), '[]')::text`

func scanCase(row interface{ Scan(...any) error }) (Case, error) {
	var (
		item    Case
		owner   sql.NullString
		closed  sql.NullTime
		tickets string
	)
	err := row.Scan(&item.ID, &item.OrgID, &item.CustomerID, &item.Title, &item.Status, &item.Priority, &owner, &item.Notes, &item.CreatedAt, &item.UpdatedAt, &closed, &tickets)
	if err != nil {
		return Case{}, err
	}
	if owner.Valid {
		item.OwnerID = &owner.String
	}
	if closed.Valid {
		item.ClosedAt = &closed.Time
	}
	item.TicketIDs = make([]string, 0)
	if err := json.Unmarshal([]byte(tickets), &item.TicketIDs); err != nil {
		return Case{}, fmt.Errorf("decode case tickets: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListCases(ctx context.Context, orgID string, filter CaseFilter) ([]Case, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+caseColumns+`
		FROM cases c
		WHERE c.org_id=$1
			AND ($2 = '' OR c.customer_id=$2)
			AND ($3 = '' OR c.status=$3)
			AND ($4 = '' OR c.owner_id=$4)
		ORDER BY c.updated_at DESC
		LIMIT $5 OFFSET $6
	`, orgID, filter.CustomerID, filter.Status, filter.OwnerID, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	items := make([]Case, 0)
	for rows.Next() {
		item, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, orgID, caseID string) (Case, error) {
	return scanCase(s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases c WHERE c.org_id=$1 AND c.id=$2`, orgID, caseID))
}

func (s *PostgresStore) InsertCase(ctx context.Context, item Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, org_id, customer_id, title, status, priority, owner_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.OrgID, item.CustomerID, item.Title, item.Status, item.Priority, nullString(item.OwnerID), item.Notes)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// UpdateCase writes the mutable case fields; closed_at follows the status.
func (s *PostgresStore) UpdateCase(ctx context.Context, item Case) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cases
		SET title=$3, status=$4, priority=$5, owner_id=$6, notes=$7, updated_at=NOW(),
			closed_at=CASE WHEN $4='closed' THEN COALESCE(closed_at, NOW()) ELSE NULL END
		WHERE org_id=$1 AND id=$2
	`, item.OrgID, item.ID, item.Title, item.Status, item.Priority, nullString(item.OwnerID), item.Notes)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update case rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) LinkCaseTicket(ctx context.Context, caseID, ticketID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO case_tickets (case_id, ticket_id) VALUES ($1, $2)
		ON CONFLICT (case_id, ticket_id) DO NOTHING
	`, caseID, ticketID)
	if err != nil {
		return fmt.Errorf("link case ticket: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE cases SET updated_at=NOW() WHERE id=$1`, caseID); err != nil {
		return fmt.Errorf("touch case: %w", err)
	}
	return nil
}

// ListCustomerActivity returns one raw aggregate per customer member of the
// organization. Ticket counts arrive as a JSON object keyed by status.
func (s *PostgresStore) ListCustomerActivity(ctx context.Context, orgID string) ([]CustomerActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.display_name, p.email,
			(SELECT COUNT(*) FROM cases c WHERE c.org_id=$1 AND c.customer_id=p.id AND c.status <> 'closed'),
			(SELECT COUNT(*) FROM cases c WHERE c.org_id=$1 AND c.customer_id=p.id AND c.status = 'closed'),
			COALESCE((
				SELECT json_object_agg(status, n)::text FROM (
					SELECT t.status, COUNT(*) AS n FROM tickets t
					WHERE t.org_id=$1 AND t.customer_id=p.id
					GROUP BY t.status
				) counts
			), '{}'),
			COALESCE((SELECT SUM(o.amount_cents) FROM orders o WHERE o.org_id=$1 AND o.profile_id=p.id AND o.status='paid'), 0),
			GREATEST(
				(SELECT MAX(t.updated_at) FROM tickets t WHERE t.org_id=$1 AND t.customer_id=p.id),
				(SELECT MAX(c.updated_at) FROM cases c WHERE c.org_id=$1 AND c.customer_id=p.id),
				(SELECT MAX(o.updated_at) FROM orders o WHERE o.org_id=$1 AND o.profile_id=p.id)
			)
		FROM memberships m
		JOIN profiles p ON p.id = m.profile_id
		WHERE m.org_id=$1 AND m.role='customer'
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list customer activity: %w", err)
	}
	defer rows.Close()

	items := make([]CustomerActivity, 0)
	for rows.Next() {
		var (
			item     CustomerActivity
			byStatus string
			last     sql.NullTime
		)
		if err := rows.Scan(&item.ProfileID, &item.DisplayName, &item.Email, &item.OpenCases, &item.ClosedCases, &byStatus, &item.PaidCents, &last); err != nil {
			return nil, fmt.Errorf("scan customer activity: %w", err)
		}
		item.TicketsByStatus = map[string]int{}
		if err := json.Unmarshal([]byte(byStatus), &item.TicketsByStatus); err != nil {
			return nil, fmt.Errorf("decode ticket counts: %w", err)
		}
		if last.Valid {
			item.LastActivityAt = &last.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customer activity: %w", err)
	}
	return items, nil
}

const transcriptionColumns = `id, org_id, profile_id, ticket_id, provider_id, audio_url, status, text, error, created_at, updated_at`

func scanTranscription(row interface{ Scan(...any) error }) (Transcription, error) {
	var (
		item   Transcription
		ticket sql.NullString
	)
	err := row.Scan(&item.ID, &item.OrgID, &item.ProfileID, &ticket, &item.ProviderID, &item.AudioURL, &item.Status, &item.Text, &item.Error, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Transcription{}, err
	}
	if ticket.Valid {
		item.TicketID = &ticket.String
	}
	return item, nil
}

func (s *PostgresStore) InsertTranscription(ctx context.Context, item Transcription) (Transcription, error) {
	created, err := scanTranscription(s.db.QueryRowContext(ctx, `
		INSERT INTO transcriptions (id, org_id, profile_id, ticket_id, provider_id, audio_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+transcriptionColumns,
		item.ID, item.OrgID, item.ProfileID, nullString(item.TicketID), item.ProviderID, item.AudioURL, item.Status))
	if err != nil {
		return Transcription{}, fmt.Errorf("insert transcription: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetTranscription(ctx context.Context, orgID, id string) (Transcription, error) {
	return scanTranscription(s.db.QueryRowContext(ctx, `SELECT `+transcriptionColumns+` FROM transcriptions WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (s *PostgresStore) UpdateTranscription(ctx context.Context, id, status, text, errText string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transcriptions SET status=$2, text=$3, error=$4, updated_at=$5 WHERE id=$1
	`, id, status, text, errText, at)
	if err != nil {
		return fmt.Errorf("update transcription: %w", err)
	}
	return nil
}
