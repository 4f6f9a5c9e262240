package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ticketColumns expects the viewer's profile id as the first query argument.
const ticketColumns = `t.id, t.org_id, t.number, t.subject, t.body, t.status, t.priority, t.category,
	t.customer_id, c.display_name, c.email, t.assignee_id, t.last_response_at, t.created_at, t.updated_at,
	COALESCE(t.last_response_at, t.created_at) > COALESCE(tr.last_read_at, 'epoch'::timestamptz)`

const ticketFrom = `FROM tickets t
	JOIN profiles c ON c.id = t.customer_id
	LEFT JOIN ticket_reads tr ON tr.ticket_id = t.id AND tr.profile_id = $1`

func scanTicket(row interface{ Scan(...any) error }) (Ticket, error) {
	var (
		t            Ticket
		assignee     sql.NullString
		lastResponse sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.OrgID,
		&t.Number,
		&t.Subject,
		&t.Body,
		&t.Status,
		&t.Priority,
		&t.Category,
		&t.CustomerID,
		&t.CustomerName,
		&t.CustomerEmail,
		&assignee,
		&lastResponse,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.Unread,
	)
	if err != nil {
		return Ticket{}, err
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.String
	}
	if lastResponse.Valid {
		t.LastResponseAt = &lastResponse.Time
	}
	return t, nil
}

// CreateTicket allocates the next per-organization ticket number and inserts
// the ticket in one transaction.
func (s *PostgresStore) CreateTicket(ctx context.Context, t Ticket) (Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Ticket{}, fmt.Errorf("begin ticket tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var number int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ticket_counters (org_id, last_number) VALUES ($1, 1)
		ON CONFLICT (org_id) DO UPDATE SET last_number = ticket_counters.last_number + 1
		RETURNING last_number
	`, t.OrgID).Scan(&number)
	if err != nil {
		return Ticket{}, fmt.Errorf("allocate ticket number: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO tickets (id, org_id, number, subject, body, status, priority, category, customer_id, assignee_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, t.ID, t.OrgID, number, t.Subject, t.Body, t.Status, t.Priority, t.Category, t.CustomerID, nullString(t.AssigneeID)).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Ticket{}, fmt.Errorf("commit ticket: %w", err)
	}
	t.Number = number
	return t, nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, orgID, ticketID, viewerID string) (Ticket, error) {
	return scanTicket(s.db.QueryRowContext(ctx, `
		SELECT `+ticketColumns+`
		`+ticketFrom+`
		WHERE t.org_id=$2 AND t.id=$3
	`, viewerID, orgID, ticketID))
}

func (s *PostgresStore) ListTickets(ctx context.Context, orgID, viewerID string, filter TicketFilter) ([]Ticket, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ticketColumns+`
		`+ticketFrom+`
		WHERE t.org_id=$2
			AND ($3 = '' OR t.customer_id=$3)
			AND ($4 = '' OR t.status=$4)
			AND ($5 = '' OR t.assignee_id=$5)
		ORDER BY t.updated_at DESC
		LIMIT $6 OFFSET $7
	`, viewerID, orgID, filter.CustomerID, filter.Status, filter.AssigneeID, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()
	return collectTickets(rows)
}

// ListOpenTickets spans every organization; it feeds search reindexing.
func (s *PostgresStore) ListOpenTickets(ctx context.Context) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ticketColumns+`
		`+ticketFrom+`
		WHERE t.status <> 'closed'
		ORDER BY t.org_id, t.number
	`, "")
	if err != nil {
		return nil, fmt.Errorf("list open tickets: %w", err)
	}
	defer rows.Close()
	return collectTickets(rows)
}

func collectTickets(rows *sql.Rows) ([]Ticket, error) {
	items := make([]Ticket, 0)
	for rows.Next() {
		item, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return items, nil
}

// UpdateTicket applies the non-nil fields of update. An empty AssigneeID
// clears the assignee.
func (s *PostgresStore) UpdateTicket(ctx context.Context, orgID, ticketID string, update TicketUpdate) error {
	var assigneeSet bool
	var assignee any
	if update.AssigneeID != nil {
		assigneeSet = true
		assignee = nullString(update.AssigneeID)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE tickets
		SET status=COALESCE($3, status),
			priority=COALESCE($4, priority),
			category=COALESCE($5, category),
			assignee_id=CASE WHEN $6::boolean THEN $7 ELSE assignee_id END,
			updated_at=NOW()
		WHERE org_id=$1 AND id=$2
	`, orgID, ticketID, update.Status, update.Priority, update.Category, assigneeSet, assignee)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InsertTicketResponse stores a response and bumps the ticket's activity
// timestamps. A non-empty status also moves the ticket to that status.
// Internal notes leave last_response_at alone: it drives the unread state
// customers see.
func (s *PostgresStore) InsertTicketResponse(ctx context.Context, r TicketResponse, status string) (TicketResponse, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TicketResponse{}, fmt.Errorf("begin response tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO ticket_responses (id, ticket_id, author_id, body, internal, attachment_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, r.ID, r.TicketID, r.AuthorID, r.Body, r.Internal, r.AttachmentURL).Scan(&r.CreatedAt)
	if err != nil {
		return TicketResponse{}, fmt.Errorf("insert ticket response: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tickets
		SET last_response_at=CASE WHEN $4 THEN last_response_at ELSE $2 END,
			updated_at=$2,
			status=COALESCE(NULLIF($3, ''), status)
		WHERE id=$1
	`, r.TicketID, r.CreatedAt, status, r.Internal); err != nil {
		return TicketResponse{}, fmt.Errorf("touch ticket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return TicketResponse{}, fmt.Errorf("commit ticket response: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListTicketResponses(ctx context.Context, ticketID string, includeInternal bool) ([]TicketResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.ticket_id, r.author_id, p.display_name, r.body, r.internal, r.attachment_url, r.created_at
		FROM ticket_responses r
		JOIN profiles p ON p.id = r.author_id
		WHERE r.ticket_id=$1 AND ($2::boolean OR NOT r.internal)
		ORDER BY r.created_at ASC
	`, ticketID, includeInternal)
	if err != nil {
		return nil, fmt.Errorf("list ticket responses: %w", err)
	}
	defer rows.Close()

	items := make([]TicketResponse, 0)
	for rows.Next() {
		var item TicketResponse
		if err := rows.Scan(&item.ID, &item.TicketID, &item.AuthorID, &item.AuthorName, &item.Body, &item.Internal, &item.AttachmentURL, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ticket response: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticket responses: %w", err)
	}
	return items, nil
}

// MarkTicketRead never moves a read marker backwards.
func (s *PostgresStore) MarkTicketRead(ctx context.Context, ticketID, profileID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_reads (ticket_id, profile_id, last_read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (ticket_id, profile_id) DO UPDATE
		SET last_read_at=GREATEST(ticket_reads.last_read_at, EXCLUDED.last_read_at)
	`, ticketID, profileID, at)
	if err != nil {
		return fmt.Errorf("mark ticket read: %w", err)
	}
	return nil
}

// UnreadTicketCount counts tickets with activity newer than the viewer's read
// marker. customerID limits the count to one customer's tickets.
func (s *PostgresStore) UnreadTicketCount(ctx context.Context, orgID, viewerID, customerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM tickets t
		LEFT JOIN ticket_reads tr ON tr.ticket_id = t.id AND tr.profile_id = $1
		WHERE t.org_id=$2
			AND ($3 = '' OR t.customer_id=$3)
			AND t.status <> 'closed'
			AND COALESCE(t.last_response_at, t.created_at) > COALESCE(tr.last_read_at, 'epoch'::timestamptz)
	`, viewerID, orgID, customerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread tickets: %w", err)
	}
	return count, nil
}

// TicketOwner returns the customer id of a ticket within an organization.
func (s *PostgresStore) TicketOwner(ctx context.Context, orgID, ticketID string) (string, error) {
	var customerID string
	err := s.db.QueryRowContext(ctx, `SELECT customer_id FROM tickets WHERE org_id=$1 AND id=$2`, orgID, ticketID).Scan(&customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("ticket owner: %w", err)
	}
	return customerID, nil
}
