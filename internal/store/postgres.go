package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("store: conflicting record")
	// ErrBookingConflict is returned when a booking overlaps a live booking of the same product.
	ErrBookingConflict = errors.New("store: booking overlaps an existing booking")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) GetOrganizationBySlug(ctx context.Context, slug string) (Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, created_at FROM organizations WHERE slug=$1
	`, strings.ToLower(slug)).Scan(&org.ID, &org.Slug, &org.Name, &org.CreatedAt)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, created_at FROM organizations WHERE id=$1
	`, orgID).Scan(&org.ID, &org.Slug, &org.Name, &org.CreatedAt)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, slug, name, created_at FROM organizations ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	items := make([]Organization, 0)
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Slug, &org.Name, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, org Organization) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, slug, name) VALUES ($1, $2, $3)
	`, org.ID, strings.ToLower(org.Slug), org.Name)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

const profileColumns = `id, email, display_name, avatar_url, locale, password_hash, is_email_verified,
	COALESCE(verification_token, ''), verification_expires_at, stripe_customer_id, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (Profile, error) {
	var p Profile
	var expires sql.NullTime
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.DisplayName,
		&p.AvatarURL,
		&p.Locale,
		&p.PasswordHash,
		&p.IsEmailVerified,
		&p.VerificationToken,
		&expires,
		&p.StripeCustomerID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	if expires.Valid {
		p.VerificationExpiresAt = &expires.Time
	}
	return p, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=$1`, profileID))
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email=$1`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p Profile) error {
	locale := p.Locale
	if locale == "" {
		locale = "en"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, display_name, avatar_url, locale, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
	`, p.ID, strings.ToLower(strings.TrimSpace(p.Email)), p.DisplayName, p.AvatarURL, locale, p.PasswordHash, p.IsEmailVerified, p.VerificationToken)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, profileID, displayName, avatarURL, locale string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `
		UPDATE profiles
		SET display_name=$2, avatar_url=$3, locale=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING `+profileColumns, profileID, displayName, avatarURL, locale))
}

func (s *PostgresStore) SetStripeCustomerID(ctx context.Context, profileID, customerID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET stripe_customer_id=$2, updated_at=NOW() WHERE id=$1`, profileID, customerID)
	if err != nil {
		return fmt.Errorf("set stripe customer: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateVerificationToken(ctx context.Context, profileID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, profileID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

// VerifyEmail consumes a live verification token. It returns sql.ErrNoRows
// when the token is unknown or expired.
func (s *PostgresStore) VerifyEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, profileID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET password_hash=$2, updated_at=NOW() WHERE id=$1`, profileID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, profileID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, profile_id, expires_at) VALUES ($1, $2, $3)
	`, token, profileID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

// ConsumePasswordReset marks a reset token used and returns its profile id.
// Used or expired tokens yield sql.ErrNoRows.
func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, token string) (string, error) {
	var profileID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE password_resets
		SET used_at=NOW()
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING profile_id
	`, token).Scan(&profileID)
	if err != nil {
		return "", err
	}
	return profileID, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, orgID, profileID string) (Membership, error) {
	var m Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT o.id, o.slug, o.name, p.id, p.email, p.display_name, m.role, m.created_at
		FROM memberships m
		JOIN organizations o ON o.id = m.org_id
		JOIN profiles p ON p.id = m.profile_id
		WHERE m.org_id=$1 AND m.profile_id=$2
	`, orgID, profileID).Scan(&m.OrgID, &m.OrgSlug, &m.OrgName, &m.ProfileID, &m.Email, &m.DisplayName, &m.Role, &m.CreatedAt)
	if err != nil {
		return Membership{}, err
	}
	return m, nil
}

func (s *PostgresStore) EnsureMembership(ctx context.Context, orgID, profileID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (org_id, profile_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, profile_id) DO NOTHING
	`, orgID, profileID, role)
	if err != nil {
		return fmt.Errorf("ensure membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetMemberRole(ctx context.Context, orgID, profileID, role string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE memberships SET role=$3 WHERE org_id=$1 AND profile_id=$2`, orgID, profileID, role)
	if err != nil {
		return false, fmt.Errorf("set member role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set member role rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListMembershipsForProfile(ctx context.Context, profileID string) ([]Membership, error) {
	return s.listMemberships(ctx, `WHERE m.profile_id=$1 ORDER BY o.slug`, profileID)
}

func (s *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]Membership, error) {
	return s.listMemberships(ctx, `WHERE m.org_id=$1 ORDER BY p.display_name`, orgID)
}

func (s *PostgresStore) listMemberships(ctx context.Context, where string, arg string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.slug, o.name, p.id, p.email, p.display_name, m.role, m.created_at
		FROM memberships m
		JOIN organizations o ON o.id = m.org_id
		JOIN profiles p ON p.id = m.profile_id
		`+where, arg)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	items := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.OrgID, &m.OrgSlug, &m.OrgName, &m.ProfileID, &m.Email, &m.DisplayName, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, profileID, orgID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, profile_id, org_id, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE SET profile_id=EXCLUDED.profile_id, org_id=EXCLUDED.org_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, profileID, orgID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ConsumeRefreshSession revokes a live refresh session and returns it. The
// conditional update lets only one concurrent caller win; the rest get
// sql.ErrNoRows.
func (s *PostgresStore) ConsumeRefreshSession(ctx context.Context, tokenHash string) (RefreshSession, error) {
	var rs RefreshSession
	err := s.db.QueryRowContext(ctx, `
		UPDATE refresh_sessions
		SET revoked_at=NOW()
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
		RETURNING profile_id, org_id, expires_at
	`, tokenHash).Scan(&rs.ProfileID, &rs.OrgID, &rs.ExpiresAt)
	if err != nil {
		return RefreshSession{}, err
	}
	return rs, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// PurgeExpired drops revoked tokens, refresh sessions and reset tokens past their expiry.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	var total int64
	for _, stmt := range []string{
		`DELETE FROM revoked_access_tokens WHERE expires_at < NOW()`,
		`DELETE FROM refresh_sessions WHERE expires_at < NOW()`,
		`DELETE FROM password_resets WHERE expires_at < NOW()`,
	} {
		result, err := s.db.ExecContext(ctx, stmt)
		if err != nil {
			return total, fmt.Errorf("purge expired: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("purge expired rows: %w", err)
		}
		total += n
	}
	return total, nil
}
