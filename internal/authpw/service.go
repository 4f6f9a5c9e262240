// Package authpw provides email/password authentication with verification
// and organization membership checks.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"storefront/api/internal/rbac"
	"storefront/api/internal/store"
	"storefront/api/internal/util"
)

const (
	MinPasswordLength = 8
	verificationTTL   = 24 * time.Hour
	resetTTL          = time.Hour
)

var (
	ErrMissingFields      = errors.New("email, password and display name are required")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email address is not verified")
	ErrNotMember          = errors.New("profile is not a member of this organization")
	ErrUnknownOrg         = errors.New("organization not found")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Store defines the storage the auth service needs.
type Store interface {
	GetOrganizationBySlug(ctx context.Context, slug string) (store.Organization, error)
	GetProfileByEmail(ctx context.Context, email string) (store.Profile, error)
	CreateProfile(ctx context.Context, p store.Profile) error
	UpdateVerificationToken(ctx context.Context, profileID, token string, expiresAt time.Time) error
	VerifyEmail(ctx context.Context, token string) error
	UpdatePassword(ctx context.Context, profileID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, profileID, token string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, token string) (string, error)
	GetMembership(ctx context.Context, orgID, profileID string) (store.Membership, error)
	EnsureMembership(ctx context.Context, orgID, profileID, role string) error
}

// Service provides email/password authentication
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(s Store) *Service {
	return &Service{store: s, now: time.Now}
}

type SignUpRequest struct {
	OrgSlug     string
	Email       string
	Password    string
	DisplayName string
	Locale      string
}

type SignUpResponse struct {
	ProfileID         string
	OrgID             string
	Email             string
	VerificationToken string
}

// SignUp creates a profile with a customer membership in the organization and
// a pending verification token.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" || strings.TrimSpace(req.DisplayName) == "" {
		return nil, ErrMissingFields
	}
	if len(req.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	org, err := s.store.GetOrganizationBySlug(ctx, req.OrgSlug)
	if store.IsNotFound(err) {
		return nil, ErrUnknownOrg
	}
	if err != nil {
		return nil, fmt.Errorf("lookup organization: %w", err)
	}

	if _, err := s.store.GetProfileByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !store.IsNotFound(err) {
		return nil, fmt.Errorf("lookup profile: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationToken, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	profile := store.Profile{
		ID:                util.NewID("prf"),
		Email:             email,
		DisplayName:       strings.TrimSpace(req.DisplayName),
		Locale:            req.Locale,
		PasswordHash:      string(hash),
		VerificationToken: verificationToken,
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}
	if err := s.store.UpdateVerificationToken(ctx, profile.ID, verificationToken, s.now().Add(verificationTTL)); err != nil {
		return nil, fmt.Errorf("set verification expiry: %w", err)
	}
	if err := s.store.EnsureMembership(ctx, org.ID, profile.ID, string(rbac.RoleCustomer)); err != nil {
		return nil, fmt.Errorf("create membership: %w", err)
	}

	return &SignUpResponse{
		ProfileID:         profile.ID,
		OrgID:             org.ID,
		Email:             email,
		VerificationToken: verificationToken,
	}, nil
}

type SignInRequest struct {
	OrgSlug  string
	Email    string
	Password string
}

type SignInResult struct {
	Profile    store.Profile
	Membership store.Membership
}

// SignIn authenticates against the password hash, then requires a verified
// email and a membership in the requested organization.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	org, err := s.store.GetOrganizationBySlug(ctx, req.OrgSlug)
	if store.IsNotFound(err) {
		return nil, ErrUnknownOrg
	}
	if err != nil {
		return nil, fmt.Errorf("lookup organization: %w", err)
	}

	profile, err := s.store.GetProfileByEmail(ctx, email)
	if store.IsNotFound(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup profile: %w", err)
	}
	if profile.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !profile.IsEmailVerified {
		return nil, ErrEmailNotVerified
	}

	membership, err := s.store.GetMembership(ctx, org.ID, profile.ID)
	if store.IsNotFound(err) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("lookup membership: %w", err)
	}
	profile.Role = membership.Role

	return &SignInResult{Profile: profile, Membership: membership}, nil
}

// VerifyEmail verifies an email address using a token
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}
	if err := s.store.VerifyEmail(ctx, token); err != nil {
		if store.IsNotFound(err) {
			return ErrInvalidToken
		}
		return fmt.Errorf("verify email: %w", err)
	}
	return nil
}

// ResendVerification issues a fresh verification token. Unknown and already
// verified addresses yield an empty token and no error.
func (s *Service) ResendVerification(ctx context.Context, email string) (store.Profile, string, error) {
	profile, err := s.store.GetProfileByEmail(ctx, normalizeEmail(email))
	if err != nil || profile.IsEmailVerified {
		return store.Profile{}, "", nil
	}
	token, err := generateToken()
	if err != nil {
		return store.Profile{}, "", fmt.Errorf("generate verification token: %w", err)
	}
	if err := s.store.UpdateVerificationToken(ctx, profile.ID, token, s.now().Add(verificationTTL)); err != nil {
		return store.Profile{}, "", fmt.Errorf("set verification token: %w", err)
	}
	return profile, token, nil
}

// RequestPasswordReset creates a single-use reset token. Unknown addresses
// yield an empty token so callers cannot probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (store.Profile, string, error) {
	profile, err := s.store.GetProfileByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return store.Profile{}, "", nil
	}

	token, err := generateToken()
	if err != nil {
		return store.Profile{}, "", fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.store.CreatePasswordReset(ctx, profile.ID, token, s.now().Add(resetTTL)); err != nil {
		return store.Profile{}, "", fmt.Errorf("create password reset: %w", err)
	}
	return profile, token, nil
}

type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" {
		return ErrInvalidToken
	}
	if len(req.NewPassword) < MinPasswordLength {
		return ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	profileID, err := s.store.ConsumePasswordReset(ctx, req.Token)
	if store.IsNotFound(err) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}

	if err := s.store.UpdatePassword(ctx, profileID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateToken creates a secure random token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
