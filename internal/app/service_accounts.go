package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"storefront/api/internal/authpw"
	"storefront/api/internal/email"
	"storefront/api/internal/rbac"
	"storefront/api/internal/store"
)

var errAuthUnavailable = unavailable("AUTH_UNAVAILABLE", "Authentication service not configured")

type SignUpInput struct {
	Org         string `json:"org" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"displayName" validate:"required,max=120"`
	Locale      string `json:"locale" validate:"omitempty,max=16"`
}

type SignUpResult struct {
	ProfileID string
	OrgID     string
	// DevToken is only set when no mail server is configured.
	DevToken string
}

// SignUp registers a customer of the organization and mails the
// verification link.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (SignUpResult, error) {
	if s.accounts == nil {
		return SignUpResult{}, errAuthUnavailable
	}
	resp, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		OrgSlug:     in.Org,
		Email:       in.Email,
		Password:    in.Password,
		DisplayName: in.DisplayName,
		Locale:      in.Locale,
	})
	if err != nil {
		return SignUpResult{}, err
	}

	result := SignUpResult{ProfileID: resp.ProfileID, OrgID: resp.OrgID}
	if !s.EmailConfigured() {
		result.DevToken = resp.VerificationToken
		return result, nil
	}
	to := email.Recipient{Email: resp.Email, Name: in.DisplayName, Locale: in.Locale}
	if err := s.mailer.SendVerificationEmail(to, s.orgName(ctx, resp.OrgID), s.link("/verify-email", "token", resp.VerificationToken)); err != nil {
		s.log.Error().Err(err).Str("profile_id", resp.ProfileID).Msg("send verification email")
	}
	return result, nil
}

type SignInInput struct {
	Org      string `json:"org" validate:"required"`
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Service) SignIn(ctx context.Context, in SignInInput) (Session, error) {
	if s.accounts == nil {
		return Session{}, errAuthUnavailable
	}
	result, err := s.accounts.SignIn(ctx, authpw.SignInRequest{OrgSlug: in.Org, Email: in.Email, Password: in.Password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, result.Profile, result.Membership)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if s.accounts == nil {
		return errAuthUnavailable
	}
	return s.accounts.VerifyEmail(ctx, token)
}

// ResendVerification returns the dev token when mail is not configured. The
// org slug only names the organization in the email.
func (s *Service) ResendVerification(ctx context.Context, orgSlug, address string) (string, error) {
	if s.accounts == nil {
		return "", errAuthUnavailable
	}
	profile, token, err := s.accounts.ResendVerification(ctx, address)
	if err != nil || token == "" {
		return "", err
	}
	if !s.EmailConfigured() {
		return token, nil
	}
	to := email.Recipient{Email: profile.Email, Name: profile.DisplayName, Locale: profile.Locale}
	if err := s.mailer.SendVerificationEmail(to, s.orgNameBySlug(ctx, orgSlug), s.link("/verify-email", "token", token)); err != nil {
		s.log.Error().Err(err).Str("profile_id", profile.ID).Msg("send verification email")
	}
	return "", nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, orgSlug, address string) (string, error) {
	if s.accounts == nil {
		return "", errAuthUnavailable
	}
	profile, token, err := s.accounts.RequestPasswordReset(ctx, address)
	if err != nil || token == "" {
		return "", err
	}
	if !s.EmailConfigured() {
		return token, nil
	}
	to := email.Recipient{Email: profile.Email, Name: profile.DisplayName, Locale: profile.Locale}
	if err := s.mailer.SendPasswordResetEmail(to, s.orgNameBySlug(ctx, orgSlug), s.link("/reset-password", "token", token)); err != nil {
		s.log.Error().Err(err).Str("profile_id", profile.ID).Msg("send password reset email")
	}
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if s.accounts == nil {
		return errAuthUnavailable
	}
	return s.accounts.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword})
}

func (s *Service) orgNameBySlug(ctx context.Context, slug string) string {
	org, err := s.store.GetOrganizationBySlug(ctx, slug)
	if err != nil {
		return slug
	}
	return org.Name
}

// Org resolves the tenant of a public route.
func (s *Service) Org(ctx context.Context, slug string) (store.Organization, error) {
	org, err := s.store.GetOrganizationBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
	if store.IsNotFound(err) {
		return store.Organization{}, domainError(http.StatusNotFound, "ORG_NOT_FOUND", "Organization not found", nil)
	}
	return org, err
}

func (s *Service) Profile(ctx context.Context, session Session) (map[string]any, error) {
	profile, err := s.store.GetProfile(ctx, session.ProfileID)
	if err != nil {
		return nil, err
	}
	profile.Role = string(session.Role)
	return profileJSON(profile, session.OrgID), nil
}

type ProfileInput struct {
	DisplayName string `json:"displayName" validate:"required,max=120"`
	AvatarURL   string `json:"avatarUrl" validate:"omitempty,url,max=2048"`
	Locale      string `json:"locale" validate:"omitempty,max=16"`
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, in ProfileInput) (map[string]any, error) {
	locale := in.Locale
	if locale != "" && s.messages != nil {
		locale = s.messages.Negotiate(locale, s.cfg.DefaultLocale)
	}
	profile, err := s.store.UpdateProfile(ctx, session.ProfileID, strings.TrimSpace(in.DisplayName), in.AvatarURL, locale)
	if err != nil {
		return nil, err
	}
	profile.Role = string(session.Role)
	return profileJSON(profile, session.OrgID), nil
}

func (s *Service) Memberships(ctx context.Context, session Session) ([]map[string]any, error) {
	items, err := s.store.ListMembershipsForProfile(ctx, session.ProfileID)
	if err != nil {
		return nil, err
	}
	return mapSlice(items, membershipJSON), nil
}

func (s *Service) Members(ctx context.Context, session Session) ([]map[string]any, error) {
	items, err := s.store.ListMembers(ctx, session.OrgID)
	if err != nil {
		return nil, err
	}
	return mapSlice(items, membershipJSON), nil
}

// SetMemberRole changes another member's role. Admins cannot change their own
// role so an organization never loses its last admin by accident.
func (s *Service) SetMemberRole(ctx context.Context, session Session, profileID, role string) error {
	if !rbac.Valid(role) {
		return validationError("Invalid role", map[string]any{"role": role})
	}
	if profileID == session.ProfileID {
		return domainError(http.StatusConflict, "OWN_ROLE", "You cannot change your own role", nil)
	}
	ok, err := s.store.SetMemberRole(ctx, session.OrgID, profileID, role)
	if err != nil {
		return fmt.Errorf("set member role: %w", err)
	}
	if !ok {
		return errNotFound
	}
	return nil
}

var errNotFound = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
