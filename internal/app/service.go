package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"storefront/api/internal/auth"
	"storefront/api/internal/authpw"
	"storefront/api/internal/config"
	"storefront/api/internal/email"
	"storefront/api/internal/export"
	"storefront/api/internal/i18n"
	"storefront/api/internal/integrations"
	"storefront/api/internal/media"
	"storefront/api/internal/payments"
	"storefront/api/internal/rbac"
	"storefront/api/internal/realtime"
	"storefront/api/internal/revisions"
	"storefront/api/internal/search"
	"storefront/api/internal/store"
	"storefront/api/internal/util"
)

// Session is the authenticated caller. OrgID is the tenant every request of
// the session is scoped to.
type Session struct {
	Token        string
	RefreshToken string
	ProfileID    string
	OrgID        string
	Name         string
	Role         rbac.Role
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Staff() bool {
	return rbac.IsStaff(s.Role)
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (store.Organization, error)
	GetProfile(ctx context.Context, profileID string) (store.Profile, error)
	UpdateProfile(ctx context.Context, profileID, displayName, avatarURL, locale string) (store.Profile, error)
	GetMembership(ctx context.Context, orgID, profileID string) (store.Membership, error)
	SetMemberRole(ctx context.Context, orgID, profileID, role string) (bool, error)
	ListMembershipsForProfile(ctx context.Context, profileID string) ([]store.Membership, error)
	ListMembers(ctx context.Context, orgID string) ([]store.Membership, error)

	ListProducts(ctx context.Context, orgID string, activeOnly bool) ([]store.Product, error)
	GetProduct(ctx context.Context, orgID, productID string) (store.Product, error)
	InsertProduct(ctx context.Context, p store.Product) (store.Product, error)
	UpdateProduct(ctx context.Context, p store.Product) (store.Product, error)
	DeleteProduct(ctx context.Context, orgID, productID string) (bool, error)
	ListPricingPlans(ctx context.Context, orgID string) ([]store.PricingPlan, error)
	GetPricingPlan(ctx context.Context, orgID, planID string) (store.PricingPlan, error)
	InsertPricingPlan(ctx context.Context, p store.PricingPlan) (store.PricingPlan, error)
	UpdatePricingPlan(ctx context.Context, p store.PricingPlan) (store.PricingPlan, error)
	DeletePricingPlan(ctx context.Context, orgID, planID string) (bool, error)
	ListCompetitors(ctx context.Context, orgID string) ([]store.Competitor, error)
	ListCompetitorPlans(ctx context.Context, orgID string) ([]store.CompetitorPlan, error)
	ListCompetitorFeatures(ctx context.Context, orgID string) ([]store.CompetitorFeature, error)
	UpsertCompetitor(ctx context.Context, c store.Competitor) error
	DeleteCompetitor(ctx context.Context, orgID, competitorID string) (bool, error)
	UpsertCompetitorPlan(ctx context.Context, p store.CompetitorPlan) error
	UpsertCompetitorFeature(ctx context.Context, f store.CompetitorFeature) error
	CreateBooking(ctx context.Context, b store.Booking) (store.Booking, error)
	GetBooking(ctx context.Context, orgID, bookingID string) (store.Booking, error)
	ListBookings(ctx context.Context, orgID, profileID string, from time.Time) ([]store.Booking, error)
	UpdateBookingStatus(ctx context.Context, orgID, bookingID, status string) (bool, error)

	ListPosts(ctx context.Context, orgID string, filter store.PostFilter) ([]store.Post, error)
	GetPost(ctx context.Context, orgID, postID string) (store.Post, error)
	GetPostBySlug(ctx context.Context, orgID, slug string) (store.Post, error)
	InsertPost(ctx context.Context, p store.Post) error
	UpdatePost(ctx context.Context, p store.Post) error
	SetPostStatus(ctx context.Context, orgID, postID, status string, at time.Time) (bool, error)
	DeletePost(ctx context.Context, orgID, postID string) (bool, error)

	CreateTicket(ctx context.Context, t store.Ticket) (store.Ticket, error)
	GetTicket(ctx context.Context, orgID, ticketID, viewerID string) (store.Ticket, error)
	ListTickets(ctx context.Context, orgID, viewerID string, filter store.TicketFilter) ([]store.Ticket, error)
	UpdateTicket(ctx context.Context, orgID, ticketID string, update store.TicketUpdate) error
	InsertTicketResponse(ctx context.Context, r store.TicketResponse, status string) (store.TicketResponse, error)
	ListTicketResponses(ctx context.Context, ticketID string, includeInternal bool) ([]store.TicketResponse, error)
	MarkTicketRead(ctx context.Context, ticketID, profileID string, at time.Time) error
	UnreadTicketCount(ctx context.Context, orgID, viewerID, customerID string) (int, error)
	TicketOwner(ctx context.Context, orgID, ticketID string) (string, error)

	ListCases(ctx context.Context, orgID string, filter store.CaseFilter) ([]store.Case, error)
	GetCase(ctx context.Context, orgID, caseID string) (store.Case, error)
	InsertCase(ctx context.Context, item store.Case) error
	UpdateCase(ctx context.Context, item store.Case) error
	LinkCaseTicket(ctx context.Context, caseID, ticketID string) error
	ListCustomerActivity(ctx context.Context, orgID string) ([]store.CustomerActivity, error)

	ListSettings(ctx context.Context, orgID string, publicOnly bool) ([]store.Setting, error)
	UpsertSetting(ctx context.Context, item store.Setting) (store.Setting, error)
	DeleteSetting(ctx context.Context, orgID, key string) (bool, error)
	ListCookieCategories(ctx context.Context, orgID string) ([]store.CookieCategory, error)
	UpsertCookieCategory(ctx context.Context, item store.CookieCategory) error
	DeleteCookieCategory(ctx context.Context, orgID, key string) (bool, error)

	ListOrders(ctx context.Context, orgID, profileID string) ([]store.Order, error)
	ListSubscriptions(ctx context.Context, orgID, profileID string) ([]store.Subscription, error)
}

// sessionStore holds refresh sessions and revoked access tokens. Redis
// serves it when configured, Postgres otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, profileID, orgID string, expiresAt time.Time) error
	// ConsumeRefreshSession atomically revokes and returns a live session.
	ConsumeRefreshSession(ctx context.Context, tokenHash string) (store.RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type accountService interface {
	SignUp(ctx context.Context, req authpw.SignUpRequest) (*authpw.SignUpResponse, error)
	SignIn(ctx context.Context, req authpw.SignInRequest) (*authpw.SignInResult, error)
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, address string) (store.Profile, string, error)
	RequestPasswordReset(ctx context.Context, address string) (store.Profile, string, error)
	ResetPassword(ctx context.Context, req authpw.ResetPasswordRequest) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to email.Recipient, orgName, verificationURL string) error
	SendPasswordResetEmail(to email.Recipient, orgName, resetURL string) error
	SendTicketReplyEmail(to email.Recipient, orgName string, reply email.TicketReply) error
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPost(p search.PostRecord)
	IndexProduct(p search.ProductRecord)
	IndexTicket(t search.TicketRecord)
	Remove(t search.ResultType, id string)
}

type revisionStore interface {
	Commit(orgID, postID string, snap revisions.Snapshot, author, message string) (store.CommitInfo, bool, error)
	List(orgID, postID string, limit int) ([]store.CommitInfo, error)
	Get(orgID, postID, hash string) (revisions.Snapshot, store.CommitInfo, error)
	Remove(orgID, postID string) error
}

type exporter interface {
	Transcript(ctx context.Context, req export.Request) (*export.Result, error)
}

type mediaService interface {
	Put(ctx context.Context, u media.Upload) (media.Object, error)
	URL(ctx context.Context, orgID, key, profileID string, staff bool) (string, error)
	Delete(ctx context.Context, orgID, key, profileID string, admin bool) error
}

type billingService interface {
	Enabled() bool
	Checkout(ctx context.Context, payer payments.Payer, in payments.CheckoutInput) (payments.CheckoutResult, error)
	BookingDeposit(ctx context.Context, payer payments.Payer, bookingID string) (payments.DepositResult, error)
	Portal(ctx context.Context, payer payments.Payer) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type integrationService interface {
	Status() map[string]bool
	SearchImages(ctx context.Context, provider, query string, perPage int) ([]integrations.ImageResult, error)
	SearchVideos(ctx context.Context, query string, limit int) ([]integrations.VideoResult, error)
	VideoToken(identity, room string, ttl time.Duration) (string, error)
	Transcribe(ctx context.Context, req integrations.TranscriptionRequest) (store.Transcription, error)
	Transcription(ctx context.Context, orgID, id string) (store.Transcription, error)
}

type typingSignaler interface {
	Signal(ctx context.Context, ev realtime.Event, typing bool)
}

// Deps wires the service. Store is required; everything else is optional and
// the matching routes answer 503 when a collaborator is missing.
type Deps struct {
	Store        dataStore
	Sessions     sessionStore
	Accounts     accountService
	Mailer       mailer
	Search       searcher
	Revisions    revisionStore
	Exporter     exporter
	Media        mediaService
	Payments     billingService
	Integrations integrationService
	Broker       realtime.Broker
	Typing       typingSignaler
	Messages     *i18n.Bundle
	// RedisPing is reported by the readiness probe when set.
	RedisPing func(ctx context.Context) error
	Log       zerolog.Logger
}

type Service struct {
	cfg          config.Config
	store        dataStore
	sessions     sessionStore
	accounts     accountService
	mailer       mailer
	search       searcher
	revisions    revisionStore
	exporter     exporter
	media        mediaService
	payments     billingService
	integrations integrationService
	broker       realtime.Broker
	typing       typingSignaler
	messages     *i18n.Bundle
	redisPing    func(ctx context.Context) error
	log          zerolog.Logger
	now          func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:          cfg,
		store:        deps.Store,
		sessions:     deps.Sessions,
		accounts:     deps.Accounts,
		mailer:       deps.Mailer,
		search:       deps.Search,
		revisions:    deps.Revisions,
		exporter:     deps.Exporter,
		media:        deps.Media,
		payments:     deps.Payments,
		integrations: deps.Integrations,
		broker:       deps.Broker,
		typing:       deps.Typing,
		messages:     deps.Messages,
		redisPing:    deps.RedisPing,
		log:          deps.Log,
		now:          time.Now,
	}
	if s.sessions == nil {
		if ss, ok := deps.Store.(sessionStore); ok {
			s.sessions = ss
		}
	}
	if s.accounts == nil {
		if as, ok := deps.Store.(authpw.Store); ok {
			s.accounts = authpw.NewService(as)
		}
	}
	if s.broker == nil {
		s.broker = realtime.NewLocalBroker()
	}
	if s.typing == nil {
		s.typing = realtime.NewTypingTracker(s.broker, realtime.TypingTimeout, s.log)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingRedis returns (false, nil) when no Redis is configured.
func (s *Service) PingRedis(ctx context.Context) (bool, error) {
	if s.redisPing == nil {
		return false, nil
	}
	return true, s.redisPing(ctx)
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) EmailConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Broker() realtime.Broker {
	return s.broker
}

func (s *Service) issueSession(ctx context.Context, profile store.Profile, membership store.Membership) (Session, error) {
	if s.sessions == nil {
		return Session{}, errors.New("no session store configured")
	}
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	role := rbac.Normalize(membership.Role)

	claims := auth.Claims{
		Name:  profile.DisplayName,
		Role:  string(role),
		OrgID: membership.OrgID,
	}
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   profile.ID,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), profile.ID, membership.OrgID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		ProfileID:    profile.ID,
		OrgID:        membership.OrgID,
		Name:         profile.DisplayName,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and reloads the membership so a
// role change or removal takes effect before the token expires.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	if s.sessions != nil {
		revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}

	membership, err := s.store.GetMembership(ctx, claims.OrgID, claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	session := Session{
		Token:     token,
		ProfileID: claims.Subject,
		OrgID:     claims.OrgID,
		Name:      membership.DisplayName,
		Role:      rbac.Normalize(membership.Role),
		JTI:       claims.ID,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// Refresh rotates a refresh token. The old token is consumed before a new
// session is issued, so concurrent exchanges of one token yield one session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if s.sessions == nil || strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	record, err := s.sessions.ConsumeRefreshSession(ctx, auth.HashToken(refreshToken))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	membership, err := s.store.GetMembership(ctx, record.OrgID, record.ProfileID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	profile, err := s.store.GetProfile(ctx, record.ProfileID)
	if err != nil {
		return Session{}, fmt.Errorf("load profile: %w", err)
	}
	return s.issueSession(ctx, profile, membership)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if s.sessions == nil {
		return nil
	}
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.log.Warn().Err(err).Str("profile_id", session.ProfileID).Msg("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log.Warn().Err(err).Str("profile_id", session.ProfileID).Msg("revoke refresh session")
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev realtime.Event) {
	ev.At = s.now().UTC()
	if err := s.broker.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("type", ev.Type).Str("ticket_id", ev.TicketID).Msg("publish realtime event")
	}
}

func (s *Service) orgName(ctx context.Context, orgID string) string {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return ""
	}
	return org.Name
}

func (s *Service) link(path string, query ...string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	url := base + path
	if len(query) == 2 {
		url += "?" + query[0] + "=" + query[1]
	}
	return url
}
