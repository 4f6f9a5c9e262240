package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"storefront/api/internal/authpw"
	"storefront/api/internal/config"
	"storefront/api/internal/store"
)

const (
	testSecret = "test-secret"
	testOrgID  = "org-acme"
	testSlug   = "acme"
)

// fakeStore keeps just enough state in memory for the service and HTTP
// tests. Methods the tests never reach fall through to the nil embedded
// interface and panic.
type fakeStore struct {
	dataStore

	mu        sync.Mutex
	orgs      map[string]store.Organization
	profiles  map[string]store.Profile
	members   map[string]store.Membership
	products  map[string]store.Product
	bookings  map[string]store.Booking
	tickets   map[string]store.Ticket
	responses []store.TicketResponse
	posts     []store.Post
	settings  []store.Setting
	cookies   []store.CookieCategory
	cases     map[string]store.Case

	pingFn             func(context.Context) error
	createBookingFn    func(context.Context, store.Booking) (store.Booking, error)
	listTicketsFn      func(context.Context, string, string, store.TicketFilter) ([]store.Ticket, error)
	listPostsFn        func(context.Context, string, store.PostFilter) ([]store.Post, error)
	markTicketReadFn   func(ctx context.Context, ticketID, profileID string)
	lastResponseStatus string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orgs: map[string]store.Organization{
			testOrgID: {ID: testOrgID, Slug: testSlug, Name: "Acme"},
		},
		profiles: map[string]store.Profile{},
		members:  map[string]store.Membership{},
		products: map[string]store.Product{},
		bookings: map[string]store.Booking{},
		tickets:  map[string]store.Ticket{},
		cases:    map[string]store.Case{},
	}
}

func memberKey(orgID, profileID string) string {
	return orgID + "|" + profileID
}

func (f *fakeStore) addMember(profileID, name, role string) (store.Profile, store.Membership) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile := store.Profile{ID: profileID, Email: profileID + "@example.com", DisplayName: name, Locale: "en", IsEmailVerified: true}
	membership := store.Membership{OrgID: testOrgID, OrgSlug: testSlug, OrgName: "Acme", ProfileID: profileID, Email: profile.Email, DisplayName: name, Role: role}
	f.profiles[profileID] = profile
	f.members[memberKey(testOrgID, profileID)] = membership
	return profile, membership
}

func (f *fakeStore) removeMember(profileID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, memberKey(testOrgID, profileID))
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetOrganization(_ context.Context, orgID string) (store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[orgID]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	return org, nil
}

func (f *fakeStore) GetOrganizationBySlug(_ context.Context, slug string) (store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, org := range f.orgs {
		if org.Slug == slug {
			return org, nil
		}
	}
	return store.Organization{}, sql.ErrNoRows
}

func (f *fakeStore) GetProfile(_ context.Context, profileID string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[profileID]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return profile, nil
}

func (f *fakeStore) GetMembership(_ context.Context, orgID, profileID string) (store.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	membership, ok := f.members[memberKey(orgID, profileID)]
	if !ok {
		return store.Membership{}, sql.ErrNoRows
	}
	return membership, nil
}

func (f *fakeStore) SetMemberRole(_ context.Context, orgID, profileID, role string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	membership, ok := f.members[memberKey(orgID, profileID)]
	if !ok {
		return false, nil
	}
	membership.Role = role
	f.members[memberKey(orgID, profileID)] = membership
	return true, nil
}

func (f *fakeStore) ListProducts(_ context.Context, orgID string, activeOnly bool) ([]store.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Product
	for _, p := range f.products {
		if p.OrgID == orgID && (p.Active || !activeOnly) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) GetProduct(_ context.Context, orgID, productID string) (store.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok || p.OrgID != orgID {
		return store.Product{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) InsertProduct(_ context.Context, p store.Product) (store.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeStore) CreateBooking(ctx context.Context, b store.Booking) (store.Booking, error) {
	if f.createBookingFn != nil {
		return f.createBookingFn(ctx, b)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b.CreatedAt = time.Now()
	f.bookings[b.ID] = b
	return b, nil
}

func (f *fakeStore) GetBooking(_ context.Context, orgID, bookingID string) (store.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok || b.OrgID != orgID {
		return store.Booking{}, sql.ErrNoRows
	}
	return b, nil
}

func (f *fakeStore) UpdateBookingStatus(_ context.Context, orgID, bookingID, status string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok || b.OrgID != orgID {
		return false, nil
	}
	b.Status = status
	f.bookings[bookingID] = b
	return true, nil
}

func (f *fakeStore) CreateTicket(_ context.Context, t store.Ticket) (store.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Number = int64(len(f.tickets) + 1)
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	if p, ok := f.profiles[t.CustomerID]; ok {
		t.CustomerName = p.DisplayName
		t.CustomerEmail = p.Email
	}
	f.tickets[t.ID] = t
	return t, nil
}

func (f *fakeStore) putTicket(t store.Ticket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.OrgID == "" {
		t.OrgID = testOrgID
	}
	f.tickets[t.ID] = t
}

func (f *fakeStore) TicketOwner(_ context.Context, orgID, ticketID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok || t.OrgID != orgID {
		return "", sql.ErrNoRows
	}
	return t.CustomerID, nil
}

func (f *fakeStore) GetCase(_ context.Context, orgID, caseID string) (store.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[caseID]
	if !ok || c.OrgID != orgID {
		return store.Case{}, sql.ErrNoRows
	}
	c.TicketIDs = append([]string(nil), c.TicketIDs...)
	return c, nil
}

func (f *fakeStore) InsertCase(_ context.Context, item store.Case) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	item.CreatedAt, item.UpdatedAt = now, now
	f.cases[item.ID] = item
	return nil
}

// UpdateCase mirrors the SQL: closed_at is stamped once on close and cleared
// on reopen, and linked tickets are not written.
func (f *fakeStore) UpdateCase(_ context.Context, item store.Case) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.cases[item.ID]
	if !ok || existing.OrgID != item.OrgID {
		return sql.ErrNoRows
	}
	item.TicketIDs = existing.TicketIDs
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now()
	item.ClosedAt = nil
	if item.Status == "closed" {
		item.ClosedAt = existing.ClosedAt
		if item.ClosedAt == nil {
			closed := item.UpdatedAt
			item.ClosedAt = &closed
		}
	}
	f.cases[item.ID] = item
	return nil
}

func (f *fakeStore) LinkCaseTicket(_ context.Context, caseID, ticketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.cases[caseID]
	for _, id := range c.TicketIDs {
		if id == ticketID {
			return nil
		}
	}
	c.TicketIDs = append(c.TicketIDs, ticketID)
	f.cases[caseID] = c
	return nil
}

func (f *fakeStore) GetTicket(_ context.Context, orgID, ticketID, _ string) (store.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok || t.OrgID != orgID {
		return store.Ticket{}, sql.ErrNoRows
	}
	return t, nil
}

func (f *fakeStore) ListTickets(ctx context.Context, orgID, viewerID string, filter store.TicketFilter) ([]store.Ticket, error) {
	if f.listTicketsFn != nil {
		return f.listTicketsFn(ctx, orgID, viewerID, filter)
	}
	return nil, nil
}

func (f *fakeStore) UpdateTicket(_ context.Context, orgID, ticketID string, update store.TicketUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok || t.OrgID != orgID {
		return sql.ErrNoRows
	}
	if update.Status != nil {
		t.Status = *update.Status
	}
	if update.Priority != nil {
		t.Priority = *update.Priority
	}
	if update.Category != nil {
		t.Category = *update.Category
	}
	if update.AssigneeID != nil {
		t.AssigneeID = update.AssigneeID
	}
	f.tickets[ticketID] = t
	return nil
}

func (f *fakeStore) InsertTicketResponse(_ context.Context, r store.TicketResponse, status string) (store.TicketResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.CreatedAt = time.Now()
	f.responses = append(f.responses, r)
	f.lastResponseStatus = status
	if t, ok := f.tickets[r.TicketID]; ok && status != "" {
		t.Status = status
		f.tickets[r.TicketID] = t
	}
	return r, nil
}

func (f *fakeStore) ListTicketResponses(_ context.Context, ticketID string, includeInternal bool) ([]store.TicketResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.TicketResponse
	for _, r := range f.responses {
		if r.TicketID == ticketID && (includeInternal || !r.Internal) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkTicketRead(ctx context.Context, ticketID, profileID string, _ time.Time) error {
	if f.markTicketReadFn != nil {
		f.markTicketReadFn(ctx, ticketID, profileID)
	}
	return nil
}

func (f *fakeStore) ListPosts(ctx context.Context, orgID string, filter store.PostFilter) ([]store.Post, error) {
	if f.listPostsFn != nil {
		return f.listPostsFn(ctx, orgID, filter)
	}
	return f.posts, nil
}

func (f *fakeStore) GetPostBySlug(_ context.Context, orgID, slug string) (store.Post, error) {
	for _, p := range f.posts {
		if p.OrgID == orgID && p.Slug == slug {
			return p, nil
		}
	}
	return store.Post{}, sql.ErrNoRows
}

func (f *fakeStore) ListSettings(_ context.Context, orgID string, publicOnly bool) ([]store.Setting, error) {
	var out []store.Setting
	for _, item := range f.settings {
		if item.OrgID == orgID && (item.Public || !publicOnly) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) ListCookieCategories(_ context.Context, orgID string) ([]store.CookieCategory, error) {
	var out []store.CookieCategory
	for _, item := range f.cookies {
		if item.OrgID == orgID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertCookieCategory(_ context.Context, item store.CookieCategory) error {
	f.cookies = append(f.cookies, item)
	return nil
}

// fakeSessions is an in-memory sessionStore.
type fakeSessions struct {
	mu      sync.Mutex
	refresh map[string]store.RefreshSession
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: map[string]store.RefreshSession{}, revoked: map[string]bool{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, profileID, orgID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = store.RefreshSession{ProfileID: profileID, OrgID: orgID, ExpiresAt: expiresAt}
	return nil
}

func (f *fakeSessions) ConsumeRefreshSession(_ context.Context, tokenHash string) (store.RefreshSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.refresh[tokenHash]
	if !ok {
		return store.RefreshSession{}, sql.ErrNoRows
	}
	delete(f.refresh, tokenHash)
	return record, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeSessions) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeSessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type fakeAccounts struct {
	signUpFn func(context.Context, authpw.SignUpRequest) (*authpw.SignUpResponse, error)
	signInFn func(context.Context, authpw.SignInRequest) (*authpw.SignInResult, error)
}

func (f *fakeAccounts) SignUp(ctx context.Context, req authpw.SignUpRequest) (*authpw.SignUpResponse, error) {
	return f.signUpFn(ctx, req)
}

func (f *fakeAccounts) SignIn(ctx context.Context, req authpw.SignInRequest) (*authpw.SignInResult, error) {
	return f.signInFn(ctx, req)
}

func (f *fakeAccounts) VerifyEmail(context.Context, string) error { return nil }

func (f *fakeAccounts) ResendVerification(context.Context, string) (store.Profile, string, error) {
	return store.Profile{}, "", nil
}

func (f *fakeAccounts) RequestPasswordReset(context.Context, string) (store.Profile, string, error) {
	return store.Profile{}, "", nil
}

func (f *fakeAccounts) ResetPassword(context.Context, authpw.ResetPasswordRequest) error { return nil }

func testConfig() config.Config {
	return config.Config{
		JWTSecret:     testSecret,
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
		PublicBaseURL: "https://shop.example.com",
		DefaultLocale: "en",
		CORSOrigin:    "*",
	}
}

func newTestService(fs *fakeStore, opts ...func(*Deps)) *Service {
	deps := Deps{
		Store:    fs,
		Sessions: newFakeSessions(),
		Accounts: &fakeAccounts{},
		Log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return New(testConfig(), deps)
}

// signIn registers a member with the given role and returns a live session.
func signIn(t *testing.T, svc *Service, fs *fakeStore, profileID, role string) Session {
	t.Helper()
	profile, membership := fs.addMember(profileID, "User "+profileID, role)
	session, err := svc.issueSession(context.Background(), profile, membership)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session
}
