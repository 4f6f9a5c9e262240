package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"storefront/api/internal/auth"
	"storefront/api/internal/store"
)

func domainStatus(t *testing.T, err error) (int, string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	status, code, _, _ := mapError(err)
	return status, code
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		agent    bool
		internal bool
		want     string
	}{
		{name: "agent reply waits on customer", current: TicketOpen, agent: true, want: TicketPending},
		{name: "agent reply on closed ticket keeps it closed", current: TicketClosed, agent: true, want: ""},
		{name: "internal note keeps status", current: TicketPending, agent: true, internal: true, want: ""},
		{name: "customer reply reopens pending", current: TicketPending, want: TicketOpen},
		{name: "customer reply reopens resolved", current: TicketResolved, want: TicketOpen},
		{name: "customer reply on open ticket", current: TicketOpen, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextStatus(tc.current, tc.agent, tc.internal); got != tc.want {
				t.Fatalf("nextStatus(%q, agent=%v, internal=%v) = %q, want %q", tc.current, tc.agent, tc.internal, got, tc.want)
			}
		})
	}
}

func TestRespondMovesTicketStatus(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	customer := signIn(t, svc, fs, "cust-1", "customer")
	agent := signIn(t, svc, fs, "agent-1", "agent")
	fs.putTicket(store.Ticket{ID: "tkt-1", CustomerID: customer.ProfileID, Status: TicketOpen})

	if _, err := svc.Respond(context.Background(), agent, "tkt-1", ResponseInput{Body: "Have you tried turning it off?"}); err != nil {
		t.Fatalf("agent respond: %v", err)
	}
	if fs.lastResponseStatus != TicketPending {
		t.Fatalf("expected pending after agent reply, got %q", fs.lastResponseStatus)
	}

	if _, err := svc.Respond(context.Background(), customer, "tkt-1", ResponseInput{Body: "Still broken"}); err != nil {
		t.Fatalf("customer respond: %v", err)
	}
	if fs.lastResponseStatus != TicketOpen {
		t.Fatalf("expected open after customer reply, got %q", fs.lastResponseStatus)
	}

	if _, err := svc.Respond(context.Background(), agent, "tkt-1", ResponseInput{Body: "escalating", Internal: true}); err != nil {
		t.Fatalf("internal note: %v", err)
	}
	if fs.lastResponseStatus != "" {
		t.Fatalf("internal note must not move status, got %q", fs.lastResponseStatus)
	}
}

func TestRespondRules(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	customer := signIn(t, svc, fs, "cust-1", "customer")
	fs.putTicket(store.Ticket{ID: "tkt-open", CustomerID: customer.ProfileID, Status: TicketOpen})
	fs.putTicket(store.Ticket{ID: "tkt-closed", CustomerID: customer.ProfileID, Status: TicketClosed})

	_, err := svc.Respond(context.Background(), customer, "tkt-open", ResponseInput{Body: "note", Internal: true})
	if status, _ := domainStatus(t, err); status != http.StatusForbidden {
		t.Fatalf("expected 403 for customer internal note, got %d", status)
	}

	_, err = svc.Respond(context.Background(), customer, "tkt-closed", ResponseInput{Body: "hello?"})
	if _, code := domainStatus(t, err); code != "TICKET_CLOSED" {
		t.Fatalf("expected TICKET_CLOSED, got %s", code)
	}
}

func TestTicketHiddenFromOtherCustomers(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	owner := signIn(t, svc, fs, "cust-1", "customer")
	other := signIn(t, svc, fs, "cust-2", "customer")
	agent := signIn(t, svc, fs, "agent-1", "agent")
	fs.putTicket(store.Ticket{ID: "tkt-1", CustomerID: owner.ProfileID, Status: TicketOpen})

	if _, err := svc.Ticket(context.Background(), owner, "tkt-1"); err != nil {
		t.Fatalf("owner should see ticket: %v", err)
	}
	if _, err := svc.Ticket(context.Background(), agent, "tkt-1"); err != nil {
		t.Fatalf("agent should see ticket: %v", err)
	}
	_, err := svc.Ticket(context.Background(), other, "tkt-1")
	if status, _ := domainStatus(t, err); status != http.StatusNotFound {
		t.Fatalf("expected 404 for another customer, got %d", status)
	}
}

func TestTicketOmitsInternalNotesForCustomers(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	customer := signIn(t, svc, fs, "cust-1", "customer")
	agent := signIn(t, svc, fs, "agent-1", "agent")
	fs.putTicket(store.Ticket{ID: "tkt-1", CustomerID: customer.ProfileID, Status: TicketOpen})
	fs.responses = []store.TicketResponse{
		{ID: "r1", TicketID: "tkt-1", Body: "public"},
		{ID: "r2", TicketID: "tkt-1", Body: "internal", Internal: true},
	}

	view, err := svc.Ticket(context.Background(), customer, "tkt-1")
	if err != nil {
		t.Fatalf("ticket: %v", err)
	}
	if got := len(view["responses"].([]map[string]any)); got != 1 {
		t.Fatalf("customer should see 1 response, got %d", got)
	}
	view, err = svc.Ticket(context.Background(), agent, "tkt-1")
	if err != nil {
		t.Fatalf("ticket: %v", err)
	}
	if got := len(view["responses"].([]map[string]any)); got != 2 {
		t.Fatalf("agent should see 2 responses, got %d", got)
	}
}

func TestTicketsForcesCustomerScope(t *testing.T) {
	fs := newFakeStore()
	var got store.TicketFilter
	fs.listTicketsFn = func(_ context.Context, _, _ string, filter store.TicketFilter) ([]store.Ticket, error) {
		got = filter
		return nil, nil
	}
	svc := newTestService(fs)
	customer := signIn(t, svc, fs, "cust-1", "customer")

	if _, err := svc.Tickets(context.Background(), customer, TicketListInput{CustomerID: "cust-2", AssigneeID: "agent-1"}); err != nil {
		t.Fatalf("tickets: %v", err)
	}
	if got.CustomerID != "cust-1" || got.AssigneeID != "" {
		t.Fatalf("expected filter scoped to caller, got %+v", got)
	}
}

func TestUpdateTicketCustomerMayOnlyClose(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	customer := signIn(t, svc, fs, "cust-1", "customer")
	fs.putTicket(store.Ticket{ID: "tkt-1", CustomerID: customer.ProfileID, Status: TicketOpen})

	urgent := "urgent"
	_, err := svc.UpdateTicket(context.Background(), customer, "tkt-1", TicketUpdateInput{Priority: &urgent})
	if status, _ := domainStatus(t, err); status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}

	closed := TicketClosed
	view, err := svc.UpdateTicket(context.Background(), customer, "tkt-1", TicketUpdateInput{Status: &closed})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if view["status"] != TicketClosed {
		t.Fatalf("expected closed, got %v", view["status"])
	}
}

func TestCreateBookingValidation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	customer := signIn(t, svc, fs, "cust-1", "customer")
	fs.products["prd-room"] = store.Product{ID: "prd-room", OrgID: testOrgID, Name: "Room", Active: true, Bookable: true}
	fs.products["prd-book"] = store.Product{ID: "prd-book", OrgID: testOrgID, Name: "Book", Active: true}

	start := time.Now().Add(48 * time.Hour)
	tests := []struct {
		name string
		in   BookingInput
		code string
	}{
		{name: "end before start", in: BookingInput{ProductID: "prd-room", StartsAt: start, EndsAt: start.Add(-time.Hour)}, code: "VALIDATION_ERROR"},
		{name: "start in the past", in: BookingInput{ProductID: "prd-room", StartsAt: time.Now().Add(-time.Hour), EndsAt: time.Now()}, code: "VALIDATION_ERROR"},
		{name: "product not bookable", in: BookingInput{ProductID: "prd-book", StartsAt: start, EndsAt: start.Add(time.Hour)}, code: "NOT_BOOKABLE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateBooking(context.Background(), customer, tc.in)
			if _, code := domainStatus(t, err); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}

	view, err := svc.CreateBooking(context.Background(), customer, BookingInput{ProductID: "prd-room", StartsAt: start, EndsAt: start.Add(time.Hour)})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	if view["status"] != BookingPending {
		t.Fatalf("expected pending booking, got %v", view["status"])
	}
}

func TestCreateBookingOverlapIsConflict(t *testing.T) {
	fs := newFakeStore()
	fs.createBookingFn = func(context.Context, store.Booking) (store.Booking, error) {
		return store.Booking{}, store.ErrBookingConflict
	}
	svc := newTestService(fs)
	customer := signIn(t, svc, fs, "cust-1", "customer")
	fs.products["prd-room"] = store.Product{ID: "prd-room", OrgID: testOrgID, Active: true, Bookable: true}

	start := time.Now().Add(time.Hour)
	_, err := svc.CreateBooking(context.Background(), customer, BookingInput{ProductID: "prd-room", StartsAt: start, EndsAt: start.Add(time.Hour)})
	if status, code := domainStatus(t, err); status != http.StatusConflict || code != "BOOKING_CONFLICT" {
		t.Fatalf("expected 409 BOOKING_CONFLICT, got %d %s", status, code)
	}
}

func TestCancelBookingOwnerOnlyAndIdempotent(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	owner := signIn(t, svc, fs, "cust-1", "customer")
	other := signIn(t, svc, fs, "cust-2", "customer")
	fs.bookings["bkg-1"] = store.Booking{ID: "bkg-1", OrgID: testOrgID, ProfileID: owner.ProfileID, Status: BookingPending}

	_, err := svc.CancelBooking(context.Background(), other, "bkg-1")
	if status, _ := domainStatus(t, err); status != http.StatusNotFound {
		t.Fatalf("expected 404 for another customer, got %d", status)
	}
	for i := 0; i < 2; i++ {
		view, err := svc.CancelBooking(context.Background(), owner, "bkg-1")
		if err != nil {
			t.Fatalf("cancel #%d: %v", i+1, err)
		}
		if view["status"] != BookingCancelled {
			t.Fatalf("expected cancelled, got %v", view["status"])
		}
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	session := signIn(t, svc, fs, "cust-1", "customer")

	next, err := svc.Refresh(context.Background(), session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == session.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if _, err := svc.Refresh(context.Background(), session.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected reuse of old refresh token to fail, got %v", err)
	}
}

// gatedSessions holds every consumer until all of them have arrived, so the
// exchanges overlap as closely as the store allows.
type gatedSessions struct {
	*fakeSessions
	arrived sync.WaitGroup
}

func (g *gatedSessions) ConsumeRefreshSession(ctx context.Context, tokenHash string) (store.RefreshSession, error) {
	g.arrived.Done()
	g.arrived.Wait()
	return g.fakeSessions.ConsumeRefreshSession(ctx, tokenHash)
}

func TestRefreshTokenExchangedOnceUnderConcurrency(t *testing.T) {
	const callers = 2
	fs := newFakeStore()
	sessions := &gatedSessions{fakeSessions: newFakeSessions()}
	svc := newTestService(fs, func(d *Deps) { d.Sessions = sessions })
	session := signIn(t, svc, fs, "cust-1", "customer")
	sessions.arrived.Add(callers)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(context.Background(), session.RefreshToken)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, auth.ErrInvalidToken) {
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("refresh token exchanged %d times, want 1", succeeded)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	session := signIn(t, svc, fs, "cust-1", "customer")

	if _, err := svc.SessionFromToken(context.Background(), session.Token); err != nil {
		t.Fatalf("session before logout: %v", err)
	}
	if err := svc.Logout(context.Background(), session, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
}

func TestSessionFromTokenReloadsMembership(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	session := signIn(t, svc, fs, "staff-1", "agent")

	if _, err := fs.SetMemberRole(context.Background(), testOrgID, "staff-1", "customer"); err != nil {
		t.Fatal(err)
	}
	reloaded, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if reloaded.Role != "customer" {
		t.Fatalf("expected demoted role to apply, got %s", reloaded.Role)
	}

	fs.removeMember("staff-1")
	if _, err := svc.SessionFromToken(context.Background(), session.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected removed member to be rejected, got %v", err)
	}
}

func TestSetMemberRoleRejectsOwnRole(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	admin := signIn(t, svc, fs, "admin-1", "admin")

	err := svc.SetMemberRole(context.Background(), admin, admin.ProfileID, "customer")
	if _, code := domainStatus(t, err); code != "OWN_ROLE" {
		t.Fatalf("expected OWN_ROLE, got %s", code)
	}
	err = svc.SetMemberRole(context.Background(), admin, "someone", "wizard")
	if status, _ := domainStatus(t, err); status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid role, got %d", status)
	}
}

func TestPostsForcesPublishedForVisitors(t *testing.T) {
	fs := newFakeStore()
	var got store.PostFilter
	fs.listPostsFn = func(_ context.Context, _ string, filter store.PostFilter) ([]store.Post, error) {
		got = filter
		return nil, nil
	}
	svc := newTestService(fs)

	if _, err := svc.Posts(context.Background(), testOrgID, false, PostFilterInput{Status: PostDraft, Tag: " News "}); err != nil {
		t.Fatalf("posts: %v", err)
	}
	if got.Status != PostPublished || got.Tag != "news" {
		t.Fatalf("expected published/news filter, got %+v", got)
	}

	if _, err := svc.Posts(context.Background(), testOrgID, true, PostFilterInput{Status: PostDraft}); err != nil {
		t.Fatalf("posts: %v", err)
	}
	if got.Status != PostDraft {
		t.Fatalf("staff filter should pass through, got %q", got.Status)
	}
}

func TestPublishedPostHidesDrafts(t *testing.T) {
	fs := newFakeStore()
	fs.posts = []store.Post{
		{ID: "p1", OrgID: testOrgID, Slug: "draft", Status: PostDraft},
		{ID: "p2", OrgID: testOrgID, Slug: "live", Status: PostPublished, Content: []byte(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Hello"}]}]}`)},
	}
	svc := newTestService(fs)

	if _, err := svc.PublishedPost(context.Background(), testOrgID, "draft"); err == nil {
		t.Fatal("expected draft post to be hidden")
	}
	view, err := svc.PublishedPost(context.Background(), testOrgID, "live")
	if err != nil {
		t.Fatalf("published post: %v", err)
	}
	if view["html"] == "" {
		t.Fatal("expected rendered html")
	}
}

func TestPutCookieCategoryRequiredIsEnabled(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	admin := signIn(t, svc, fs, "admin-1", "admin")

	view, err := svc.PutCookieCategory(context.Background(), admin, "necessary", CookieCategoryInput{Name: "Necessary", Required: true})
	if err != nil {
		t.Fatalf("put category: %v", err)
	}
	if view["defaultEnabled"] != true {
		t.Fatalf("required category must be enabled by default, got %v", view["defaultEnabled"])
	}
	_, err = svc.PutCookieCategory(context.Background(), admin, "Bad Key!", CookieCategoryInput{Name: "x"})
	if status, _ := domainStatus(t, err); status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid key, got %d", status)
	}
}

func TestOptionalCollaboratorsReportUnavailable(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	session := signIn(t, svc, fs, "cust-1", "customer")

	_, err := svc.MediaURL(context.Background(), session, "org-acme/cust-1/a.png")
	if _, code := domainStatus(t, err); code != "MEDIA_UNAVAILABLE" {
		t.Fatalf("expected MEDIA_UNAVAILABLE, got %s", code)
	}
	_, err = svc.Checkout(context.Background(), session, CheckoutInput{PlanID: "pln-1"})
	if status, code := domainStatus(t, err); status != http.StatusServiceUnavailable || code != "PAYMENTS_UNAVAILABLE" {
		t.Fatalf("expected 503 PAYMENTS_UNAVAILABLE, got %d %s", status, code)
	}
	_, err = svc.SearchImages(context.Background(), "pexels", "cats", 10)
	if status, _ := domainStatus(t, err); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for integrations, got %d", status)
	}
	status := svc.IntegrationStatus()
	if status["payments"] || status["media"] || status["email"] {
		t.Fatalf("expected every integration off, got %v", status)
	}
}
